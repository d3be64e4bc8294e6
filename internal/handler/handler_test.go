package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/grouptoken-system/internal/middleware"
	"github.com/mmeshcher/grouptoken-system/internal/model"
	"github.com/mmeshcher/grouptoken-system/internal/repository"
	"github.com/mmeshcher/grouptoken-system/internal/service"
)

type stubService struct {
	group    *model.Group
	groupErr error

	groups    []model.Group
	groupsErr error

	membership    *model.GroupMembership
	membershipErr error

	members    []model.GroupMembership
	membersErr error

	balance    *model.CustomerBalance
	balanceErr error

	balances    []model.CustomerBalance
	balancesErr error

	transactions    []model.Transaction
	transactionsErr error
}

func (s *stubService) CreateGroup(ctx context.Context, shopID int64, spec model.GroupSpec) (*model.Group, error) {
	return s.group, s.groupErr
}

func (s *stubService) UpdateGroup(ctx context.Context, shopID, groupID int64, upd model.GroupUpdate) (*model.Group, error) {
	return s.group, s.groupErr
}

func (s *stubService) DeactivateGroup(ctx context.Context, shopID, groupID int64) (*model.Group, error) {
	return s.group, s.groupErr
}

func (s *stubService) GetGroup(ctx context.Context, groupID int64) (*model.Group, error) {
	return s.group, s.groupErr
}

func (s *stubService) GetGroupByInviteCode(ctx context.Context, code string) (*model.Group, error) {
	return s.group, s.groupErr
}

func (s *stubService) ListGroups(ctx context.Context, filter model.GroupFilter) ([]model.Group, error) {
	return s.groups, s.groupsErr
}

func (s *stubService) RequestMembership(ctx context.Context, groupID, shopID int64, message string) (*model.GroupMembership, error) {
	return s.membership, s.membershipErr
}

func (s *stubService) ApproveMembership(ctx context.Context, groupID, shopID, approverShop int64, role model.MembershipRole) (*model.GroupMembership, error) {
	return s.membership, s.membershipErr
}

func (s *stubService) RejectMembership(ctx context.Context, groupID, shopID, actorShop int64) error {
	return s.membershipErr
}

func (s *stubService) RemoveMembership(ctx context.Context, groupID, shopID, actorShop int64) error {
	return s.membershipErr
}

func (s *stubService) ListMembers(ctx context.Context, groupID int64, status *model.MembershipStatus) ([]model.GroupMembership, error) {
	return s.members, s.membersErr
}

func (s *stubService) ListGroupsForShop(ctx context.Context, shopID int64) ([]model.Group, error) {
	return s.groups, s.groupsErr
}

func (s *stubService) Earn(ctx context.Context, groupID, shopID int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) Redeem(ctx context.Context, groupID int64, shopID *int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) GetBalance(ctx context.Context, customer string, groupID int64) (*model.CustomerBalance, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) ListCustomerBalances(ctx context.Context, customer string) ([]model.CustomerBalance, error) {
	return s.balances, s.balancesErr
}

func (s *stubService) ListGroupTransactions(ctx context.Context, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	return s.transactions, s.transactionsErr
}

func (s *stubService) ListCustomerTransactions(ctx context.Context, customer string, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	return s.transactions, s.transactionsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	identity := middleware.NewIdentityMiddleware("test-secret")

	return NewHandler(svc, logger, identity)
}

func shopCookie(h *Handler, shopID int64) *http.Cookie {
	w := httptest.NewRecorder()
	h.identityMiddleware.SetIdentityCookie(w, middleware.Identity{
		Kind:   middleware.IdentityKindShop,
		ShopID: shopID,
	})
	return w.Result().Cookies()[0]
}

func customerCookie(h *Handler, customer string) *http.Cookie {
	w := httptest.NewRecorder()
	h.identityMiddleware.SetIdentityCookie(w, middleware.Identity{
		Kind:     middleware.IdentityKindCustomer,
		Customer: customer,
	})
	return w.Result().Cookies()[0]
}

func doJSON(t *testing.T, h *Handler, method, path string, cookie *http.Cookie, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func testGroup() *model.Group {
	return &model.Group{
		ID:            1,
		Name:          "g1",
		TokenName:     "Turn A Point",
		TokenSymbol:   "TAP",
		CreatedByShop: 5,
		Visibility:    model.GroupVisibilityPublic,
		InviteCode:    "ABCDEF2345",
		Active:        true,
	}
}

func TestCreateGroup(t *testing.T) {
	svc := &stubService{group: testGroup()}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups", shopCookie(h, 5), map[string]any{
		"name":         "g1",
		"token_name":   "Turn A Point",
		"token_symbol": "TAP",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["token_symbol"] != "TAP" {
		t.Fatalf("token_symbol = %v, want TAP", resp["token_symbol"])
	}
	if resp["invite_code"] != "ABCDEF2345" {
		t.Fatalf("invite_code = %v, want ABCDEF2345", resp["invite_code"])
	}
}

func TestCreateGroup_CustomerForbidden(t *testing.T) {
	h := newTestHandler(t, &stubService{group: testGroup()})

	rec := doJSON(t, h, http.MethodPost, "/api/groups", customerCookie(h, "0xabc"), map[string]any{
		"name": "g1", "token_name": "Point", "token_symbol": "TAP",
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCreateGroup_InvalidSpec(t *testing.T) {
	svc := &stubService{groupErr: service.ErrInvalidGroupSpec}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups", shopCookie(h, 5), map[string]any{
		"name": "g1",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreateGroup_NoIdentity(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(t, h, http.MethodPost, "/api/groups", nil, map[string]any{"name": "g1"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetGroup_NotFound(t *testing.T) {
	svc := &stubService{groupErr: repository.ErrGroupNotFound}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/api/groups/99", shopCookie(h, 5), nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRequestMembership_Conflict(t *testing.T) {
	svc := &stubService{membershipErr: repository.ErrMembershipExists}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/memberships", shopCookie(h, 7), nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestApproveMembership_InvalidState(t *testing.T) {
	svc := &stubService{membershipErr: repository.ErrInvalidMembershipState}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/memberships/7/approve", shopCookie(h, 5), nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestApproveMembership_NotAdministrator(t *testing.T) {
	svc := &stubService{membershipErr: service.ErrNotGroupAdministrator}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/memberships/7/approve", shopCookie(h, 9), nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestEarn(t *testing.T) {
	svc := &stubService{balance: &model.CustomerBalance{
		Customer: "c1", GroupID: 1, Balance: 50, LifetimeEarned: 50,
	}}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/earn", shopCookie(h, 7), map[string]any{
		"customer": "c1",
		"amount":   50,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Balance != 50 || resp.LifetimeEarned != 50 {
		t.Fatalf("unexpected balance: %+v", resp)
	}
}

func TestEarn_NonMemberForbidden(t *testing.T) {
	svc := &stubService{balanceErr: service.ErrNotActiveMember}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/earn", shopCookie(h, 7), map[string]any{
		"customer": "c1",
		"amount":   50,
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestEarn_BadAmount(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/earn", shopCookie(h, 7), map[string]any{
		"customer": "c1",
		"amount":   -10,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	svc := &stubService{balanceErr: repository.ErrInsufficientBalance}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/redeem", customerCookie(h, "c1"), map[string]any{
		"amount": 70,
	})

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestRedeem_ShopOnBehalfOfCustomer(t *testing.T) {
	svc := &stubService{balance: &model.CustomerBalance{
		Customer: "c1", GroupID: 1, Balance: 30, LifetimeEarned: 50, LifetimeRedeemed: 20,
	}}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/redeem", shopCookie(h, 7), map[string]any{
		"customer": "c1",
		"amount":   20,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestRedeem_ShopWithoutCustomer(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/redeem", shopCookie(h, 7), map[string]any{
		"amount": 20,
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRedeem_LockTimeout(t *testing.T) {
	svc := &stubService{balanceErr: repository.ErrLockTimeout}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodPost, "/api/groups/1/redeem", customerCookie(h, "c1"), map[string]any{
		"amount": 10,
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGetBalance(t *testing.T) {
	svc := &stubService{balance: &model.CustomerBalance{
		Customer: "c1", GroupID: 1, Balance: 30, LifetimeEarned: 50, LifetimeRedeemed: 20,
	}}
	h := newTestHandler(t, svc)

	rec := doJSON(t, h, http.MethodGet, "/api/groups/1/balance", customerCookie(h, "c1"), nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Balance != 30 || resp.LifetimeRedeemed != 20 {
		t.Fatalf("unexpected balance: %+v", resp)
	}
}

func TestGetCustomerBalances_Empty(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(t, h, http.MethodGet, "/api/customer/balances", customerCookie(h, "c1"), nil)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestGetGroupTransactions_BadDirection(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doJSON(t, h, http.MethodGet, "/api/groups/1/transactions?direction=sideways", shopCookie(h, 5), nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
