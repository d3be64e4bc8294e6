// Package handler содержит HTTP-обработчики API сервиса групповой лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/grouptoken-system/internal/middleware"
	"github.com/mmeshcher/grouptoken-system/internal/model"
	"github.com/mmeshcher/grouptoken-system/internal/repository"
	"github.com/mmeshcher/grouptoken-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateGroup(ctx context.Context, shopID int64, spec model.GroupSpec) (*model.Group, error)
	UpdateGroup(ctx context.Context, shopID, groupID int64, upd model.GroupUpdate) (*model.Group, error)
	DeactivateGroup(ctx context.Context, shopID, groupID int64) (*model.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*model.Group, error)
	GetGroupByInviteCode(ctx context.Context, code string) (*model.Group, error)
	ListGroups(ctx context.Context, filter model.GroupFilter) ([]model.Group, error)
	RequestMembership(ctx context.Context, groupID, shopID int64, message string) (*model.GroupMembership, error)
	ApproveMembership(ctx context.Context, groupID, shopID, approverShop int64, role model.MembershipRole) (*model.GroupMembership, error)
	RejectMembership(ctx context.Context, groupID, shopID, actorShop int64) error
	RemoveMembership(ctx context.Context, groupID, shopID, actorShop int64) error
	ListMembers(ctx context.Context, groupID int64, status *model.MembershipStatus) ([]model.GroupMembership, error)
	ListGroupsForShop(ctx context.Context, shopID int64) ([]model.Group, error)
	Earn(ctx context.Context, groupID, shopID int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error)
	Redeem(ctx context.Context, groupID int64, shopID *int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error)
	GetBalance(ctx context.Context, customer string, groupID int64) (*model.CustomerBalance, error)
	ListCustomerBalances(ctx context.Context, customer string) ([]model.CustomerBalance, error)
	ListGroupTransactions(ctx context.Context, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error)
	ListCustomerTransactions(ctx context.Context, customer string, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error)
}

// Handler реализует HTTP-обработчики API сервиса групповой лояльности.
type Handler struct {
	service            Service
	logger             *zap.Logger
	identityMiddleware *middleware.IdentityMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, identity *middleware.IdentityMiddleware) *Handler {
	return &Handler{
		service:            s,
		logger:             logger,
		identityMiddleware: identity,
	}
}

// writeServiceError транслирует ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, repository.ErrGroupNotFound), errors.Is(err, repository.ErrMembershipNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrInviteCodeExists),
		errors.Is(err, repository.ErrMembershipExists),
		errors.Is(err, repository.ErrInvalidMembershipState),
		errors.Is(err, repository.ErrGroupInactive):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrLockTimeout):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, service.ErrInvalidGroupSpec):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, service.ErrShopNotFound):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrNotGroupAdministrator), errors.Is(err, service.ErrNotActiveMember):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func groupIDFromURL(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	return id, err == nil && id > 0
}

func shopIDFromURL(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "shopID"), 10, 64)
	return id, err == nil && id > 0
}

type groupResponse struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	TokenName     string   `json:"token_name"`
	TokenSymbol   string   `json:"token_symbol"`
	TokenValueUSD *float64 `json:"token_value_usd,omitempty"`
	CreatedByShop int64    `json:"created_by_shop"`
	Visibility    string   `json:"visibility"`
	LogoURL       string   `json:"logo_url,omitempty"`
	InviteCode    string   `json:"invite_code"`
	AutoApprove   bool     `json:"auto_approve"`
	Active        bool     `json:"active"`
	CreatedAt     string   `json:"created_at"`
}

func toGroupResponse(g *model.Group) groupResponse {
	resp := groupResponse{
		ID:            g.ID,
		Name:          g.Name,
		Description:   g.Description,
		TokenName:     g.TokenName,
		TokenSymbol:   g.TokenSymbol,
		CreatedByShop: g.CreatedByShop,
		Visibility:    string(g.Visibility),
		LogoURL:       g.LogoURL,
		InviteCode:    g.InviteCode,
		AutoApprove:   g.AutoApprove,
		Active:        g.Active,
		CreatedAt:     g.CreatedAt.Format(time.RFC3339),
	}
	if g.TokenValueCents != nil {
		v := float64(*g.TokenValueCents) / 100
		resp.TokenValueUSD = &v
	}
	return resp
}

type createGroupRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	TokenName     string   `json:"token_name"`
	TokenSymbol   string   `json:"token_symbol"`
	TokenValueUSD *float64 `json:"token_value_usd"`
	Visibility    string   `json:"visibility"`
	LogoURL       string   `json:"logo_url"`
	AutoApprove   bool     `json:"auto_approve"`
}

// CreateGroup создаёт новую группу от имени действующего магазина.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	spec := model.GroupSpec{
		Name:        req.Name,
		Description: req.Description,
		TokenName:   req.TokenName,
		TokenSymbol: req.TokenSymbol,
		Visibility:  model.GroupVisibility(req.Visibility),
		LogoURL:     req.LogoURL,
		AutoApprove: req.AutoApprove,
	}
	if req.TokenValueUSD != nil {
		cents := int64(*req.TokenValueUSD * 100)
		spec.TokenValueCents = &cents
	}

	g, err := h.service.CreateGroup(r.Context(), shopID, spec)
	if err != nil {
		h.writeServiceError(w, err, "create group error", zap.Int64("shopID", shopID))
		return
	}

	writeJSON(w, http.StatusCreated, toGroupResponse(g))
}

type updateGroupRequest struct {
	Name          *string  `json:"name"`
	Description   *string  `json:"description"`
	TokenName     *string  `json:"token_name"`
	TokenSymbol   *string  `json:"token_symbol"`
	TokenValueUSD *float64 `json:"token_value_usd"`
	Visibility    *string  `json:"visibility"`
	LogoURL       *string  `json:"logo_url"`
	AutoApprove   *bool    `json:"auto_approve"`
	Active        *bool    `json:"active"`
}

// UpdateGroup изменяет разрешённые поля группы.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	upd := model.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		TokenName:   req.TokenName,
		TokenSymbol: req.TokenSymbol,
		LogoURL:     req.LogoURL,
		AutoApprove: req.AutoApprove,
		Active:      req.Active,
	}
	if req.TokenValueUSD != nil {
		cents := int64(*req.TokenValueUSD * 100)
		upd.TokenValueCents = &cents
	}
	if req.Visibility != nil {
		v := model.GroupVisibility(*req.Visibility)
		if v != model.GroupVisibilityPublic && v != model.GroupVisibilityPrivate {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		upd.Visibility = &v
	}

	g, err := h.service.UpdateGroup(r.Context(), shopID, groupID, upd)
	if err != nil {
		h.writeServiceError(w, err, "update group error", zap.Int64("groupID", groupID))
		return
	}

	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// DeactivateGroup выключает группу, оставляя историю доступной для чтения.
func (h *Handler) DeactivateGroup(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	g, err := h.service.DeactivateGroup(r.Context(), shopID, groupID)
	if err != nil {
		h.writeServiceError(w, err, "deactivate group error", zap.Int64("groupID", groupID))
		return
	}

	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// GetGroup возвращает группу по идентификатору.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	g, err := h.service.GetGroup(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, err, "get group error", zap.Int64("groupID", groupID))
		return
	}

	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// GetGroupByInviteCode возвращает группу по инвайт-коду.
func (h *Handler) GetGroupByInviteCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	g, err := h.service.GetGroupByInviteCode(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err, "get group by invite code error")
		return
	}

	writeJSON(w, http.StatusOK, toGroupResponse(g))
}

// ListGroups возвращает страницу каталога групп.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	filter := model.GroupFilter{}

	if v := r.URL.Query().Get("visibility"); v != "" {
		vis := model.GroupVisibility(v)
		if vis != model.GroupVisibilityPublic && vis != model.GroupVisibilityPrivate {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Visibility = &vis
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	groups, err := h.service.ListGroups(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "list groups error")
		return
	}

	resp := make([]groupResponse, 0, len(groups))
	for i := range groups {
		resp = append(resp, toGroupResponse(&groups[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type membershipResponse struct {
	GroupID     int64  `json:"group_id"`
	ShopID      int64  `json:"shop_id"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	RequestedAt string `json:"requested_at"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	ApprovedBy  *int64 `json:"approved_by,omitempty"`
	RemovedAt   string `json:"removed_at,omitempty"`
}

func toMembershipResponse(m *model.GroupMembership) membershipResponse {
	resp := membershipResponse{
		GroupID:     m.GroupID,
		ShopID:      m.ShopID,
		Role:        string(m.Role),
		Status:      string(m.Status),
		Message:     m.Message,
		RequestedAt: m.RequestedAt.Format(time.RFC3339),
		ApprovedBy:  m.ApprovedBy,
	}
	if m.ApprovedAt != nil {
		resp.ApprovedAt = m.ApprovedAt.Format(time.RFC3339)
	}
	if m.RemovedAt != nil {
		resp.RemovedAt = m.RemovedAt.Format(time.RFC3339)
	}
	return resp
}

type requestMembershipRequest struct {
	Message string `json:"message"`
}

// RequestMembership создаёт заявку действующего магазина на вступление в группу.
func (h *Handler) RequestMembership(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req requestMembershipRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	m, err := h.service.RequestMembership(r.Context(), groupID, shopID, req.Message)
	if err != nil {
		h.writeServiceError(w, err, "request membership error",
			zap.Int64("groupID", groupID), zap.Int64("shopID", shopID))
		return
	}

	writeJSON(w, http.StatusCreated, toMembershipResponse(m))
}

type approveMembershipRequest struct {
	Role string `json:"role"`
}

// ApproveMembership одобряет заявку магазина на вступление в группу.
func (h *Handler) ApproveMembership(w http.ResponseWriter, r *http.Request) {
	approverShop, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	shopID, ok := shopIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req approveMembershipRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	role := model.MembershipRole(req.Role)
	if role != "" && role != model.MembershipRoleMember && role != model.MembershipRoleAdministrator {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	m, err := h.service.ApproveMembership(r.Context(), groupID, shopID, approverShop, role)
	if err != nil {
		h.writeServiceError(w, err, "approve membership error",
			zap.Int64("groupID", groupID), zap.Int64("shopID", shopID))
		return
	}

	writeJSON(w, http.StatusOK, toMembershipResponse(m))
}

// RejectMembership отклоняет заявку магазина на вступление в группу.
func (h *Handler) RejectMembership(w http.ResponseWriter, r *http.Request) {
	actorShop, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	shopID, ok := shopIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RejectMembership(r.Context(), groupID, shopID, actorShop); err != nil {
		h.writeServiceError(w, err, "reject membership error",
			zap.Int64("groupID", groupID), zap.Int64("shopID", shopID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveMembership исключает магазин из группы.
func (h *Handler) RemoveMembership(w http.ResponseWriter, r *http.Request) {
	actorShop, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	shopID, ok := shopIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveMembership(r.Context(), groupID, shopID, actorShop); err != nil {
		h.writeServiceError(w, err, "remove membership error",
			zap.Int64("groupID", groupID), zap.Int64("shopID", shopID))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ListMembers возвращает заявки и членства группы.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var status *model.MembershipStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.MembershipStatus(v)
		switch s {
		case model.MembershipStatusPending, model.MembershipStatusActive,
			model.MembershipStatusRejected, model.MembershipStatusRemoved:
			status = &s
		default:
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	members, err := h.service.ListMembers(r.Context(), groupID, status)
	if err != nil {
		h.writeServiceError(w, err, "list members error", zap.Int64("groupID", groupID))
		return
	}

	resp := make([]membershipResponse, 0, len(members))
	for i := range members {
		resp = append(resp, toMembershipResponse(&members[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetShopGroups возвращает группы, в которых состоит действующий магазин.
func (h *Handler) GetShopGroups(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groups, err := h.service.ListGroupsForShop(r.Context(), shopID)
	if err != nil {
		h.writeServiceError(w, err, "list shop groups error", zap.Int64("shopID", shopID))
		return
	}

	resp := make([]groupResponse, 0, len(groups))
	for i := range groups {
		resp = append(resp, toGroupResponse(&groups[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Customer          string `json:"customer"`
	GroupID           int64  `json:"group_id"`
	Balance           int64  `json:"balance"`
	LifetimeEarned    int64  `json:"lifetime_earned"`
	LifetimeRedeemed  int64  `json:"lifetime_redeemed"`
	LastTransactionAt string `json:"last_transaction_at,omitempty"`
}

func toBalanceResponse(b *model.CustomerBalance) balanceResponse {
	resp := balanceResponse{
		Customer:         b.Customer,
		GroupID:          b.GroupID,
		Balance:          b.Balance,
		LifetimeEarned:   b.LifetimeEarned,
		LifetimeRedeemed: b.LifetimeRedeemed,
	}
	if b.LastTransactionAt != nil {
		resp.LastTransactionAt = b.LastTransactionAt.Format(time.RFC3339)
	}
	return resp
}

type earnRequest struct {
	Customer string            `json:"customer"`
	Amount   int64             `json:"amount"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// Earn начисляет баллы покупателю от имени действующего магазина.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	shopID, ok := middleware.GetShopFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Customer == "" || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.Earn(r.Context(), groupID, shopID, req.Customer, req.Amount, req.Reason, req.Metadata)
	if err != nil {
		h.writeServiceError(w, err, "earn error",
			zap.Int64("groupID", groupID), zap.Int64("shopID", shopID))
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(b))
}

type redeemRequest struct {
	Customer string            `json:"customer"`
	Amount   int64             `json:"amount"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// Redeem списывает баллы покупателя в группе. Операцию инициирует либо сам
// покупатель, либо магазин на кассе от его имени.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var customer string
	var shopID *int64

	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	switch identity.Kind {
	case middleware.IdentityKindCustomer:
		customer = identity.Customer
	case middleware.IdentityKindShop:
		id := identity.ShopID
		shopID = &id
		customer = req.Customer
	}

	if customer == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.Redeem(r.Context(), groupID, shopID, customer, req.Amount, req.Reason, req.Metadata)
	if err != nil {
		h.writeServiceError(w, err, "redeem error", zap.Int64("groupID", groupID))
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(b))
}

// GetBalance возвращает баланс действующего покупателя в группе.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetCustomerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.GetBalance(r.Context(), customer, groupID)
	if err != nil {
		h.writeServiceError(w, err, "get balance error", zap.Int64("groupID", groupID))
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(b))
}

// GetCustomerBalances возвращает ненулевые балансы действующего покупателя.
func (h *Handler) GetCustomerBalances(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetCustomerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	balances, err := h.service.ListCustomerBalances(r.Context(), customer)
	if err != nil {
		h.writeServiceError(w, err, "list customer balances error")
		return
	}

	if len(balances) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]balanceResponse, 0, len(balances))
	for i := range balances {
		resp = append(resp, toBalanceResponse(&balances[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	ID            int64             `json:"id"`
	GroupID       int64             `json:"group_id"`
	Customer      string            `json:"customer"`
	ShopID        *int64            `json:"shop_id,omitempty"`
	Direction     string            `json:"direction"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Reason        string            `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		GroupID:       t.GroupID,
		Customer:      t.Customer,
		ShopID:        t.ShopID,
		Direction:     string(t.Direction),
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Reason:        t.Reason,
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

func transactionFilterFromQuery(r *http.Request) (model.TransactionFilter, bool) {
	filter := model.TransactionFilter{}

	if v := r.URL.Query().Get("direction"); v != "" {
		d := model.TransactionDirection(v)
		if d != model.TransactionDirectionEarn && d != model.TransactionDirectionRedeem {
			return filter, false
		}
		filter.Direction = &d
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	return filter, true
}

// GetGroupTransactions возвращает историю операций группы.
func (h *Handler) GetGroupTransactions(w http.ResponseWriter, r *http.Request) {
	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	filter, ok := transactionFilterFromQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	transactions, err := h.service.ListGroupTransactions(r.Context(), groupID, filter)
	if err != nil {
		h.writeServiceError(w, err, "list group transactions error", zap.Int64("groupID", groupID))
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, toTransactionResponse(&transactions[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCustomerTransactions возвращает историю операций действующего покупателя в группе.
func (h *Handler) GetCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetCustomerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	groupID, ok := groupIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	filter, ok := transactionFilterFromQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	transactions, err := h.service.ListCustomerTransactions(r.Context(), customer, groupID, filter)
	if err != nil {
		h.writeServiceError(w, err, "list customer transactions error", zap.Int64("groupID", groupID))
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, toTransactionResponse(&transactions[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}
