// Package service реализует бизнес-логику сервиса групповой лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/grouptoken-system/internal/model"
	"github.com/mmeshcher/grouptoken-system/internal/repository"
	"github.com/mmeshcher/grouptoken-system/internal/shopdir"
	"github.com/mmeshcher/grouptoken-system/internal/validation"
)

// ErrInvalidGroupSpec возвращается при создании группы с незаполненными обязательными полями.
var (
	ErrInvalidGroupSpec = errors.New("group token name and symbol are required")
	// ErrShopNotFound возвращается, если магазин не найден в справочнике магазинов.
	ErrShopNotFound = errors.New("shop not found in directory")
	// ErrNotGroupAdministrator возвращается, если действие требует прав администратора группы.
	ErrNotGroupAdministrator = errors.New("shop is not a group administrator")
	// ErrNotActiveMember возвращается при попытке начисления магазином, не состоящим в группе.
	ErrNotActiveMember = errors.New("shop is not an active group member")
)

// Число попыток сгенерировать уникальный инвайт-код.
const inviteCodeAttempts = 3

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateGroup(ctx context.Context, createdByShop int64, spec model.GroupSpec, inviteCode string) (*model.Group, error)
	UpdateGroup(ctx context.Context, groupID int64, upd model.GroupUpdate) (*model.Group, error)
	GetGroupByID(ctx context.Context, groupID int64) (*model.Group, error)
	GetGroupByInviteCode(ctx context.Context, inviteCode string) (*model.Group, error)
	ListGroups(ctx context.Context, filter model.GroupFilter) ([]model.Group, error)
	CreateMembershipRequest(ctx context.Context, groupID, shopID int64, message string) (*model.GroupMembership, error)
	ApproveMembership(ctx context.Context, groupID, shopID, approvedBy int64, role model.MembershipRole) (*model.GroupMembership, error)
	RejectMembership(ctx context.Context, groupID, shopID int64) error
	RemoveMembership(ctx context.Context, groupID, shopID int64) error
	GetActiveMembership(ctx context.Context, groupID, shopID int64) (*model.GroupMembership, error)
	IsActiveMember(ctx context.Context, groupID, shopID int64) (bool, error)
	ListMembers(ctx context.Context, groupID int64, status *model.MembershipStatus) ([]model.GroupMembership, error)
	ListGroupsForShop(ctx context.Context, shopID int64) ([]model.Group, error)
	GetBalance(ctx context.Context, customer string, groupID int64) (*model.CustomerBalance, error)
	Mutate(ctx context.Context, mut model.Mutation) (*model.CustomerBalance, error)
	ListCustomerBalances(ctx context.Context, customer string) ([]model.CustomerBalance, error)
	ListGroupTransactions(ctx context.Context, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error)
	ListCustomerTransactions(ctx context.Context, customer string, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error)
}

// Service содержит бизнес-логику сервиса групповой лояльности.
type Service struct {
	repo    Repository
	shopDir *shopdir.Client
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом справочника магазинов.
func NewService(repo Repository, shopDir *shopdir.Client) *Service {
	return &Service{
		repo:    repo,
		shopDir: shopDir,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// verifyShop проверяет магазин во внешнем справочнике.
// Без настроенного клиента проверка пропускается: идентификатор считается
// уже проверенным вызывающей стороной.
func (s *Service) verifyShop(ctx context.Context, shopID int64) error {
	if s.shopDir == nil {
		return nil
	}

	shop, _, _, err := s.shopDir.GetShop(ctx, shopID)
	if err != nil {
		return fmt.Errorf("verify shop: %w", err)
	}
	if shop == nil || !shop.Active {
		return fmt.Errorf("%w: %d", ErrShopNotFound, shopID)
	}
	return nil
}

// CreateGroup создаёт новую группу от имени магазина-создателя.
func (s *Service) CreateGroup(ctx context.Context, shopID int64, spec model.GroupSpec) (*model.Group, error) {
	if strings.TrimSpace(spec.TokenName) == "" || strings.TrimSpace(spec.TokenSymbol) == "" {
		return nil, ErrInvalidGroupSpec
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, ErrInvalidGroupSpec
	}
	switch spec.Visibility {
	case "":
		spec.Visibility = model.GroupVisibilityPublic
	case model.GroupVisibilityPublic, model.GroupVisibilityPrivate:
	default:
		return nil, ErrInvalidGroupSpec
	}

	if err := s.verifyShop(ctx, shopID); err != nil {
		return nil, err
	}

	// Коллизия кода крайне маловероятна, но уникальный индекс её поймает —
	// тогда генерируем заново.
	var lastErr error
	for i := 0; i < inviteCodeAttempts; i++ {
		code, err := validation.GenerateInviteCode()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}

		g, err := s.repo.CreateGroup(ctx, shopID, spec, code)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, repository.ErrInviteCodeExists) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// UpdateGroup изменяет поля группы. Допускается только для администратора группы.
func (s *Service) UpdateGroup(ctx context.Context, shopID, groupID int64, upd model.GroupUpdate) (*model.Group, error) {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if err := s.requireAdministrator(ctx, g, shopID); err != nil {
		return nil, err
	}

	return s.repo.UpdateGroup(ctx, groupID, upd)
}

// DeactivateGroup выключает группу, сохраняя её историю и балансы доступными для чтения.
func (s *Service) DeactivateGroup(ctx context.Context, shopID, groupID int64) (*model.Group, error) {
	active := false
	return s.UpdateGroup(ctx, shopID, groupID, model.GroupUpdate{Active: &active})
}

func (s *Service) requireAdministrator(ctx context.Context, g *model.Group, shopID int64) error {
	if g.CreatedByShop == shopID {
		return nil
	}

	m, err := s.repo.GetActiveMembership(ctx, g.ID, shopID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return ErrNotGroupAdministrator
		}
		return err
	}
	if m.Role != model.MembershipRoleAdministrator {
		return ErrNotGroupAdministrator
	}
	return nil
}

// GetGroup возвращает группу по идентификатору.
func (s *Service) GetGroup(ctx context.Context, groupID int64) (*model.Group, error) {
	return s.repo.GetGroupByID(ctx, groupID)
}

// GetGroupByInviteCode возвращает группу по инвайт-коду.
func (s *Service) GetGroupByInviteCode(ctx context.Context, code string) (*model.Group, error) {
	code = validation.NormalizeInviteCode(code)
	if !validation.IsValidInviteCode(code) {
		return nil, repository.ErrGroupNotFound
	}
	return s.repo.GetGroupByInviteCode(ctx, code)
}

// ListGroups возвращает страницу каталога групп.
func (s *Service) ListGroups(ctx context.Context, filter model.GroupFilter) ([]model.Group, error) {
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.repo.ListGroups(ctx, filter)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// RequestMembership создаёт заявку магазина на вступление в группу.
// Если группа включила автоодобрение, заявка сразу переводится в active.
func (s *Service) RequestMembership(ctx context.Context, groupID, shopID int64, message string) (*model.GroupMembership, error) {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, repository.ErrGroupInactive
	}

	if err := s.verifyShop(ctx, shopID); err != nil {
		return nil, err
	}

	m, err := s.repo.CreateMembershipRequest(ctx, groupID, shopID, message)
	if err != nil {
		return nil, err
	}

	if g.AutoApprove {
		return s.repo.ApproveMembership(ctx, groupID, shopID, g.CreatedByShop, model.MembershipRoleMember)
	}

	return m, nil
}

// ApproveMembership одобряет заявку магазина от имени администратора группы.
func (s *Service) ApproveMembership(ctx context.Context, groupID, shopID, approverShop int64, role model.MembershipRole) (*model.GroupMembership, error) {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdministrator(ctx, g, approverShop); err != nil {
		return nil, err
	}

	if role == "" {
		role = model.MembershipRoleMember
	}

	return s.repo.ApproveMembership(ctx, groupID, shopID, approverShop, role)
}

// RejectMembership отклоняет заявку магазина.
func (s *Service) RejectMembership(ctx context.Context, groupID, shopID, actorShop int64) error {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.requireAdministrator(ctx, g, actorShop); err != nil {
		return err
	}

	return s.repo.RejectMembership(ctx, groupID, shopID)
}

// RemoveMembership исключает магазин из группы.
func (s *Service) RemoveMembership(ctx context.Context, groupID, shopID, actorShop int64) error {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	// Магазин может покинуть группу сам, для остальных нужны права администратора.
	if actorShop != shopID {
		if err := s.requireAdministrator(ctx, g, actorShop); err != nil {
			return err
		}
	}

	return s.repo.RemoveMembership(ctx, groupID, shopID)
}

// IsActiveMember сообщает, является ли магазин активным участником группы.
func (s *Service) IsActiveMember(ctx context.Context, groupID, shopID int64) (bool, error) {
	return s.repo.IsActiveMember(ctx, groupID, shopID)
}

// ListMembers возвращает заявки и членства группы.
func (s *Service) ListMembers(ctx context.Context, groupID int64, status *model.MembershipStatus) ([]model.GroupMembership, error) {
	if _, err := s.repo.GetGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, groupID, status)
}

// ListGroupsForShop возвращает группы, в которых магазин активно состоит.
func (s *Service) ListGroupsForShop(ctx context.Context, shopID int64) ([]model.Group, error) {
	return s.repo.ListGroupsForShop(ctx, shopID)
}

// Earn начисляет баллы покупателю от имени магазина-участника группы.
func (s *Service) Earn(ctx context.Context, groupID, shopID int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error) {
	if amount <= 0 {
		return nil, errors.New("earn amount must be positive")
	}
	if customer == "" {
		return nil, errors.New("customer is required")
	}

	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, repository.ErrGroupInactive
	}

	// Единственные ворота для начислений: магазин обязан активно состоять в группе.
	active, err := s.repo.IsActiveMember(ctx, groupID, shopID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: shop %d in group %d", ErrNotActiveMember, shopID, groupID)
	}

	return s.repo.Mutate(ctx, model.Mutation{
		Customer:  customer,
		GroupID:   groupID,
		ShopID:    &shopID,
		Direction: model.TransactionDirectionEarn,
		Amount:    amount,
		Reason:    reason,
		Metadata:  metadata,
	})
}

// Redeem списывает баллы покупателя в группе.
func (s *Service) Redeem(ctx context.Context, groupID int64, shopID *int64, customer string, amount int64, reason string, metadata map[string]string) (*model.CustomerBalance, error) {
	if amount <= 0 {
		return nil, errors.New("redeem amount must be positive")
	}
	if customer == "" {
		return nil, errors.New("customer is required")
	}

	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, repository.ErrGroupInactive
	}

	return s.repo.Mutate(ctx, model.Mutation{
		Customer:  customer,
		GroupID:   groupID,
		ShopID:    shopID,
		Direction: model.TransactionDirectionRedeem,
		Amount:    amount,
		Reason:    reason,
		Metadata:  metadata,
	})
}

// GetBalance возвращает баланс покупателя в группе.
// Чтение доступно и для деактивированной группы: история должна разрешаться.
func (s *Service) GetBalance(ctx context.Context, customer string, groupID int64) (*model.CustomerBalance, error) {
	if _, err := s.repo.GetGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.GetBalance(ctx, customer, groupID)
}

// ListCustomerBalances возвращает ненулевые балансы покупателя по всем группам.
func (s *Service) ListCustomerBalances(ctx context.Context, customer string) ([]model.CustomerBalance, error) {
	return s.repo.ListCustomerBalances(ctx, customer)
}

// ListGroupTransactions возвращает страницу истории операций группы.
func (s *Service) ListGroupTransactions(ctx context.Context, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	if _, err := s.repo.GetGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.repo.ListGroupTransactions(ctx, groupID, filter)
}

// ListCustomerTransactions возвращает страницу истории операций покупателя в группе.
func (s *Service) ListCustomerTransactions(ctx context.Context, customer string, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	if _, err := s.repo.GetGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)
	return s.repo.ListCustomerTransactions(ctx, customer, groupID, filter)
}
