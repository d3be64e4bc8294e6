// Package model содержит доменные сущности сервиса групповой лояльности.
package model

import "time"

// GroupVisibility описывает видимость группы в каталоге.
type GroupVisibility string

const (
	GroupVisibilityPublic  GroupVisibility = "public"
	GroupVisibilityPrivate GroupVisibility = "private"
)

// MembershipRole описывает роль магазина внутри группы.
type MembershipRole string

const (
	MembershipRoleAdministrator MembershipRole = "administrator"
	MembershipRoleMember        MembershipRole = "member"
)

// MembershipStatus описывает состояние заявки магазина на участие в группе.
type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusRejected MembershipStatus = "rejected"
	MembershipStatusRemoved  MembershipStatus = "removed"
)

// Terminal сообщает, является ли статус заявки конечным.
// Из конечного статуса переходы невозможны: повторное вступление
// оформляется новой заявкой.
func (s MembershipStatus) Terminal() bool {
	return s == MembershipStatusRejected || s == MembershipStatusRemoved
}

// TransactionDirection описывает направление операции с баллами.
type TransactionDirection string

const (
	TransactionDirectionEarn   TransactionDirection = "earn"
	TransactionDirectionRedeem TransactionDirection = "redeem"
)

// Group представляет объединение магазинов с общей бонусной валютой.
type Group struct {
	ID              int64
	Name            string
	Description     string
	TokenName       string
	TokenSymbol     string
	TokenValueCents *int64
	CreatedByShop   int64
	Visibility      GroupVisibility
	LogoURL         string
	InviteCode      string
	AutoApprove     bool
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GroupSpec содержит параметры создания новой группы.
type GroupSpec struct {
	Name            string
	Description     string
	TokenName       string
	TokenSymbol     string
	TokenValueCents *int64
	Visibility      GroupVisibility
	LogoURL         string
	AutoApprove     bool
}

// GroupUpdate содержит изменяемые поля группы. Nil-поля не изменяются.
type GroupUpdate struct {
	Name            *string
	Description     *string
	TokenName       *string
	TokenSymbol     *string
	TokenValueCents *int64
	Visibility      *GroupVisibility
	LogoURL         *string
	AutoApprove     *bool
	Active          *bool
}

// GroupFilter задаёт параметры выборки групп из каталога.
type GroupFilter struct {
	Visibility *GroupVisibility
	Active     *bool
	Page       int
	Limit      int
}

// GroupMembership описывает связь магазина с группой и её жизненный цикл.
type GroupMembership struct {
	ID          int64
	GroupID     int64
	ShopID      int64
	Role        MembershipRole
	Status      MembershipStatus
	Message     string
	RequestedAt time.Time
	ApprovedAt  *time.Time
	ApprovedBy  *int64
	RemovedAt   *time.Time
}

// CustomerBalance содержит баланс покупателя в рамках одной группы.
type CustomerBalance struct {
	Customer          string
	GroupID           int64
	Balance           int64
	LifetimeEarned    int64
	LifetimeRedeemed  int64
	LastTransactionAt *time.Time
}

// Transaction описывает одну неизменяемую операцию начисления или списания.
type Transaction struct {
	ID            int64
	GroupID       int64
	Customer      string
	ShopID        *int64
	Direction     TransactionDirection
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Reason        string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// Mutation содержит параметры одной операции изменения баланса.
type Mutation struct {
	Customer  string
	GroupID   int64
	ShopID    *int64
	Direction TransactionDirection
	Amount    int64
	Reason    string
	Metadata  map[string]string
}

// TransactionFilter задаёт параметры выборки истории операций.
type TransactionFilter struct {
	Direction *TransactionDirection
	Page      int
	Limit     int
}
