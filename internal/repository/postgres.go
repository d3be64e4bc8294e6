// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/grouptoken-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrGroupNotFound возвращается, если группа не найдена.
var (
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupInactive возвращается при попытке операции над деактивированной группой.
	ErrGroupInactive = errors.New("group is not active")
	// ErrInviteCodeExists возвращается при попытке создать группу с уже занятым инвайт-кодом.
	ErrInviteCodeExists = errors.New("invite code already exists")
	// ErrMembershipExists возвращается, если у пары (группа, магазин) уже есть незавершённая заявка.
	ErrMembershipExists = errors.New("membership request already exists")
	// ErrMembershipNotFound возвращается, если заявка или членство не найдены.
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrInvalidMembershipState возвращается при недопустимом переходе статуса заявки.
	ErrInvalidMembershipState = errors.New("invalid membership state transition")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLockTimeout возвращается, если не удалось получить блокировку строки баланса за отведённое время.
	ErrLockTimeout = errors.New("balance row lock timeout")
)

// Время ожидания блокировки строки баланса внутри транзакции.
const balanceLockTimeout = "5000ms"

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks: транзакция
		// уже откачена, повтор безопасен.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const groupColumns = `id, name, description, token_name, token_symbol, token_value_cents,
	 created_by_shop, visibility, logo_url, invite_code, auto_approve, active, created_at, updated_at`

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	err := row.Scan(
		&g.ID, &g.Name, &g.Description, &g.TokenName, &g.TokenSymbol, &g.TokenValueCents,
		&g.CreatedByShop, &g.Visibility, &g.LogoURL, &g.InviteCode, &g.AutoApprove, &g.Active,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGroup создаёт новую группу с указанным инвайт-кодом.
func (r *PostgresRepository) CreateGroup(ctx context.Context, createdByShop int64, spec model.GroupSpec, inviteCode string) (*model.Group, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO groups
		 (name, description, token_name, token_symbol, token_value_cents,
		  created_by_shop, visibility, logo_url, invite_code, auto_approve)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+groupColumns,
		spec.Name, spec.Description, spec.TokenName, spec.TokenSymbol, spec.TokenValueCents,
		createdByShop, string(spec.Visibility), spec.LogoURL, inviteCode, spec.AutoApprove,
	)

	g, err := scanGroup(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrInviteCodeExists, inviteCode)
		}
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// UpdateGroup изменяет разрешённые поля группы. Инвайт-код и создатель неизменяемы.
func (r *PostgresRepository) UpdateGroup(ctx context.Context, groupID int64, upd model.GroupUpdate) (*model.Group, error) {
	sets := []string{"updated_at = now()"}
	args := []any{groupID}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.TokenName != nil {
		add("token_name", *upd.TokenName)
	}
	if upd.TokenSymbol != nil {
		add("token_symbol", *upd.TokenSymbol)
	}
	if upd.TokenValueCents != nil {
		add("token_value_cents", *upd.TokenValueCents)
	}
	if upd.Visibility != nil {
		add("visibility", string(*upd.Visibility))
	}
	if upd.LogoURL != nil {
		add("logo_url", *upd.LogoURL)
	}
	if upd.AutoApprove != nil {
		add("auto_approve", *upd.AutoApprove)
	}
	if upd.Active != nil {
		add("active", *upd.Active)
	}

	query := fmt.Sprintf(
		`UPDATE groups SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(sets, ", "), groupColumns,
	)

	g, err := scanGroup(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("update group: %w", err)
	}
	return g, nil
}

// GetGroupByID возвращает группу по идентификатору.
func (r *PostgresRepository) GetGroupByID(ctx context.Context, groupID int64) (*model.Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// GetGroupByInviteCode возвращает группу по инвайт-коду.
func (r *PostgresRepository) GetGroupByInviteCode(ctx context.Context, inviteCode string) (*model.Group, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE invite_code = $1`, inviteCode,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get group by invite code: %w", err)
	}
	return g, nil
}

// ListGroups возвращает страницу групп каталога, новые первыми.
func (r *PostgresRepository) ListGroups(ctx context.Context, filter model.GroupFilter) ([]model.Group, error) {
	where := []string{"TRUE"}
	args := []any{}

	if filter.Visibility != nil {
		args = append(args, string(*filter.Visibility))
		where = append(where, fmt.Sprintf("visibility = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}

	args = append(args, filter.Limit)
	limitArg := len(args)
	args = append(args, (filter.Page-1)*filter.Limit)
	offsetArg := len(args)

	query := fmt.Sprintf(
		`SELECT %s FROM groups WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		groupColumns, strings.Join(where, " AND "), limitArg, offsetArg,
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return groups, nil
}

const membershipColumns = `id, group_id, shop_id, role, status, message,
	 requested_at, approved_at, approved_by, removed_at`

func scanMembership(row pgx.Row) (*model.GroupMembership, error) {
	var m model.GroupMembership
	err := row.Scan(
		&m.ID, &m.GroupID, &m.ShopID, &m.Role, &m.Status, &m.Message,
		&m.RequestedAt, &m.ApprovedAt, &m.ApprovedBy, &m.RemovedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMembershipRequest создаёт новую заявку магазина на вступление в группу.
func (r *PostgresRepository) CreateMembershipRequest(ctx context.Context, groupID, shopID int64, message string) (*model.GroupMembership, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO group_memberships (group_id, shop_id, role, status, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+membershipColumns,
		groupID, shopID, string(model.MembershipRoleMember), string(model.MembershipStatusPending), message,
	)

	m, err := scanMembership(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Частичный уникальный индекс допускает не более одной
			// незавершённой заявки на пару (группа, магазин).
			if pgErr.Code == pgerrcode.UniqueViolation {
				return nil, ErrMembershipExists
			}
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				return nil, ErrGroupNotFound
			}
		}
		return nil, fmt.Errorf("create membership request: %w", err)
	}
	return m, nil
}

// ApproveMembership переводит заявку из pending в active.
// Статус перечитывается под блокировкой внутри транзакции, чтобы два
// конкурентных одобрения не прошли по одной заявке.
func (r *PostgresRepository) ApproveMembership(ctx context.Context, groupID, shopID, approvedBy int64, role model.MembershipRole) (*model.GroupMembership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := lockLiveMembership(ctx, tx, groupID, shopID)
	if err != nil {
		return nil, err
	}

	if m.Status != model.MembershipStatusPending {
		return nil, fmt.Errorf("%w: approve from %s", ErrInvalidMembershipState, m.Status)
	}

	m, err = scanMembership(tx.QueryRow(ctx,
		`UPDATE group_memberships
		 SET status = $2, role = $3, approved_at = now(), approved_by = $4
		 WHERE id = $1
		 RETURNING `+membershipColumns,
		m.ID, string(model.MembershipStatusActive), string(role), approvedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("approve membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return m, nil
}

// RejectMembership переводит заявку из pending в rejected.
func (r *PostgresRepository) RejectMembership(ctx context.Context, groupID, shopID int64) error {
	return r.transitionMembership(ctx, groupID, shopID,
		model.MembershipStatusPending, model.MembershipStatusRejected, "")
}

// RemoveMembership переводит членство из active в removed.
func (r *PostgresRepository) RemoveMembership(ctx context.Context, groupID, shopID int64) error {
	return r.transitionMembership(ctx, groupID, shopID,
		model.MembershipStatusActive, model.MembershipStatusRemoved, "removed_at = now(),")
}

func (r *PostgresRepository) transitionMembership(ctx context.Context, groupID, shopID int64, from, to model.MembershipStatus, extraSet string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := lockLiveMembership(ctx, tx, groupID, shopID)
	if err != nil {
		return err
	}

	if m.Status != from {
		return fmt.Errorf("%w: %s from %s", ErrInvalidMembershipState, to, m.Status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE group_memberships SET `+extraSet+` status = $2 WHERE id = $1`,
		m.ID, string(to),
	)
	if err != nil {
		return fmt.Errorf("transition membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func lockLiveMembership(ctx context.Context, tx pgx.Tx, groupID, shopID int64) (*model.GroupMembership, error) {
	m, err := scanMembership(tx.QueryRow(ctx,
		`SELECT `+membershipColumns+`
		 FROM group_memberships
		 WHERE group_id = $1 AND shop_id = $2 AND status IN ($3, $4)
		 FOR UPDATE`,
		groupID, shopID,
		string(model.MembershipStatusPending), string(model.MembershipStatusActive),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("lock membership: %w", err)
	}
	return m, nil
}

// GetActiveMembership возвращает активное членство магазина в группе.
func (r *PostgresRepository) GetActiveMembership(ctx context.Context, groupID, shopID int64) (*model.GroupMembership, error) {
	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+`
		 FROM group_memberships
		 WHERE group_id = $1 AND shop_id = $2 AND status = $3`,
		groupID, shopID, string(model.MembershipStatusActive),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("get active membership: %w", err)
	}
	return m, nil
}

// IsActiveMember сообщает, является ли магазин активным участником группы.
func (r *PostgresRepository) IsActiveMember(ctx context.Context, groupID, shopID int64) (bool, error) {
	_, err := r.GetActiveMembership(ctx, groupID, shopID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListMembers возвращает заявки и членства группы, новые первыми.
func (r *PostgresRepository) ListMembers(ctx context.Context, groupID int64, status *model.MembershipStatus) ([]model.GroupMembership, error) {
	query := `SELECT ` + membershipColumns + `
		 FROM group_memberships
		 WHERE group_id = $1`
	args := []any{groupID}

	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY requested_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var members []model.GroupMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return members, nil
}

// ListGroupsForShop возвращает группы, в которых магазин активно состоит.
func (r *PostgresRepository) ListGroupsForShop(ctx context.Context, shopID int64) ([]model.Group, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+qualify(groupColumns, "g")+`
		 FROM groups g
		 JOIN group_memberships m ON m.group_id = g.id
		 WHERE m.shop_id = $1 AND m.status = $2
		 ORDER BY m.approved_at DESC`,
		shopID, string(model.MembershipStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select groups for shop: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return groups, nil
}

func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// GetBalance возвращает баланс покупателя в группе. Отсутствующая строка
// читается как нулевой баланс и не создаётся.
func (r *PostgresRepository) GetBalance(ctx context.Context, customer string, groupID int64) (*model.CustomerBalance, error) {
	b := model.CustomerBalance{Customer: customer, GroupID: groupID}

	err := r.pool.QueryRow(ctx,
		`SELECT balance, lifetime_earned, lifetime_redeemed, last_transaction_at
		 FROM customer_group_balances
		 WHERE customer = $1 AND group_id = $2`,
		customer, groupID,
	).Scan(&b.Balance, &b.LifetimeEarned, &b.LifetimeRedeemed, &b.LastTransactionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &b, nil
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}

	return &b, nil
}

// Mutate атомарно изменяет баланс покупателя и записывает транзакцию.
// Строка баланса блокируется FOR UPDATE на время транзакции, поэтому
// конкурентные операции над одной парой (покупатель, группа) сериализуются.
func (r *PostgresRepository) Mutate(ctx context.Context, mut model.Mutation) (*model.CustomerBalance, error) {
	var result *model.CustomerBalance

	err := r.withRetry(ctx, func() error {
		b, err := r.mutateTx(ctx, mut)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) mutateTx(ctx context.Context, mut model.Mutation) (*model.CustomerBalance, error) {
	metadata, err := json.Marshal(mut.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if mut.Metadata == nil {
		metadata = []byte("{}")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+balanceLockTimeout+"'"); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	// Создаём строку с нулевым балансом, если её ещё нет, и перечитываем её
	// под блокировкой в той же транзакции: так два конкурентных первых
	// начисления не теряют обновление друг друга.
	_, err = tx.Exec(ctx,
		`INSERT INTO customer_group_balances (customer, group_id)
		 VALUES ($1, $2)
		 ON CONFLICT (customer, group_id) DO NOTHING`,
		mut.Customer, mut.GroupID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	var b model.CustomerBalance
	b.Customer = mut.Customer
	b.GroupID = mut.GroupID

	err = tx.QueryRow(ctx,
		`SELECT balance, lifetime_earned, lifetime_redeemed
		 FROM customer_group_balances
		 WHERE customer = $1 AND group_id = $2
		 FOR UPDATE`,
		mut.Customer, mut.GroupID,
	).Scan(&b.Balance, &b.LifetimeEarned, &b.LifetimeRedeemed)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("lock balance row: %w", err)
	}

	before := b.Balance

	switch mut.Direction {
	case model.TransactionDirectionEarn:
		b.Balance += mut.Amount
		b.LifetimeEarned += mut.Amount
	case model.TransactionDirectionRedeem:
		if mut.Amount > b.Balance {
			return nil, ErrInsufficientBalance
		}
		b.Balance -= mut.Amount
		b.LifetimeRedeemed += mut.Amount
	default:
		return nil, fmt.Errorf("unknown direction: %s", mut.Direction)
	}

	var lastTransactionAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE customer_group_balances
		 SET balance = $3, lifetime_earned = $4, lifetime_redeemed = $5, last_transaction_at = now()
		 WHERE customer = $1 AND group_id = $2
		 RETURNING last_transaction_at`,
		mut.Customer, mut.GroupID, b.Balance, b.LifetimeEarned, b.LifetimeRedeemed,
	).Scan(&lastTransactionAt)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	b.LastTransactionAt = &lastTransactionAt

	_, err = tx.Exec(ctx,
		`INSERT INTO group_token_transactions
		 (group_id, customer, shop_id, direction, amount, balance_before, balance_after, reason, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		mut.GroupID, mut.Customer, mut.ShopID, string(mut.Direction), mut.Amount,
		before, b.Balance, mut.Reason, metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &b, nil
}

// ListCustomerBalances возвращает ненулевые балансы покупателя по всем группам.
func (r *PostgresRepository) ListCustomerBalances(ctx context.Context, customer string) ([]model.CustomerBalance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT customer, group_id, balance, lifetime_earned, lifetime_redeemed, last_transaction_at
		 FROM customer_group_balances
		 WHERE customer = $1 AND balance > 0
		 ORDER BY last_transaction_at DESC`,
		customer,
	)
	if err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	defer rows.Close()

	var balances []model.CustomerBalance
	for rows.Next() {
		var b model.CustomerBalance
		if err := rows.Scan(&b.Customer, &b.GroupID, &b.Balance, &b.LifetimeEarned, &b.LifetimeRedeemed, &b.LastTransactionAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return balances, nil
}

const transactionColumns = `id, group_id, customer, shop_id, direction, amount,
	 balance_before, balance_after, reason, metadata, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.GroupID, &t.Customer, &t.ShopID, &t.Direction, &t.Amount,
		&t.BalanceBefore, &t.BalanceAfter, &t.Reason, &metadata, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

// ListGroupTransactions возвращает страницу истории операций группы, новые первыми.
func (r *PostgresRepository) ListGroupTransactions(ctx context.Context, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM group_token_transactions WHERE group_id = $1`
	args := []any{groupID}

	if filter.Direction != nil {
		args = append(args, string(*filter.Direction))
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, (filter.Page-1)*filter.Limit)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return r.selectTransactions(ctx, query, args...)
}

// ListCustomerTransactions возвращает страницу истории операций покупателя в группе.
func (r *PostgresRepository) ListCustomerTransactions(ctx context.Context, customer string, groupID int64, filter model.TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM group_token_transactions WHERE customer = $1 AND group_id = $2`
	args := []any{customer, groupID}

	if filter.Direction != nil {
		args = append(args, string(*filter.Direction))
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, (filter.Page-1)*filter.Limit)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return r.selectTransactions(ctx, query, args...)
}

func (r *PostgresRepository) selectTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var transactions []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return transactions, nil
}
