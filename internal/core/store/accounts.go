package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/quota"
)

const accountColumns = `id, tier, subscription_active, coins,
	daily_operation_count, daily_operation_reset_at,
	daily_spend, daily_spend_reset_at,
	monthly_spend, monthly_spend_reset_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// AccountQuery selects accounts for admin listing and resets.
type AccountQuery struct {
	All  bool
	ID   string
	Tier string
}

// Validate requires an explicit selection.
func (q AccountQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.ID) != "" {
		return nil
	}
	if strings.TrimSpace(q.Tier) != "" {
		return nil
	}
	return errors.New("must specify --all, --id, or --tier")
}

func (q AccountQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if id := strings.TrimSpace(q.ID); id != "" {
		return "WHERE id = ?", []any{id}, nil
	}
	return "WHERE tier = ?", []any{strings.ToLower(strings.TrimSpace(q.Tier))}, nil
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acct *core.Account) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if acct == nil || strings.TrimSpace(acct.ID) == "" {
		return errors.New("account id is required")
	}

	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	if acct.UpdatedAt.IsZero() {
		acct.UpdatedAt = now
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, accountArgs(acct)...)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", quota.ErrAccountExists, acct.ID)
	}
	return nil
}

// GetAccount implements quota.AccountStore.
func (s *Store) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", quota.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return acct, nil
}

// UpdateAccount implements quota.AccountStore inside a single transaction.
func (s *Store) UpdateAccount(ctx context.Context, id string, fn func(*core.Account) error) (*core.Account, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin account update: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", quota.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	if err := fn(acct); err != nil {
		return nil, err
	}
	if acct.UpdatedAt.IsZero() {
		acct.UpdatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET
			tier = ?,
			subscription_active = ?,
			coins = ?,
			daily_operation_count = ?,
			daily_operation_reset_at = ?,
			daily_spend = ?,
			daily_spend_reset_at = ?,
			monthly_spend = ?,
			monthly_spend_reset_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		strings.ToLower(strings.TrimSpace(acct.Tier)),
		boolToInt(acct.SubscriptionActive),
		acct.Quota.Coins,
		acct.Quota.DailyOperationCount,
		unixOrZero(acct.Quota.DailyOperationResetAt),
		acct.Quota.DailySpend,
		unixOrZero(acct.Quota.DailySpendResetAt),
		acct.Quota.MonthlySpend,
		unixOrZero(acct.Quota.MonthlySpendResetAt),
		acct.UpdatedAt.Unix(),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit account update: %w", err)
	}
	return acct, nil
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", quota.ErrAccountNotFound, id)
	}
	return nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.FindAccounts(ctx, AccountQuery{All: true})
}

// FindAccounts returns the accounts matching q ordered by id.
func (s *Store) FindAccounts(ctx context.Context, q AccountQuery) ([]core.Account, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM accounts
		%s
		ORDER BY id
	`, accountColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	accounts := []core.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ResetUsage clears the usage counters of matching accounts. Coins and
// subscription state are kept.
func (s *Store) ResetUsage(ctx context.Context, q AccountQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	args = append([]any{time.Now().UTC().Unix()}, args...)
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE accounts SET
			daily_operation_count = 0,
			daily_operation_reset_at = 0,
			daily_spend = 0,
			daily_spend_reset_at = 0,
			monthly_spend = 0,
			monthly_spend_reset_at = 0,
			updated_at = ?
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	return affected, nil
}

func scanAccount(row rowScanner) (*core.Account, error) {
	var (
		acct                                   core.Account
		subscribed                             int
		dailyOpReset, dailySpendReset, monthly int64
		createdAt, updatedAt                   int64
	)
	err := row.Scan(
		&acct.ID,
		&acct.Tier,
		&subscribed,
		&acct.Quota.Coins,
		&acct.Quota.DailyOperationCount,
		&dailyOpReset,
		&acct.Quota.DailySpend,
		&dailySpendReset,
		&acct.Quota.MonthlySpend,
		&monthly,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	acct.SubscriptionActive = subscribed != 0
	acct.Quota.DailyOperationResetAt = timeOrZero(dailyOpReset)
	acct.Quota.DailySpendResetAt = timeOrZero(dailySpendReset)
	acct.Quota.MonthlySpendResetAt = timeOrZero(monthly)
	acct.CreatedAt = time.Unix(createdAt, 0).UTC()
	acct.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &acct, nil
}

func accountArgs(acct *core.Account) []any {
	return []any{
		acct.ID,
		strings.ToLower(strings.TrimSpace(acct.Tier)),
		boolToInt(acct.SubscriptionActive),
		acct.Quota.Coins,
		acct.Quota.DailyOperationCount,
		unixOrZero(acct.Quota.DailyOperationResetAt),
		acct.Quota.DailySpend,
		unixOrZero(acct.Quota.DailySpendResetAt),
		acct.Quota.MonthlySpend,
		unixOrZero(acct.Quota.MonthlySpendResetAt),
		acct.CreatedAt.Unix(),
		acct.UpdatedAt.Unix(),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
