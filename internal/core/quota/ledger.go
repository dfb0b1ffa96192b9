package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

// AccountStore loads and atomically updates accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	// UpdateAccount loads the account, applies fn and persists the result as
	// one unit. When fn returns an error nothing is written.
	UpdateAccount(ctx context.Context, id string, fn func(*core.Account) error) (*core.Account, error)
}

// AccountRegistry adds account lifecycle management to AccountStore.
type AccountRegistry interface {
	AccountStore
	CreateAccount(ctx context.Context, acct *core.Account) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context) ([]core.Account, error)
}

// PlanSource resolves a tier name to its limits.
type PlanSource interface {
	Plan(tier string) (core.PlanLimits, bool)
}

// Plans is a static PlanSource keyed by tier name.
type Plans map[string]core.PlanLimits

// Plan implements PlanSource. Tier names are case-insensitive.
func (p Plans) Plan(tier string) (core.PlanLimits, bool) {
	limits, ok := p[strings.ToLower(strings.TrimSpace(tier))]
	if ok && limits.Tier == "" {
		limits.Tier = strings.ToLower(strings.TrimSpace(tier))
	}
	return limits, ok
}

// Usage reports a recorded cost and the totals after recording it.
type Usage struct {
	AccountID    string    `json:"account_id"`
	Tier         string    `json:"tier"`
	Tokens       int64     `json:"tokens"`
	Cost         float64   `json:"cost"`
	DailySpend   float64   `json:"daily_spend"`
	MonthlySpend float64   `json:"monthly_spend"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Ledger applies quota checks to stored accounts, one account at a time.
type Ledger struct {
	Accounts AccountStore
	Plans    PlanSource
	Cost     CostFunc
	Rules    []Rule
	Location *time.Location
	Clock    func() time.Time

	// Metered lists the operation kinds that consume the daily allowance.
	// When nil only core.OperationThread does.
	Metered map[core.OperationKind]bool

	locks keyedMutex
}

// CheckSpendCeilings evaluates the account's spend caps.
func (l *Ledger) CheckSpendCeilings(ctx context.Context, accountID string) (Decision, error) {
	var d Decision
	_, err := l.update(ctx, accountID, func(acct *core.Account, limits core.PlanLimits, now time.Time) error {
		d = CheckSpendCeilings(&acct.Quota, limits, now, l.Location)
		return nil
	})
	return d, err
}

// CheckOperationAllowance evaluates and consumes the account's allowance for
// one operation of kind. Unmetered kinds are admitted without consumption.
func (l *Ledger) CheckOperationAllowance(ctx context.Context, accountID string, kind core.OperationKind) (Decision, error) {
	var d Decision
	_, err := l.update(ctx, accountID, func(acct *core.Account, limits core.PlanLimits, now time.Time) error {
		if !l.IsMetered(kind) {
			Rollover(&acct.Quota, now, l.Location)
			d = Decision{Admitted: true, Mechanism: core.MechanismUnmetered, Limits: limits, State: acct.Quota}
			return nil
		}
		d = CheckOperationAllowance(acct, limits, now, l.Location, l.Rules)
		return nil
	})
	return d, err
}

// RecordActualCost books the cost of tokens against the account's daily and
// monthly spend. It is called once per completed operation.
func (l *Ledger) RecordActualCost(ctx context.Context, accountID string, tokens int64) (*Usage, error) {
	usage := &Usage{AccountID: accountID, Tokens: tokens}
	_, err := l.update(ctx, accountID, func(acct *core.Account, _ core.PlanLimits, now time.Time) error {
		usage.Tier = acct.Tier
		usage.Cost = RecordActualCost(&acct.Quota, tokens, l.Cost, now, l.Location)
		usage.DailySpend = acct.Quota.DailySpend
		usage.MonthlySpend = acct.Quota.MonthlySpend
		usage.RecordedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Snapshot returns the account with its counters rolled over to now.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) (*core.Account, core.PlanLimits, error) {
	var limits core.PlanLimits
	acct, err := l.update(ctx, accountID, func(acct *core.Account, pl core.PlanLimits, now time.Time) error {
		Rollover(&acct.Quota, now, l.Location)
		limits = pl
		return nil
	})
	return acct, limits, err
}

// Adjust applies an administrative change under the account's lock.
func (l *Ledger) Adjust(ctx context.Context, accountID string, fn func(*core.Account) error) (*core.Account, error) {
	if l == nil || l.Accounts == nil {
		return nil, fmt.Errorf("quota ledger not configured")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	return l.Accounts.UpdateAccount(ctx, accountID, func(acct *core.Account) error {
		if err := fn(acct); err != nil {
			return err
		}
		acct.UpdatedAt = l.now()
		return nil
	})
}

// IsMetered reports whether kind consumes the daily allowance.
func (l *Ledger) IsMetered(kind core.OperationKind) bool {
	if kind == "" {
		kind = core.OperationThread
	}
	if l == nil || l.Metered == nil {
		return kind == core.OperationThread
	}
	return l.Metered[kind]
}

func (l *Ledger) update(ctx context.Context, accountID string, fn func(*core.Account, core.PlanLimits, time.Time) error) (*core.Account, error) {
	if l == nil || l.Accounts == nil || l.Plans == nil {
		return nil, fmt.Errorf("quota ledger not configured")
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	now := l.now()
	return l.Accounts.UpdateAccount(ctx, accountID, func(acct *core.Account) error {
		limits, ok := l.Plans.Plan(acct.Tier)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlan, acct.Tier)
		}
		if err := fn(acct, limits, now); err != nil {
			return err
		}
		acct.UpdatedAt = now
		return nil
	})
}

func (l *Ledger) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
