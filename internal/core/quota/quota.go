// Package quota enforces per-account spend ceilings and operation allowances
// over daily and monthly calendar periods.
package quota

import (
	"errors"
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

// Unlimited disables a cap when used as a PlanLimits value.
const Unlimited = -1

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrUnknownPlan     = errors.New("unknown plan tier")
)

// Decision is the outcome of a quota check. State is the account's quota
// after the check, including any rollover and consumption it applied.
type Decision struct {
	Admitted  bool            `json:"admitted"`
	Reason    core.Reason     `json:"reason,omitempty"`
	Mechanism core.Mechanism  `json:"mechanism,omitempty"`
	Limits    core.PlanLimits `json:"limits"`
	State     core.QuotaState `json:"state"`
}

// CheckSpendCeilings rolls the spend counters over when their period has
// ended, then rejects when either spend total has reached its cap. The daily
// cap is checked first. Nothing is consumed.
func CheckSpendCeilings(s *core.QuotaState, limits core.PlanLimits, now time.Time, loc *time.Location) Decision {
	Rollover(s, now, loc)

	d := Decision{Admitted: true, Limits: limits}
	switch {
	case capReached(s.DailySpend, limits.DailySpendCap):
		d.Admitted = false
		d.Reason = core.ReasonDailyCostCap
	case capReached(s.MonthlySpend, limits.MonthlySpendCap):
		d.Admitted = false
		d.Reason = core.ReasonMonthlyCostCap
	}
	d.State = *s
	return d
}

// CheckOperationAllowance rolls the operation counter over when its day has
// ended, then walks rules in order. The first rule that admits decides the
// mechanism; when none does, the daily operation cap is the reason.
func CheckOperationAllowance(acct *core.Account, limits core.PlanLimits, now time.Time, loc *time.Location, rules []Rule) Decision {
	Rollover(&acct.Quota, now, loc)
	if rules == nil {
		rules = DefaultRules()
	}

	d := Decision{Limits: limits, Reason: core.ReasonDailyOperationCap}
	for _, rule := range rules {
		if rule.Admit(acct, limits) {
			d.Admitted = true
			d.Reason = core.ReasonNone
			d.Mechanism = rule.Mechanism()
			break
		}
	}
	d.State = acct.Quota
	return d
}

// RecordActualCost adds cost(tokens) to both spend totals and returns the
// amount added. It never rejects, even when the totals pass their caps.
func RecordActualCost(s *core.QuotaState, tokens int64, cost CostFunc, now time.Time, loc *time.Location) float64 {
	Rollover(s, now, loc)
	if cost == nil {
		return 0
	}
	amount := cost(tokens)
	s.DailySpend += amount
	s.MonthlySpend += amount
	return amount
}

func capReached(spend, limit float64) bool {
	return limit >= 0 && spend >= limit
}
