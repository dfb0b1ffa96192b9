package quota

import "github.com/threadgate/threadgate/internal/core"

// Rule is one step of the operation allowance chain. Admit either admits the
// operation, applying its own consumption to acct, or defers to the next rule.
type Rule interface {
	Mechanism() core.Mechanism
	Admit(acct *core.Account, limits core.PlanLimits) bool
}

// DefaultRules returns the allowance chain in precedence order.
func DefaultRules() []Rule {
	return []Rule{CoinRule{}, SubscriptionRule{}, DailyLimitRule{}}
}

// CoinRule spends one coin for accounts without an active subscription.
// Subscribers keep their coins.
type CoinRule struct{}

func (CoinRule) Mechanism() core.Mechanism { return core.MechanismCoin }

func (CoinRule) Admit(acct *core.Account, _ core.PlanLimits) bool {
	if acct.SubscriptionActive || acct.Quota.Coins <= 0 {
		return false
	}
	acct.Quota.Coins--
	return true
}

// SubscriptionRule admits active subscribers without consuming anything.
type SubscriptionRule struct{}

func (SubscriptionRule) Mechanism() core.Mechanism { return core.MechanismSubscription }

func (SubscriptionRule) Admit(acct *core.Account, _ core.PlanLimits) bool {
	return acct.SubscriptionActive
}

// DailyLimitRule admits while the daily operation count is under the plan cap.
type DailyLimitRule struct{}

func (DailyLimitRule) Mechanism() core.Mechanism { return core.MechanismPlanDailyLimit }

func (DailyLimitRule) Admit(acct *core.Account, limits core.PlanLimits) bool {
	if limits.DailyOperationCap >= 0 && acct.Quota.DailyOperationCount >= limits.DailyOperationCap {
		return false
	}
	acct.Quota.DailyOperationCount++
	return true
}
