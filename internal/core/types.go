package core

import "time"

// OperationKind names the kind of AI work an admission request is for.
type OperationKind string

const (
	OperationThread OperationKind = "thread"
	OperationReply  OperationKind = "reply"
	OperationHook   OperationKind = "hook"
)

// Reason explains why a request was not admitted.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonRateLimited       Reason = "rate_limited"
	ReasonDailyCostCap      Reason = "daily_cost_cap"
	ReasonMonthlyCostCap    Reason = "monthly_cost_cap"
	ReasonDailyOperationCap Reason = "daily_operation_cap"
)

// Mechanism names the allowance that admitted an operation.
type Mechanism string

const (
	MechanismNone           Mechanism = ""
	MechanismCoin           Mechanism = "coin"
	MechanismSubscription   Mechanism = "subscription"
	MechanismPlanDailyLimit Mechanism = "plan_daily_limit"
	MechanismUnmetered      Mechanism = "unmetered"
)

// QuotaState holds the usage counters kept per account.
//
// A zero reset timestamp means the counter has never been used; the next
// check assigns the upcoming boundary.
type QuotaState struct {
	DailyOperationCount   int       `json:"daily_operation_count"`
	DailyOperationResetAt time.Time `json:"daily_operation_reset_at"`
	DailySpend            float64   `json:"daily_spend"`
	DailySpendResetAt     time.Time `json:"daily_spend_reset_at"`
	MonthlySpend          float64   `json:"monthly_spend"`
	MonthlySpendResetAt   time.Time `json:"monthly_spend_reset_at"`
	Coins                 int       `json:"coins"`
}

// PlanLimits are the caps attached to a subscription tier.
type PlanLimits struct {
	Tier              string  `json:"tier" yaml:"tier"`
	DailyOperationCap int     `json:"daily_operation_cap" yaml:"daily_operations"`
	DailySpendCap     float64 `json:"daily_spend_cap" yaml:"daily_spend"`
	MonthlySpendCap   float64 `json:"monthly_spend_cap" yaml:"monthly_spend"`
}

// Account is the persisted user record the quota ledger works on.
type Account struct {
	ID                 string     `json:"id"`
	Tier               string     `json:"tier"`
	SubscriptionActive bool       `json:"subscription_active"`
	Quota              QuotaState `json:"quota"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
