package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/quota"
)

// RateLimiter is the throttling step of admission.
type RateLimiter interface {
	Check(ctx context.Context, identity string, class core.EndpointClass) (core.Decision, error)
}

// QuotaLedger is the per-account quota step of admission.
type QuotaLedger interface {
	CheckSpendCeilings(ctx context.Context, accountID string) (quota.Decision, error)
	CheckOperationAllowance(ctx context.Context, accountID string, kind core.OperationKind) (quota.Decision, error)
	RecordActualCost(ctx context.Context, accountID string, tokens int64) (*quota.Usage, error)
	IsMetered(kind core.OperationKind) bool
}

// Request describes one call a host wants to make.
type Request struct {
	Identity  string             `json:"identity"`
	Class     core.EndpointClass `json:"class"`
	AccountID string             `json:"account_id,omitempty"`
	Operation core.OperationKind `json:"operation,omitempty"`
}

// Result is the admission outcome. RetryAfter is set, in whole seconds, when
// the limiter rejected the call.
type Result struct {
	Admitted   bool            `json:"admitted"`
	Reason     core.Reason     `json:"reason,omitempty"`
	Mechanism  core.Mechanism  `json:"mechanism,omitempty"`
	RateLimit  core.Decision   `json:"rate_limit"`
	Quota      *quota.Decision `json:"quota,omitempty"`
	RetryAfter int             `json:"retry_after,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Gate runs the limiter and then, for account-bound calls, the quota ledger.
type Gate struct {
	Limiter RateLimiter
	Ledger  QuotaLedger
	Clock   func() time.Time

	// OnLimiterError observes limiter store failures for the request's class.
	// The call is admitted past the limiter when one occurs.
	OnLimiterError func(class core.EndpointClass, err error)
}

// Admit decides whether req may proceed. Rejections are reported in the
// Result; an error means the decision could not be made.
func (g *Gate) Admit(ctx context.Context, req Request) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("admission gate not configured")
	}
	req.Identity = strings.TrimSpace(req.Identity)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.Identity == "" {
		req.Identity = req.AccountID
	}
	if req.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if req.Class == "" {
		req.Class = core.ClassGeneration
	}

	res := &Result{CheckedAt: g.now()}

	if g.Limiter != nil {
		decision, err := g.Limiter.Check(ctx, req.Identity, req.Class)
		if err != nil && g.OnLimiterError != nil {
			g.OnLimiterError(req.Class, err)
		}
		res.RateLimit = decision
		if !decision.Admitted {
			res.Reason = core.ReasonRateLimited
			res.RetryAfter = max(decision.RetryAfter(res.CheckedAt), 1)
			return res, nil
		}
	}

	if req.AccountID == "" || g.Ledger == nil {
		res.Admitted = true
		return res, nil
	}
	if !g.Ledger.IsMetered(req.Operation) {
		res.Admitted = true
		res.Mechanism = core.MechanismUnmetered
		return res, nil
	}

	spend, err := g.Ledger.CheckSpendCeilings(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("spend ceilings for %s: %w", req.AccountID, err)
	}
	if !spend.Admitted {
		res.Reason = spend.Reason
		res.Quota = &spend
		return res, nil
	}

	allowance, err := g.Ledger.CheckOperationAllowance(ctx, req.AccountID, req.Operation)
	if err != nil {
		return nil, fmt.Errorf("operation allowance for %s: %w", req.AccountID, err)
	}
	res.Quota = &allowance
	res.Admitted = allowance.Admitted
	res.Reason = allowance.Reason
	res.Mechanism = allowance.Mechanism
	return res, nil
}

// Complete records the cost of a finished operation.
func (g *Gate) Complete(ctx context.Context, accountID string, tokens int64) (*quota.Usage, error) {
	if g == nil || g.Ledger == nil {
		return nil, fmt.Errorf("admission gate has no quota ledger")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if tokens < 0 {
		return nil, fmt.Errorf("tokens must be non-negative")
	}
	return g.Ledger.RecordActualCost(ctx, accountID, tokens)
}

func (g *Gate) now() time.Time {
	if g != nil && g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}
