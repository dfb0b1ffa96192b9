package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/engine"
	"github.com/threadgate/threadgate/internal/core/quota"
	apperrors "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/metrics"
	"github.com/threadgate/threadgate/internal/observability"
	servermw "github.com/threadgate/threadgate/internal/server/middleware"
)

const maxBodyBytes = 1 << 16

// Gatekeeper decides and books admission for host calls.
type Gatekeeper interface {
	Admit(ctx context.Context, req engine.Request) (*engine.Result, error)
	Complete(ctx context.Context, accountID string, tokens int64) (*quota.Usage, error)
}

// QuotaReader returns an account's rolled-over quota.
type QuotaReader interface {
	Snapshot(ctx context.Context, accountID string) (*core.Account, core.PlanLimits, error)
}

// LimitReader reports a window without counting a request.
type LimitReader interface {
	Status(ctx context.Context, identity string, class core.EndpointClass) (core.Decision, error)
}

// Admission serves the /v1 admission API.
type Admission struct {
	Gate   Gatekeeper
	Quotas QuotaReader
	Limits LimitReader
}

// AdmissionResponse is returned when a call is admitted.
type AdmissionResponse struct {
	Admitted  bool             `json:"admitted"`
	Mechanism core.Mechanism   `json:"mechanism,omitempty"`
	Limit     int              `json:"limit"`
	Remaining int              `json:"remaining"`
	ResetAt   time.Time        `json:"reset_at"`
	Quota     *core.QuotaState `json:"quota,omitempty"`
}

// UsageRequest books the tokens of a completed operation.
type UsageRequest struct {
	AccountID string `json:"account_id"`
	Tokens    int64  `json:"tokens"`
}

// QuotaResponse is an account's quota with its plan.
type QuotaResponse struct {
	AccountID          string          `json:"account_id"`
	Tier               string          `json:"tier"`
	SubscriptionActive bool            `json:"subscription_active"`
	Quota              core.QuotaState `json:"quota"`
	Limits             core.PlanLimits `json:"limits"`
}

// LimitResponse reports a limiter window.
type LimitResponse struct {
	Identity  string             `json:"identity"`
	Class     core.EndpointClass `json:"class"`
	Limit     int                `json:"limit"`
	Remaining int                `json:"remaining"`
	ResetAt   time.Time          `json:"reset_at,omitempty"`
}

// Admit handles POST /v1/admission.
func (h *Admission) Admit(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeBody(w, r, &req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid admission request"))
		return
	}
	if req.Class != "" && !req.Class.Valid() {
		apperrors.RespondWithError(w, r, apperrors.NewValidationError(fmt.Sprintf("unknown endpoint class %q", req.Class)))
		return
	}
	if strings.TrimSpace(req.Identity) == "" && strings.TrimSpace(req.AccountID) == "" {
		req.Identity = servermw.ClientIdentity(r)
	}

	res, err := h.Gate.Admit(r.Context(), req)
	if err != nil {
		apperrors.RespondWithError(w, r, quotaError(r.Context(), err, req.AccountID))
		return
	}

	class := string(req.Class)
	if class == "" {
		class = string(core.ClassGeneration)
	}
	metrics.RecordAdmission(class, res.Admitted)
	if res.Quota != nil {
		metrics.RecordQuotaDecision(string(res.Reason), string(res.Mechanism))
	}
	servermw.SetRateLimitHeaders(w, res.RateLimit)

	if !res.Admitted {
		observability.Logger().Debug("Admission rejected",
			zap.String("class", class),
			zap.String("account_id", req.AccountID),
			zap.String("reason", string(res.Reason)))
		if res.Reason == core.ReasonRateLimited {
			apperrors.RespondWithError(w, r, apperrors.NewRateLimitedError(class, res.RateLimit.Limit, res.RetryAfter))
			return
		}
		apperrors.RespondWithError(w, r, apperrors.NewQuotaExceededError(string(res.Reason)))
		return
	}

	resp := AdmissionResponse{
		Admitted:  true,
		Mechanism: res.Mechanism,
		Limit:     res.RateLimit.Limit,
		Remaining: res.RateLimit.Remaining,
		ResetAt:   res.RateLimit.ResetAt,
	}
	if res.Quota != nil {
		state := res.Quota.State
		resp.Quota = &state
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordUsage handles POST /v1/usage.
func (h *Admission) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if err := decodeBody(w, r, &req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid usage request"))
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		apperrors.RespondWithError(w, r, apperrors.NewValidationError("account_id is required"))
		return
	}
	if req.Tokens < 0 {
		apperrors.RespondWithError(w, r, apperrors.NewValidationError("tokens must be non-negative"))
		return
	}

	usage, err := h.Gate.Complete(r.Context(), req.AccountID, req.Tokens)
	if err != nil {
		apperrors.RespondWithError(w, r, quotaError(r.Context(), err, req.AccountID))
		return
	}
	metrics.RecordCost(usage.Tier, usage.Tokens, usage.Cost)
	writeJSON(w, http.StatusOK, usage)
}

// Quota handles GET /v1/accounts/{id}/quota.
func (h *Admission) Quota(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, limits, err := h.Quotas.Snapshot(r.Context(), id)
	if err != nil {
		apperrors.RespondWithError(w, r, quotaError(r.Context(), err, id))
		return
	}
	writeJSON(w, http.StatusOK, QuotaResponse{
		AccountID:          acct.ID,
		Tier:               acct.Tier,
		SubscriptionActive: acct.SubscriptionActive,
		Quota:              acct.Quota,
		Limits:             limits,
	})
}

// LimitStatus handles GET /v1/limits/{class}; the identity query parameter
// defaults to the caller.
func (h *Admission) LimitStatus(w http.ResponseWriter, r *http.Request) {
	class := core.EndpointClass(chi.URLParam(r, "class"))
	if !class.Valid() {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("unknown endpoint class %q", class)))
		return
	}
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))
	if identity == "" {
		identity = servermw.ClientIdentity(r)
	}

	decision, err := h.Limits.Status(r.Context(), identity, class)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "rate limit store unavailable"))
		return
	}
	servermw.SetRateLimitHeaders(w, decision)
	writeJSON(w, http.StatusOK, LimitResponse{
		Identity:  identity,
		Class:     class,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func quotaError(ctx context.Context, err error, accountID string) error {
	switch {
	case stderrors.Is(err, quota.ErrAccountNotFound):
		return apperrors.WrapNotFound(ctx, err, fmt.Sprintf("account %q not found", accountID))
	case stderrors.Is(err, quota.ErrUnknownPlan):
		return apperrors.WrapConfigInvalid(ctx, err, "account tier has no plan limits")
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapTimeout(ctx, err, "quota check did not complete")
	default:
		return apperrors.WrapDatabaseError(ctx, err, "quota store failure")
	}
}
