// Package limiter implements fixed-window request throttling keyed by caller
// identity and endpoint class.
package limiter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/threadgate/threadgate/internal/core"
)

// DefaultSweepInterval is how often expired entries are removed when Start is
// called without an interval.
const DefaultSweepInterval = time.Minute

// DefaultPresets are the built-in window policies per endpoint class.
var DefaultPresets = map[core.EndpointClass]core.WindowConfig{
	core.ClassGeneration: {Window: time.Minute, MaxRequests: 10},
	core.ClassAuth:       {Window: 15 * time.Minute, MaxRequests: 5},
	core.ClassAPI:        {Window: time.Minute, MaxRequests: 100},
	core.ClassAdmin:      {Window: time.Minute, MaxRequests: 300},
}

// Limiter admits or rejects requests per (identity, endpoint class).
type Limiter struct {
	Store   Store
	Presets map[core.EndpointClass]core.WindowConfig
	Clock   func() time.Time
	Margin  float64

	// OnSweep, when set, observes every background sweep.
	OnSweep func(removed int, err error)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns a limiter over store using DefaultPresets.
func New(store Store) *Limiter {
	return &Limiter{Store: store}
}

// Check counts one request for identity against the preset of class.
//
// A store failure admits the request and returns the error so the caller can
// log it; rejection is never reported as an error.
func (l *Limiter) Check(ctx context.Context, identity string, class core.EndpointClass) (core.Decision, error) {
	return l.CheckWith(ctx, identity, class, l.Preset(class))
}

// CheckWith counts one request for identity under an explicit window policy.
func (l *Limiter) CheckWith(ctx context.Context, identity string, class core.EndpointClass, cfg core.WindowConfig) (core.Decision, error) {
	now := l.now()
	open := core.Decision{
		Admitted:  true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests,
		ResetAt:   now.Add(cfg.Window),
	}
	if l == nil || l.Store == nil {
		return open, nil
	}

	entry, admitted, err := l.Store.IncrementIfBelow(ctx, Key(identity, class), cfg.MaxRequests, cfg.Window, now)
	if err != nil {
		return open, fmt.Errorf("rate limit check %s: %w", class, err)
	}

	decision := core.Decision{
		Admitted: admitted,
		Limit:    cfg.MaxRequests,
		ResetAt:  entry.WindowResetAt,
	}
	if admitted {
		decision.Remaining = max(cfg.MaxRequests-entry.Count, 0)
	}
	return decision, nil
}

// Status reports the current window for identity without counting a request.
func (l *Limiter) Status(ctx context.Context, identity string, class core.EndpointClass) (core.Decision, error) {
	cfg := l.Preset(class)
	now := l.now()
	decision := core.Decision{
		Admitted:  true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests,
		ResetAt:   now.Add(cfg.Window),
	}
	if l == nil || l.Store == nil {
		return decision, nil
	}

	entry, err := l.Store.Get(ctx, Key(identity, class))
	if err != nil {
		return decision, fmt.Errorf("rate limit status %s: %w", class, err)
	}
	if entry == nil || entry.Expired(now) {
		return decision, nil
	}

	decision.ResetAt = entry.WindowResetAt
	decision.Remaining = max(cfg.MaxRequests-entry.Count, 0)
	decision.Admitted = decision.Remaining > 0
	return decision, nil
}

// Reset clears the window for identity in class.
func (l *Limiter) Reset(ctx context.Context, identity string, class core.EndpointClass) error {
	if l == nil || l.Store == nil {
		return nil
	}
	return l.Store.Delete(ctx, Key(identity, class))
}

// Preset returns the effective window policy for class. Unknown classes get
// the generation preset, the strictest per-minute ceiling.
func (l *Limiter) Preset(class core.EndpointClass) core.WindowConfig {
	presets := DefaultPresets
	if l != nil && l.Presets != nil {
		presets = l.Presets
	}

	cfg, ok := presets[class]
	if !ok {
		cfg, ok = presets[core.ClassGeneration]
	}
	if !ok {
		cfg = DefaultPresets[core.ClassGeneration]
	}
	return l.applyMargin(cfg)
}

// ApplyOverrides merges per-class window policies over the defaults.
func (l *Limiter) ApplyOverrides(overrides map[string]core.WindowConfig) {
	if l == nil || len(overrides) == 0 {
		return
	}

	if l.Presets == nil {
		l.Presets = make(map[core.EndpointClass]core.WindowConfig, len(DefaultPresets))
		for class, cfg := range DefaultPresets {
			l.Presets[class] = cfg
		}
	}

	for name, cfg := range overrides {
		class := core.EndpointClass(strings.ToLower(strings.TrimSpace(name)))
		if !class.Valid() || cfg.MaxRequests <= 0 || cfg.Window <= 0 {
			continue
		}
		l.Presets[class] = cfg
	}
}

// ApplySafetyMargin scales every ceiling by a ratio in (0, 1].
func (l *Limiter) ApplySafetyMargin(margin float64) {
	if l == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	l.Margin = margin
}

// Sweep removes expired entries once.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	if l == nil || l.Store == nil {
		return 0, nil
	}
	return l.Store.Sweep(ctx, l.now())
}

// Start launches the background sweep. It is a no-op when already running.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	if l == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.sweepLoop(ctx, interval, l.stop, l.done)
}

// Stop ends the background sweep and waits for it to exit.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (l *Limiter) sweepLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if l.OnSweep != nil {
				l.OnSweep(removed, err)
			}
		}
	}
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Limiter) applyMargin(cfg core.WindowConfig) core.WindowConfig {
	if l == nil || l.Margin <= 0 || l.Margin > 1 {
		return cfg
	}
	adjusted := int(math.Floor(float64(cfg.MaxRequests) * l.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	cfg.MaxRequests = adjusted
	return cfg
}
