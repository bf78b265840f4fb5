package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Policy is the admission budget of one protected surface.
type Policy struct {
	Name        string
	MaxRequests int64
	Window      time.Duration
	FailOpen    bool
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Policy     string
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the counter store failed and the policy let the
	// request through anyway.
	Degraded bool
}

// DeniedError is returned by Admit when the window budget is exhausted.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate_limited: policy %s, retry after %s", e.Decision.Policy, e.Decision.RetryAfter)
}

var ErrUnknownPolicy = errors.New("unknown_rate_policy")

// Stats describes the live window for one identity.
type Stats struct {
	Policy    string `json:"policy"`
	Identity  string `json:"identity"`
	Count     int64  `json:"count"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetInMs int64  `json:"reset_in_ms"`
}

type Limiter struct {
	store     CounterStore
	policies  map[string]Policy
	enabled   bool
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
	admission *obsmetrics.AdmissionMetrics
}

type Params struct {
	fx.In

	Config    config.Config
	Store     CounterStore
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics          `optional:"true"`
	Admission *obsmetrics.AdmissionMetrics `optional:"true"`
}

func New(p Params) *Limiter {
	l := NewLimiter(p.Store, PoliciesFromConfig(p.Config.RateLimit), p.Clock, p.Log)
	l.enabled = p.Config.RateLimit.Enabled
	l.metrics = p.Metrics
	l.admission = p.Admission
	return l
}

func NewLimiter(store CounterStore, policies []Policy, clk clock.Clock, log *zap.Logger) *Limiter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
	}
	return &Limiter{
		store:    store,
		policies: byName,
		enabled:  true,
		clock:    clk,
		log:      log.Named("ratelimit"),
	}
}

// PoliciesFromConfig turns configured budgets into policies. Entries with a
// non-positive budget or window are skipped.
func PoliciesFromConfig(cfg config.RateLimitConfig) []Policy {
	out := make([]Policy, 0, len(cfg.Policies))
	for name, p := range cfg.Policies {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			continue
		}
		out = append(out, Policy{
			Name:        name,
			MaxRequests: p.MaxRequests,
			Window:      p.Window,
			FailOpen:    p.FailOpen,
		})
	}
	return out
}

func (l *Limiter) Policy(name string) (Policy, bool) {
	p, ok := l.policies[name]
	return p, ok
}

// Key is the counter key for a policy and caller identity.
func Key(policy, identity string) string {
	return "ratelimit:" + policy + ":" + identity
}

// Admit counts one request for identity against the named policy. A denied
// request returns the Decision together with a *DeniedError. When the store
// fails, fail-open policies allow the request with Decision.Degraded set and
// fail-closed policies return ErrStoreUnavailable.
func (l *Limiter) Admit(ctx context.Context, policyName, identity string) (Decision, error) {
	policy, ok := l.policies[policyName]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}
	now := l.clock.Now()

	if !l.enabled {
		return Decision{
			Policy:    policy.Name,
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests,
			ResetAt:   now.Add(policy.Window),
		}, nil
	}

	counter, err := l.store.Increment(ctx, Key(policy.Name, identity), policy.Window)
	if err != nil {
		return l.storeFailure(ctx, policy, identity, now, err)
	}

	ttl := counter.TTL
	if ttl <= 0 || ttl > policy.Window {
		ttl = policy.Window
	}
	decision := Decision{
		Policy:    policy.Name,
		Limit:     policy.MaxRequests,
		Remaining: max(policy.MaxRequests-counter.Count, 0),
		ResetAt:   now.Add(ttl),
	}

	if counter.Count > policy.MaxRequests {
		decision.RetryAfter = ttl
		l.metrics.RecordRateLimitDenied(ctx, policy.Name, "limit_exceeded")
		l.log.Debug("rate limit exceeded",
			zap.String("policy", policy.Name),
			zap.String("identity", identity),
			zap.Int64("count", counter.Count),
			zap.Duration("retry_after", ttl),
		)
		return decision, &DeniedError{Decision: decision}
	}

	decision.Allowed = true
	l.metrics.RecordRateLimitAllowed(ctx, policy.Name, false)
	return decision, nil
}

func (l *Limiter) storeFailure(ctx context.Context, policy Policy, identity string, now time.Time, err error) (Decision, error) {
	fields := []zap.Field{
		zap.String("policy", policy.Name),
		zap.String("identity", identity),
		zap.Error(err),
	}

	if !policy.FailOpen {
		l.admission.IncStoreFailure(policy.Name, "closed")
		l.metrics.RecordRateLimitDenied(ctx, policy.Name, "store_unavailable")
		l.log.Error("rate limit store unavailable, denying request", fields...)
		return Decision{Policy: policy.Name, Limit: policy.MaxRequests}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	l.admission.IncStoreFailure(policy.Name, "open")
	l.metrics.RecordRateLimitAllowed(ctx, policy.Name, true)
	l.log.Warn("rate limit store unavailable, admitting request", fields...)
	return Decision{
		Policy:    policy.Name,
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests,
		ResetAt:   now.Add(policy.Window),
		Degraded:  true,
	}, nil
}

// Stats reads the live window without counting a request.
func (l *Limiter) Stats(ctx context.Context, policyName, identity string) (Stats, error) {
	policy, ok := l.policies[policyName]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}
	counter, err := l.store.Peek(ctx, Key(policy.Name, identity))
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Policy:    policy.Name,
		Identity:  identity,
		Count:     counter.Count,
		Limit:     policy.MaxRequests,
		Remaining: max(policy.MaxRequests-counter.Count, 0),
		ResetInMs: counter.TTL.Milliseconds(),
	}, nil
}

// Reset clears the window so the identity is admitted again immediately.
func (l *Limiter) Reset(ctx context.Context, policyName, identity string) error {
	policy, ok := l.policies[policyName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}
	if err := l.store.Reset(ctx, Key(policy.Name, identity)); err != nil {
		return err
	}
	l.log.Info("rate limit window reset",
		zap.String("policy", policy.Name),
		zap.String("identity", identity),
	)
	return nil
}
