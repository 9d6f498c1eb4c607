package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/telemetry"
	"github.com/amoylab/riderwatch/pkg/metrics"

	"go.uber.org/zap"
)

// Request describes one budgeted upstream call
type Request struct {
	Tenant    string
	Priority  Priority
	Component string // calling component, for telemetry
	Endpoint  string // partner endpoint, for telemetry
	// MaxAttempts overrides the configured attempt count when positive
	MaxAttempts int
}

// Limiter holds one lazily created Budget per tenant. Budgets are never
// shared across tenants.
type Limiter struct {
	logger    *zap.Logger
	defaults  config.RateLimitConfig
	overrides map[string]config.RateLimitConfig
	budgets   sync.Map // map[tenant]*Budget
	sink      telemetry.Sink
	metrics   *metrics.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter
type Option func(*Limiter)

// WithTenantBudget overrides the budget of one tenant
func WithTenantBudget(tenant string, cfg config.RateLimitConfig) Option {
	return func(l *Limiter) { l.overrides[tenant] = cfg }
}

// WithSink reports exhausted budgets to the telemetry sink
func WithSink(sink telemetry.Sink) Option {
	return func(l *Limiter) { l.sink = sink }
}

// WithMetrics records rejections
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the backoff sleep
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// New creates a limiter with the default per-tenant budget
func New(logger *zap.Logger, cfg config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{
		logger:    logger.Named("ratelimit"),
		defaults:  cfg,
		overrides: make(map[string]config.RateLimitConfig),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) budget(tenant string) *Budget {
	if b, ok := l.budgets.Load(tenant); ok {
		return b.(*Budget)
	}
	cfg := l.defaults
	if o, ok := l.overrides[tenant]; ok {
		cfg = o
	}
	b, _ := l.budgets.LoadOrStore(tenant, newBudget(cfg, l.now()))
	return b.(*Budget)
}

// TryConsume takes one unit from the tenant's global bucket and one from the
// priority sub-bucket. It never blocks.
func (l *Limiter) TryConsume(tenant string, p Priority) bool {
	if !p.valid() {
		return false
	}
	ok := l.budget(tenant).tryConsume(p, l.now())
	if !ok {
		l.metrics.BudgetRejected(tenant, p.String())
	}
	return ok
}

// Snapshot returns the current state of a tenant budget
func (l *Limiter) Snapshot(tenant string) Snapshot {
	return l.budget(tenant).snapshot(l.now())
}

func (l *Limiter) maxAttempts(req Request) int {
	if req.MaxAttempts > 0 {
		return req.MaxAttempts
	}
	cfg := l.defaults
	if o, ok := l.overrides[req.Tenant]; ok {
		cfg = o
	}
	return max(cfg.MaxAttempts, 1)
}

func (l *Limiter) baseBackoff(tenant string) time.Duration {
	if o, ok := l.overrides[tenant]; ok && o.BaseBackoff > 0 {
		return o.BaseBackoff
	}
	if l.defaults.BaseBackoff > 0 {
		return l.defaults.BaseBackoff
	}
	return 200 * time.Millisecond
}

// Wait consumes one unit, retrying with exponential backoff
// (base * 2^attempt) between attempts. After the last attempt it reports to
// telemetry and returns a RateLimitExceeded error.
func (l *Limiter) Wait(ctx context.Context, req Request) error {
	attempts := l.maxAttempts(req)
	base := l.baseBackoff(req.Tenant)
	for attempt := 0; attempt < attempts; attempt++ {
		if l.TryConsume(req.Tenant, req.Priority) {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		if err := l.sleep(ctx, base<<attempt); err != nil {
			return errorx.New(errorx.KindUpstreamTimeout, "ratelimit.wait", req.Tenant, err)
		}
	}

	l.logger.Warn("rate budget exhausted",
		zap.String("tenant", req.Tenant),
		zap.String("priority", req.Priority.String()),
		zap.String("component", req.Component),
		zap.String("endpoint", req.Endpoint),
		zap.Int("attempts", attempts))
	l.metrics.BudgetExhausted(req.Tenant, req.Priority.String())
	if l.sink != nil {
		l.sink.Report(ctx, telemetry.Event{
			Tenant:    req.Tenant,
			Endpoint:  req.Endpoint,
			Component: req.Component,
			Priority:  req.Priority.String(),
			Reason:    telemetry.ReasonBudgetExhausted,
		})
	}
	return errorx.Newf(errorx.KindRateLimitExceeded, "ratelimit.wait", req.Tenant,
		"%s budget exhausted after %d attempts", req.Priority, attempts)
}

// ExecuteWithBudget runs op once a budget unit has been consumed
func (l *Limiter) ExecuteWithBudget(ctx context.Context, req Request, op func(ctx context.Context) error) error {
	if err := l.Wait(ctx, req); err != nil {
		return err
	}
	return op(ctx)
}

// Execute is ExecuteWithBudget for operations returning a value
func Execute[T any](ctx context.Context, l *Limiter, req Request, op func(ctx context.Context) (T, error)) (T, error) {
	if err := l.Wait(ctx, req); err != nil {
		var zero T
		return zero, err
	}
	return op(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
