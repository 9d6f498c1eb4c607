package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg config.RateLimitConfig, opts ...Option) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(zap.NewNop(), cfg, opts...), clock
}

func TestTryConsume_PriorityExhaustionRefundsGlobal(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 5, High: 2, Medium: 2, Low: 1, RefillPeriod: time.Minute})

	assert.True(t, l.TryConsume("acme", High))
	assert.True(t, l.TryConsume("acme", High))
	assert.False(t, l.TryConsume("acme", High))

	snap := l.Snapshot("acme")
	assert.Equal(t, 3, snap.GlobalAvailable)
	assert.Equal(t, 0, snap.Available[High])
	assert.Equal(t, int64(2), snap.GlobalConsumed)
	assert.Equal(t, int64(2), snap.PriorityConsumed[High])
}

func TestTryConsume_GlobalExhaustion(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 2, High: 2, Medium: 2, Low: 2, RefillPeriod: time.Minute})

	assert.True(t, l.TryConsume("acme", High))
	assert.True(t, l.TryConsume("acme", Low))
	assert.False(t, l.TryConsume("acme", Medium))

	snap := l.Snapshot("acme")
	assert.Equal(t, 0, snap.GlobalAvailable)
	assert.Equal(t, 2, snap.Available[Medium])
}

func TestTryConsume_PeriodicRefill(t *testing.T) {
	l, clock := newTestLimiter(config.RateLimitConfig{Capacity: 3, High: 1, Medium: 1, Low: 1, RefillPeriod: time.Minute})

	assert.True(t, l.TryConsume("acme", High))
	assert.False(t, l.TryConsume("acme", High))

	clock.Advance(59 * time.Second)
	assert.False(t, l.TryConsume("acme", High), "refill is periodic, not continuous")

	clock.Advance(time.Second)
	assert.True(t, l.TryConsume("acme", High))
}

func TestTryConsume_TenantsIsolated(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 1, High: 1, RefillPeriod: time.Minute},
		WithTenantBudget("globex", config.RateLimitConfig{Capacity: 3, High: 3, RefillPeriod: time.Minute}))

	assert.True(t, l.TryConsume("acme", High))
	assert.False(t, l.TryConsume("acme", High))

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryConsume("globex", High))
	}
	assert.False(t, l.TryConsume("globex", High))
}

func TestTryConsume_InvalidPriority(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 1, High: 1, RefillPeriod: time.Minute})
	assert.False(t, l.TryConsume("acme", Priority(7)))
	assert.Equal(t, 1, l.Snapshot("acme").GlobalAvailable)
}

func TestTryConsume_ConcurrentRefundInvariant(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 50, High: 10, Medium: 10, Low: 5, RefillPeriod: time.Minute})

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(p Priority) {
			defer wg.Done()
			if l.TryConsume("acme", p) {
				granted.Add(1)
			}
		}(priorities[i%len(priorities)])
	}
	wg.Wait()

	snap := l.Snapshot("acme")
	var sum int64
	for _, p := range priorities {
		sum += snap.PriorityConsumed[p]
	}
	assert.Equal(t, int64(25), granted.Load())
	assert.LessOrEqual(t, sum, snap.GlobalConsumed)
	assert.Equal(t, 50-25, snap.GlobalAvailable)
}

func TestWait_BackoffThenExceeded(t *testing.T) {
	var slept []time.Duration
	sink := telemetry.NewMemoryStore(10)
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 5, High: 0, Medium: 1, Low: 1, RefillPeriod: time.Minute, MaxAttempts: 4, BaseBackoff: 200 * time.Millisecond},
		WithSink(sink),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))

	err := l.Wait(context.Background(), Request{Tenant: "acme", Priority: High, Component: "aggregation", Endpoint: "roster"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errorx.ErrRateLimitExceeded)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}, slept)

	events, _ := sink.Recent(context.Background(), "acme", 10)
	require.Len(t, events, 1)
	assert.Equal(t, "roster", events[0].Endpoint)
	assert.Equal(t, "aggregation", events[0].Component)
	assert.Equal(t, "HIGH", events[0].Priority)
	assert.Equal(t, telemetry.ReasonBudgetExhausted, events[0].Reason)
}

func TestWait_SucceedsAfterRefillDuringBackoff(t *testing.T) {
	var l *Limiter
	var clock *fakeClock
	l, clock = newTestLimiter(config.RateLimitConfig{Capacity: 1, High: 1, RefillPeriod: time.Second, MaxAttempts: 3},
		WithSleeper(func(_ context.Context, d time.Duration) error {
			clock.Advance(time.Second)
			return nil
		}))

	require.True(t, l.TryConsume("acme", High))
	assert.NoError(t, l.Wait(context.Background(), Request{Tenant: "acme", Priority: High}))
}

func TestWait_ContextCancelledDuringBackoff(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 1, Low: 0, High: 1, RefillPeriod: time.Minute, MaxAttempts: 3, BaseBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx, Request{Tenant: "acme", Priority: Low})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, errorx.KindUpstreamTimeout, errorx.KindOf(err))
}

func TestExecute(t *testing.T) {
	l, _ := newTestLimiter(config.RateLimitConfig{Capacity: 1, High: 1, RefillPeriod: time.Minute, MaxAttempts: 1})

	calls := 0
	v, err := Execute(context.Background(), l, Request{Tenant: "acme", Priority: High}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	err = l.ExecuteWithBudget(context.Background(), Request{Tenant: "acme", Priority: High}, func(context.Context) error {
		calls++
		return errors.New("must not run")
	})
	assert.ErrorIs(t, err, errorx.ErrRateLimitExceeded)
	assert.Equal(t, 1, calls)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("medium")
	require.NoError(t, err)
	assert.Equal(t, Medium, p)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "LOW", Low.String())
}
