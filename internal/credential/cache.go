// Package credential keeps one bearer token per tenant and refreshes it
// single-flight.
package credential

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/ratelimit"
	"github.com/amoylab/riderwatch/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultRefreshSkew is how long before expiry a token counts as stale
const DefaultRefreshSkew = 60 * time.Second

// Token is a bearer credential and its expiry
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Exchanger obtains a fresh token for a tenant from the token endpoint
type Exchanger interface {
	Exchange(ctx context.Context, tenant string) (*Token, error)
}

// ExchangerFunc adapts a function to Exchanger
type ExchangerFunc func(ctx context.Context, tenant string) (*Token, error)

// Exchange implements Exchanger
func (f ExchangerFunc) Exchange(ctx context.Context, tenant string) (*Token, error) {
	return f(ctx, tenant)
}

type entry struct {
	lock  *semaphore.Weighted // exclusive refresh lock of one tenant
	token atomic.Pointer[Token]
}

// Cache holds one token per tenant. Reads of a fresh token take no lock;
// a stale token is refreshed by exactly one caller while the others wait on
// that tenant's lock. Tenants never wait on each other.
type Cache struct {
	logger    *zap.Logger
	exchanger Exchanger
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	skew      time.Duration
	now       func() time.Time
	entries   sync.Map // map[tenant]*entry
}

// Option configures a Cache
type Option func(*Cache)

// WithLimiter charges every refresh to the tenant's HIGH budget
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Cache) { c.limiter = l }
}

// WithMetrics records refresh outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a token cache. A non-positive skew uses DefaultRefreshSkew.
func NewCache(logger *zap.Logger, exchanger Exchanger, skew time.Duration, opts ...Option) *Cache {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	c := &Cache{
		logger:    logger.Named(cnst.ComponentCredential),
		exchanger: exchanger,
		skew:      skew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entry(tenant string) *entry {
	if e, ok := c.entries.Load(tenant); ok {
		return e.(*entry)
	}
	e, _ := c.entries.LoadOrStore(tenant, &entry{lock: semaphore.NewWeighted(1)})
	return e.(*entry)
}

func (c *Cache) fresh(t *Token) bool {
	return t != nil && c.now().Before(t.ExpiresAt.Add(-c.skew))
}

// Token returns a fresh bearer token for the tenant, refreshing it if needed
func (c *Cache) Token(ctx context.Context, tenant string) (string, error) {
	e := c.entry(tenant)
	if t := e.token.Load(); c.fresh(t) {
		return t.Value, nil
	}

	if err := e.lock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.lock.Release(1)

	// another caller may have refreshed while we waited
	if t := e.token.Load(); c.fresh(t) {
		return t.Value, nil
	}

	t, err := c.refresh(ctx, tenant)
	if err != nil {
		return "", err
	}
	e.token.Store(t)
	return t.Value, nil
}

func (c *Cache) refresh(ctx context.Context, tenant string) (*Token, error) {
	if c.limiter != nil {
		err := c.limiter.Wait(ctx, ratelimit.Request{
			Tenant:    tenant,
			Priority:  ratelimit.High,
			Component: cnst.ComponentCredential,
			Endpoint:  cnst.EndpointToken,
		})
		if err != nil {
			return nil, err
		}
	}

	t, err := c.exchanger.Exchange(ctx, tenant)
	if err == nil && (t == nil || t.Value == "") {
		err = errorx.Newf(errorx.KindCredentialRefresh, "credential.refresh", tenant, "token endpoint returned an empty token")
	}
	c.metrics.TokenRefresh(tenant, err == nil)
	if err != nil {
		c.logger.Error("token refresh failed", zap.String("tenant", tenant), zap.Error(err))
		if errorx.Is(err, errorx.KindCredentialRefresh) {
			return nil, err
		}
		return nil, errorx.New(errorx.KindCredentialRefresh, "credential.refresh", tenant, err)
	}
	c.logger.Info("token refreshed", zap.String("tenant", tenant), zap.Time("expires_at", t.ExpiresAt))
	return t, nil
}

// Invalidate drops the tenant's token so the next call refreshes it
func (c *Cache) Invalidate(tenant string) {
	c.entry(tenant).token.Store(nil)
}
