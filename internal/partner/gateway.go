// Package partner scopes partner API calls to a tenant: every call is
// charged to the tenant's rate budget and carries the tenant's token.
package partner

import (
	"context"
	"errors"
	"net/http"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/ratelimit"
	"github.com/amoylab/riderwatch/internal/telemetry"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/amoylab/riderwatch/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// API is the partner surface used by the gateway
type API interface {
	CityCouriers(ctx context.Context, token string, city int64, page, size int) (*upstream.CourierPage, error)
	Roster(ctx context.Context, token string) ([]upstream.Employee, error)
	StartingPoints(ctx context.Context, token string, city int64) ([]upstream.StartingPoint, error)
	AssignStartingPoints(ctx context.Context, token, employeeID string, ids []int64) error
}

// Tokens yields and invalidates tenant bearer tokens
type Tokens interface {
	Token(ctx context.Context, tenant string) (string, error)
	Invalidate(tenant string)
}

var _ API = (*upstream.Client)(nil)

// Gateway is the tenant-scoped partner client
type Gateway struct {
	logger  *zap.Logger
	api     API
	tokens  Tokens
	limiter *ratelimit.Limiter
	sink    telemetry.Sink
	tracer  *trace.Builder
}

// NewGateway creates a gateway. sink may be nil.
func NewGateway(logger *zap.Logger, api API, tokens Tokens, limiter *ratelimit.Limiter, sink telemetry.Sink) *Gateway {
	return &Gateway{
		logger:  logger.Named("partner"),
		api:     api,
		tokens:  tokens,
		limiter: limiter,
		sink:    sink,
		tracer:  trace.Tracer("riderwatch/partner"),
	}
}

type call struct {
	tenant    string
	priority  ratelimit.Priority
	component string
	endpoint  string
}

// invoke runs fn under budget with the tenant token. A 401 invalidates the
// token and retries once; a 429 is reported to telemetry.
func invoke[T any](ctx context.Context, g *Gateway, c call, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	scope := g.tracer.Start(ctx, "partner."+c.endpoint).WithAttrs(
		attribute.String("tenant", c.tenant),
		attribute.String("priority", c.priority.String()),
	)
	defer scope.End()
	ctx = scope.Ctx

	for attempt := 0; ; attempt++ {
		err := g.limiter.Wait(ctx, ratelimit.Request{
			Tenant:    c.tenant,
			Priority:  c.priority,
			Component: c.component,
			Endpoint:  c.endpoint,
		})
		if err != nil {
			scope.RecordError(err)
			return zero, err
		}
		token, err := g.tokens.Token(ctx, c.tenant)
		if err != nil {
			scope.RecordError(err)
			return zero, err
		}

		v, err := fn(ctx, token)
		if err == nil {
			return v, nil
		}

		var se *upstream.StatusError
		if errors.As(err, &se) {
			switch se.Status {
			case http.StatusUnauthorized:
				g.tokens.Invalidate(c.tenant)
				if attempt == 0 {
					g.logger.Info("partner rejected token, refreshing",
						zap.String("tenant", c.tenant), zap.String("endpoint", c.endpoint))
					continue
				}
			case http.StatusTooManyRequests:
				g.logger.Warn("partner rate limited",
					zap.String("tenant", c.tenant), zap.String("endpoint", c.endpoint))
				if g.sink != nil {
					g.sink.Report(ctx, telemetry.Event{
						Tenant:     c.tenant,
						Endpoint:   c.endpoint,
						Component:  c.component,
						Priority:   c.priority.String(),
						Reason:     telemetry.ReasonUpstream429,
						StatusCode: se.Status,
					})
				}
			}
		}
		scope.RecordError(err)
		return zero, errorx.New(errorx.KindOf(err), "partner."+c.endpoint, c.tenant, err)
	}
}

// CityCouriers fetches one live page of a city at MEDIUM priority
func (g *Gateway) CityCouriers(ctx context.Context, tenant string, city int64, page, size int) (*upstream.CourierPage, error) {
	c := call{tenant, ratelimit.Medium, cnst.ComponentAggregation, cnst.EndpointCityCouriers}
	return invoke(ctx, g, c, func(ctx context.Context, token string) (*upstream.CourierPage, error) {
		return g.api.CityCouriers(ctx, token, city, page, size)
	})
}

// Roster fetches the tenant's full directory at LOW priority
func (g *Gateway) Roster(ctx context.Context, tenant string) ([]upstream.Employee, error) {
	c := call{tenant, ratelimit.Low, cnst.ComponentAggregation, cnst.EndpointRoster}
	return invoke(ctx, g, c, func(ctx context.Context, token string) ([]upstream.Employee, error) {
		return g.api.Roster(ctx, token)
	})
}

// StartingPoints lists a city's permitted work locations at HIGH priority
func (g *Gateway) StartingPoints(ctx context.Context, tenant string, city int64) ([]upstream.StartingPoint, error) {
	c := call{tenant, ratelimit.High, cnst.ComponentBlock, cnst.EndpointStartingPoints}
	return invoke(ctx, g, c, func(ctx context.Context, token string) ([]upstream.StartingPoint, error) {
		return g.api.StartingPoints(ctx, token, city)
	})
}

// AssignStartingPoints replaces a rider's permitted work locations at HIGH priority
func (g *Gateway) AssignStartingPoints(ctx context.Context, tenant, employeeID string, ids []int64) error {
	c := call{tenant, ratelimit.High, cnst.ComponentBlock, cnst.EndpointAssign}
	_, err := invoke(ctx, g, c, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, g.api.AssignStartingPoints(ctx, token, employeeID, ids)
	})
	return err
}
