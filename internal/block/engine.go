// Package block decides automatic cash-limit blocks from balance samples and
// applies them upstream by reassigning a rider's permitted starting points.
package block

import (
	"context"
	"time"

	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/amoylab/riderwatch/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Upstream applies block actions at the partner
type Upstream interface {
	StartingPoints(ctx context.Context, tenant string, city int64) ([]upstream.StartingPoint, error)
	AssignStartingPoints(ctx context.Context, tenant, employeeID string, ids []int64) error
}

// RosterInvalidator drops cached roster snapshots after an upstream change
type RosterInvalidator interface {
	InvalidateRoster(ctx context.Context, tenant string)
}

// Observation is one balance sample of a rider
type Observation struct {
	EmployeeID string
	CityID     int64
	Balance    decimal.Decimal
}

// Outcome is the result of one evaluation
type Outcome struct {
	Action Action  `json:"action"`
	Status *Status `json:"status"`
}

// Engine evaluates balance observations against city cash limits
type Engine struct {
	logger   *zap.Logger
	store    Store
	upstream Upstream
	roster   RosterInvalidator
	metrics  *metrics.Metrics
	now      func() time.Time
	locks    *keyedLock
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics counts decided actions
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a decision engine. roster may be nil.
func NewEngine(logger *zap.Logger, store Store, up Upstream, roster RosterInvalidator, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger.Named(cnst.ComponentBlock),
		store:    store,
		upstream: up,
		roster:   roster,
		now:      time.Now,
		locks:    newKeyedLock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func riderKey(tenant, employeeID string) string {
	return tenant + "/" + employeeID
}

// loadStatus returns the stored status or a fresh one for a first observation
func (e *Engine) loadStatus(ctx context.Context, tenant, employeeID string) (*Status, error) {
	st, err := e.store.GetStatus(ctx, tenant, employeeID)
	if errorx.Is(err, errorx.KindNotFound) {
		return &Status{Tenant: tenant, EmployeeID: employeeID}, nil
	}
	return st, err
}

// Evaluate records the balance sample and applies the resulting action.
// Samples of the same rider are evaluated one at a time. When the upstream
// call fails the sample is still recorded and the flags stay unchanged.
func (e *Engine) Evaluate(ctx context.Context, tenant string, obs Observation) (Outcome, error) {
	const op = "block.evaluate"
	if obs.EmployeeID == "" {
		return Outcome{}, errorx.Newf(errorx.KindValidation, op, tenant, "employee id is required")
	}

	unlock, err := e.locks.Lock(ctx, riderKey(tenant, obs.EmployeeID))
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	st, err := e.loadStatus(ctx, tenant, obs.EmployeeID)
	if err != nil {
		return Outcome{}, err
	}
	now := e.now()
	if obs.CityID != 0 {
		st.CityID = obs.CityID
	}
	st.LastBalance = decimal.NewNullDecimal(obs.Balance)
	st.LastBalanceCheckedAt = &now

	cfg, err := e.store.GetCityConfig(ctx, tenant, st.CityID)
	if err != nil && !errorx.Is(err, errorx.KindNotFound) {
		return Outcome{}, err
	}

	action := Decide(st.IsAutoBlocked, st.IsManualBlocked, cfg, obs.Balance)
	logger := e.logger.With(
		zap.String("tenant", tenant),
		zap.String("employee_id", obs.EmployeeID),
		zap.Int64("city_id", st.CityID),
		zap.String("balance", obs.Balance.StringFixed(2)),
		zap.Stringer("action", action),
	)

	var applyErr error
	switch action {
	case ActionBlock:
		if applyErr = e.upstream.AssignStartingPoints(ctx, tenant, obs.EmployeeID, []int64{}); applyErr == nil {
			st.IsAutoBlocked = true
			st.AutoBlockedAt = &now
		}
	case ActionUnblock:
		if applyErr = e.restore(ctx, tenant, st); applyErr == nil {
			st.IsAutoBlocked = false
			st.AutoUnblockedAt = &now
		}
	case ActionSkip:
		logger.Info("automatic unblock skipped, rider is manually blocked")
	}

	if err := e.store.SaveStatus(ctx, st); err != nil {
		return Outcome{Action: action, Status: st}, err
	}
	if action != ActionNone {
		e.metrics.BlockAction(tenant, action.String())
	}
	if applyErr != nil {
		logger.Warn("failed to apply block action", zap.Error(applyErr))
		return Outcome{Action: action, Status: st}, errorx.New(errorx.KindOf(applyErr), op, tenant, applyErr)
	}

	if action == ActionBlock || action == ActionUnblock {
		logger.Info("block action applied")
		if e.roster != nil {
			e.roster.InvalidateRoster(ctx, tenant)
		}
	}
	return Outcome{Action: action, Status: st}, nil
}

// restore assigns every starting point of the rider's city
func (e *Engine) restore(ctx context.Context, tenant string, st *Status) error {
	points, err := e.upstream.StartingPoints(ctx, tenant, st.CityID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	return e.upstream.AssignStartingPoints(ctx, tenant, st.EmployeeID, ids)
}

// SetManualBlock toggles the manual flag only. It never calls upstream; the
// flag takes effect on the next evaluation.
func (e *Engine) SetManualBlock(ctx context.Context, tenant, employeeID string, blocked bool, reason string) (*Status, error) {
	if employeeID == "" {
		return nil, errorx.Newf(errorx.KindValidation, "block.manual", tenant, "employee id is required")
	}
	unlock, err := e.locks.Lock(ctx, riderKey(tenant, employeeID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := e.loadStatus(ctx, tenant, employeeID)
	if err != nil {
		return nil, err
	}
	st.IsManualBlocked = blocked
	st.ManualReason = reason
	if blocked {
		now := e.now()
		st.ManualBlockedAt = &now
	} else {
		st.ManualBlockedAt = nil
	}
	if err := e.store.SaveStatus(ctx, st); err != nil {
		return nil, err
	}
	e.logger.Info("manual block changed",
		zap.String("tenant", tenant),
		zap.String("employee_id", employeeID),
		zap.Bool("blocked", blocked),
		zap.String("reason", reason))
	return st, nil
}

// Status returns the stored status of a rider
func (e *Engine) Status(ctx context.Context, tenant, employeeID string) (*Status, error) {
	return e.store.GetStatus(ctx, tenant, employeeID)
}

// SetCityConfig stores the cash limit of a city and derives its threshold
func (e *Engine) SetCityConfig(ctx context.Context, tenant string, cityID int64, enabled bool, cashLimit decimal.Decimal) (*CityConfig, error) {
	const op = "block.city_config"
	if cityID <= 0 {
		return nil, errorx.Newf(errorx.KindValidation, op, tenant, "invalid city id %d", cityID)
	}
	if !cashLimit.IsPositive() {
		return nil, errorx.Newf(errorx.KindValidation, op, tenant, "cash limit must be positive")
	}
	c := &CityConfig{Tenant: tenant, CityID: cityID, Enabled: enabled}
	c.SetCashLimit(cashLimit)
	if err := e.store.SaveCityConfig(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EnabledCities lists the cities of a tenant with automatic blocking on
func (e *Engine) EnabledCities(ctx context.Context, tenant string) ([]int64, error) {
	cfgs, err := e.store.ListCityConfigs(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, c := range cfgs {
		if c.Enabled {
			out = append(out, c.CityID)
		}
	}
	return out, nil
}

// Seed stores configured city limits that are not stored yet
func (e *Engine) Seed(ctx context.Context, seeds []config.CityBlockConfig) error {
	for _, s := range seeds {
		_, err := e.store.GetCityConfig(ctx, s.Tenant, s.CityID)
		if err == nil {
			continue
		}
		if !errorx.Is(err, errorx.KindNotFound) {
			return err
		}
		limit, err := decimal.NewFromString(s.CashLimit)
		if err != nil {
			return errorx.New(errorx.KindConfiguration, "block.seed", s.Tenant, err)
		}
		if _, err := e.SetCityConfig(ctx, s.Tenant, s.CityID, s.Enabled, limit); err != nil {
			return err
		}
	}
	return nil
}
