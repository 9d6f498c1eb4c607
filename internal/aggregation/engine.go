// Package aggregation answers rider searches by fanning out over the live
// per-city feed and the roster directory and merging both views.
package aggregation

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/riderwatch/internal/cache"
	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/rider"
	"github.com/amoylab/riderwatch/internal/tenant"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/amoylab/riderwatch/internal/workerpool"
	"github.com/amoylab/riderwatch/pkg/metrics"
	"github.com/amoylab/riderwatch/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Source is the tenant-scoped partner surface the engine reads
type Source interface {
	CityCouriers(ctx context.Context, tenant string, city int64, page, size int) (*upstream.CourierPage, error)
	Roster(ctx context.Context, tenant string) ([]upstream.Employee, error)
}

// Directory resolves tenants
type Directory interface {
	Get(id string) (*tenant.Tenant, error)
}

// Engine is the dual-source search engine. It owns its worker pools; call
// Start before use and Shutdown when done.
type Engine struct {
	logger  *zap.Logger
	cfg     config.AggregationConfig
	source  Source
	tenants Directory
	metrics *metrics.Metrics
	tracer  *trace.Builder

	live   *cache.Cache[[]rider.Record]
	roster *cache.Cache[[]rider.Record]

	fanout  *workerpool.Pool
	filters *workerpool.Pool
	conns   *semaphore.Weighted
	flight  singleflight.Group

	// rosterGen is bumped by InvalidateRoster; a fetch started under an
	// older generation does not fill the cache
	rosterMu  sync.Mutex
	rosterGen map[string]uint64

	pageDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	active    atomic.Int64
}

// Option configures an Engine
type Option func(*Engine)

// WithSleeper replaces the inter-page delay sleep
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithMetrics records search and pool metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine over the live and roster caches
func New(logger *zap.Logger, cfg config.AggregationConfig, source Source, tenants Directory,
	live, roster *cache.Cache[[]rider.Record], opts ...Option) *Engine {
	e := &Engine{
		logger:  logger.Named(cnst.ComponentAggregation),
		cfg:     cfg,
		source:  source,
		tenants: tenants,
		tracer:  trace.Tracer("riderwatch/aggregation"),
		live:    live,
		roster:  roster,
		conns:   semaphore.NewWeighted(max(cfg.MaxConcurrentCalls, 1)),
		sleep:   sleepContext,

		rosterGen: make(map[string]uint64),
	}
	if cfg.SafeRequestsPerSecond > 0 {
		e.pageDelay = time.Duration(float64(time.Second) / cfg.SafeRequestsPerSecond)
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fanout = workerpool.New(e.logger, "fanout", cfg.Workers, cfg.QueueSize, cfg.QueueWarnThreshold, e.metrics)
	e.filters = workerpool.New(e.logger, "filter", cfg.FilterWorkers, cfg.FilterWorkers*4, 0, e.metrics)
	return e
}

// Start launches the worker pools
func (e *Engine) Start() {
	e.fanout.Start()
	e.filters.Start()
}

// Shutdown drains the worker pools
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.fanout.Shutdown(ctx); err != nil {
		return err
	}
	return e.filters.Shutdown(ctx)
}

// ActiveSearches returns the number of searches in flight
func (e *Engine) ActiveSearches() int64 {
	return e.active.Load()
}

// CacheStats returns the live and roster cache statistics
func (e *Engine) CacheStats() map[cnst.Source]cache.Stats {
	return map[cnst.Source]cache.Stats{
		cnst.SourceLive:   e.live.Stats(),
		cnst.SourceRoster: e.roster.Stats(),
	}
}

// SweepCaches drops expired in-memory entries of both result caches
func (e *Engine) SweepCaches() int {
	return e.live.Sweep() + e.roster.Sweep()
}

func liveKey(tenantID string, city int64) string {
	return cache.Key(string(cnst.SourceLive), tenantID, strconv.FormatInt(city, 10))
}

func liveAllKey(tenantID string) string {
	return cache.Key(string(cnst.SourceLive), tenantID, "all")
}

func rosterKey(tenantID string) string {
	return cache.Key(string(cnst.SourceRoster), tenantID)
}

// Query is one search request
type Query struct {
	Caller   rider.Caller
	Filter   rider.Filter
	Page     int
	PageSize int
}

type pathResult struct {
	source   cnst.Source
	records  []rider.Record
	all      []rider.Record // unfiltered roster snapshot
	degraded bool
}

// Search returns one page of merged riders. Path timeouts and upstream
// failures degrade the page instead of failing it; the only error is an
// unknown tenant.
func (e *Engine) Search(ctx context.Context, q Query) (rider.Page, error) {
	start := time.Now()
	e.active.Add(1)
	e.metrics.SearchStart()
	degraded := false
	defer func() {
		e.active.Add(-1)
		e.metrics.SearchDone(start, degraded)
	}()

	t, err := e.tenants.Get(q.Caller.Tenant)
	if err != nil {
		return rider.Page{}, err
	}
	page, size := e.normalizePage(q.Page, q.PageSize)

	scope := rider.ResolveScope(q.Filter, q.Caller)
	if scope.Empty() {
		return rider.EmptyPage(page, size), nil
	}
	cities := scope.Cities
	if scope.All {
		cities = t.Cities
	}

	scopeSpan := e.tracer.Start(ctx, "aggregation.search").WithAttrs(
		attribute.String("tenant", t.ID),
		attribute.Int("cities", len(cities)),
		attribute.Bool("all_cities", scope.All),
	)
	defer scopeSpan.End()
	ctx = scopeSpan.Ctx

	results := make(chan pathResult, 2)
	go func() {
		recs, bad := e.livePath(ctx, t, cities)
		results <- pathResult{source: cnst.SourceLive, records: recs, degraded: bad}
	}()
	go func() {
		recs, all, bad := e.rosterPath(ctx, t.ID, q.Filter, scope)
		results <- pathResult{source: cnst.SourceRoster, records: recs, all: all, degraded: bad}
	}()

	var live, roster, rosterAll []rider.Record
	var degradedPaths []cnst.Source
	for range 2 {
		r := <-results
		if r.degraded {
			degradedPaths = append(degradedPaths, r.source)
		}
		if r.source == cnst.SourceLive {
			live = r.records
		} else {
			roster, rosterAll = r.records, r.all
		}
	}
	slices.Sort(degradedPaths)
	degraded = len(degradedPaths) > 0
	if len(degradedPaths) == 2 {
		e.logger.Warn("both search paths degraded", zap.String("tenant", t.ID))
	}

	out := e.assemble(t.ID, live, withLiveCounterparts(live, roster, rosterAll), q.Filter, scope, page, size)
	out.Degraded = degradedPaths
	scopeSpan.WithAttrs(attribute.Int("total", out.TotalElements), attribute.Bool("degraded", degraded))
	return out, nil
}

func (e *Engine) normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = e.cfg.DefaultPageSize
	}
	if e.cfg.MaxPageSize > 0 && size > e.cfg.MaxPageSize {
		size = e.cfg.MaxPageSize
	}
	return page, size
}

// assemble merges, filters and paginates. A panic yields an empty page.
func (e *Engine) assemble(tenantID string, live, roster []rider.Record, f rider.Filter, scope rider.Scope, page, size int) (out rider.Page) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("search merge failed", zap.String("tenant", tenantID), zap.Any("panic", r))
			out = rider.EmptyPage(page, size)
		}
	}()

	merged := rider.MergeAll(live, roster)
	matched := merged[:0]
	for _, r := range merged {
		if f.Match(r, scope, rider.Strict) {
			matched = append(matched, r)
		}
	}
	return rider.Paginate(matched, page, size, rider.PageOptions{
		FullSortThreshold: e.cfg.FullSortThreshold,
		LookAheadPages:    e.cfg.LookAheadPages,
	})
}

type cityResult struct {
	city    int64
	records []rider.Record
	err     error
}

// livePath fetches every city concurrently on the fan-out pool. On timeout
// it returns the cities that completed.
func (e *Engine) livePath(ctx context.Context, t *tenant.Tenant, cities []int64) ([]rider.Record, bool) {
	if len(cities) == 0 {
		return nil, false
	}
	covered := !slices.ContainsFunc(cities, func(c int64) bool { return !t.MonitorsCity(c) })
	if covered {
		if all, ok := e.live.Get(ctx, liveAllKey(t.ID)); ok {
			return all, false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LiveTimeout)
	defer cancel()

	results := make(chan cityResult, len(cities))
	for _, city := range cities {
		e.fanout.Submit(func() {
			r := cityResult{city: city}
			defer func() {
				if p := recover(); p != nil {
					r.err = fmt.Errorf("city %d fetch panicked: %v", city, p)
				}
				results <- r
			}()
			r.records, r.err = e.CityRiders(ctx, t.ID, city)
		})
	}

	var out []rider.Record
	degraded := false
	for received := 0; received < len(cities); received++ {
		select {
		case r := <-results:
			out = append(out, r.records...)
			if r.err != nil {
				degraded = true
				e.metrics.PathDegraded(string(cnst.SourceLive), "error")
				e.logger.Warn("live city fetch failed", zap.String("tenant", t.ID),
					zap.Int64("city", r.city), zap.Error(r.err))
			}
		case <-ctx.Done():
			e.metrics.PathDegraded(string(cnst.SourceLive), "timeout")
			e.logger.Warn("live path timed out", zap.String("tenant", t.ID),
				zap.Int("completed", received), zap.Int("cities", len(cities)))
			return out, true
		}
	}

	// only an unrestricted, complete fetch may serve later unfiltered searches
	if !degraded && covered && len(cities) == len(t.Cities) {
		e.live.Set(ctx, liveAllKey(t.ID), out)
	}
	return out, degraded
}

// CityRiders returns the live riders of one city, from cache or by paging
// through the city feed. Pages are fetched sequentially with a fixed delay
// while holding one upstream connection slot. On failure the pages read so
// far are returned with the error.
func (e *Engine) CityRiders(ctx context.Context, tenantID string, city int64) ([]rider.Record, error) {
	key := liveKey(tenantID, city)
	if recs, ok := e.live.Get(ctx, key); ok {
		return recs, nil
	}

	if err := e.conns.Acquire(ctx, 1); err != nil {
		return nil, errorx.New(errorx.KindUpstreamTimeout, "aggregation.city_riders", tenantID, err)
	}
	defer e.conns.Release(1)

	var out []rider.Record
	maxPages := max(e.cfg.MaxPages, 1)
	for page := 0; page < maxPages; page++ {
		if page > 0 && e.pageDelay > 0 {
			if err := e.sleep(ctx, e.pageDelay); err != nil {
				return out, errorx.New(errorx.KindUpstreamTimeout, "aggregation.city_riders", tenantID, err)
			}
		}
		resp, err := e.source.CityCouriers(ctx, tenantID, city, page, e.cfg.LivePageSize)
		if err != nil {
			return out, fmt.Errorf("city %d page %d: %w", city, page, err)
		}
		for _, c := range resp.Content {
			r := rider.FromCourier(c)
			if r.CityID == nil {
				r.CityID = &city
			}
			out = append(out, r)
		}
		if resp.IsLast {
			break
		}
		if page == maxPages-1 {
			e.logger.Warn("city feed hit the page cap", zap.String("tenant", tenantID),
				zap.Int64("city", city), zap.Int("pages", maxPages))
		}
	}
	e.live.Set(ctx, key, out)
	return out, nil
}

// withLiveCounterparts adds back the roster copy of every live rider the
// roster filter dropped, so the merged record keeps its roster-only fields.
// The strict filter after merging decides whether the rider matches.
func withLiveCounterparts(live, filtered, all []rider.Record) []rider.Record {
	if len(live) == 0 || len(all) == 0 {
		return filtered
	}
	missing := make(map[string]bool, len(live))
	for _, r := range live {
		missing[r.EmployeeID] = true
	}
	for _, r := range filtered {
		delete(missing, r.EmployeeID)
	}
	if len(missing) == 0 {
		return filtered
	}
	out := slices.Clone(filtered)
	for _, r := range all {
		if missing[r.EmployeeID] {
			out = append(out, r)
		}
	}
	return out
}

// rosterPath reads the roster snapshot and filters it on the filter pool. It
// also returns the unfiltered snapshot for enriching live riders.
func (e *Engine) rosterPath(ctx context.Context, tenantID string, f rider.Filter, scope rider.Scope) ([]rider.Record, []rider.Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RosterTimeout)
	defer cancel()

	all, err := e.Roster(ctx, tenantID)
	if err != nil {
		reason := "error"
		if ctx.Err() != nil {
			reason = "timeout"
		}
		e.metrics.PathDegraded(string(cnst.SourceRoster), reason)
		e.logger.Warn("roster path degraded", zap.String("tenant", tenantID), zap.String("reason", reason), zap.Error(err))
		return nil, nil, true
	}
	return e.parallelFilter(all, f, scope), all, false
}

// Roster returns the tenant's roster snapshot. Concurrent misses share one
// upstream call.
func (e *Engine) Roster(ctx context.Context, tenantID string) ([]rider.Record, error) {
	key := rosterKey(tenantID)
	if recs, ok := e.roster.Get(ctx, key); ok {
		return recs, nil
	}

	ch := e.flight.DoChan(key, func() (any, error) {
		e.rosterMu.Lock()
		gen := e.rosterGen[tenantID]
		e.rosterMu.Unlock()

		// detached so one caller giving up does not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RosterTimeout)
		defer cancel()
		employees, err := e.source.Roster(fctx, tenantID)
		if err != nil {
			return nil, err
		}
		recs := make([]rider.Record, 0, len(employees))
		for _, emp := range employees {
			recs = append(recs, rider.FromEmployee(emp))
		}

		e.rosterMu.Lock()
		defer e.rosterMu.Unlock()
		if e.rosterGen[tenantID] == gen {
			e.roster.Set(fctx, key, recs)
		} else {
			e.logger.Debug("roster invalidated during fetch, not cached", zap.String("tenant", tenantID))
		}
		return recs, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]rider.Record), nil
	case <-ctx.Done():
		return nil, errorx.New(errorx.KindUpstreamTimeout, "aggregation.roster", tenantID, ctx.Err())
	}
}

// InvalidateRoster drops the tenant's roster snapshot. A fetch already in
// flight neither fills the cache nor serves callers arriving afterwards.
func (e *Engine) InvalidateRoster(ctx context.Context, tenantID string) {
	key := rosterKey(tenantID)
	e.rosterMu.Lock()
	defer e.rosterMu.Unlock()
	e.rosterGen[tenantID]++
	e.flight.Forget(key)
	e.roster.Delete(ctx, key)
}

// parallelFilter splits the snapshot into one chunk per filter worker
func (e *Engine) parallelFilter(all []rider.Record, f rider.Filter, scope rider.Scope) []rider.Record {
	if len(all) == 0 {
		return nil
	}
	workers := max(e.cfg.FilterWorkers, 1)
	chunk := (len(all) + workers - 1) / workers
	parts := make([][]rider.Record, 0, workers)
	for lo := 0; lo < len(all); lo += chunk {
		parts = append(parts, all[lo:min(lo+chunk, len(all))])
	}

	matched := make([][]rider.Record, len(parts))
	done := make(chan struct{}, len(parts))
	for i, part := range parts {
		e.filters.Submit(func() {
			defer func() { done <- struct{}{} }()
			var keep []rider.Record
			for _, r := range part {
				if f.Match(r, scope, rider.Lenient) {
					keep = append(keep, r)
				}
			}
			matched[i] = keep
		})
	}
	for range parts {
		<-done
	}
	return slices.Concat(matched...)
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
