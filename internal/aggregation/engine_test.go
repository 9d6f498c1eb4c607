package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amoylab/riderwatch/internal/cache"
	"github.com/amoylab/riderwatch/internal/common/cnst"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"
	"github.com/amoylab/riderwatch/internal/rider"
	"github.com/amoylab/riderwatch/internal/tenant"
	"github.com/amoylab/riderwatch/internal/upstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ptr[T any](v T) *T { return &v }

type fakeSource struct {
	mu         sync.Mutex
	pages      map[int64][]upstream.CourierPage
	roster     []upstream.Employee
	liveBlock  bool
	rosterWait time.Duration
	rosterErr  error

	liveCalls   atomic.Int32
	rosterCalls atomic.Int32
}

func (f *fakeSource) CityCouriers(ctx context.Context, _ string, city int64, page, _ int) (*upstream.CourierPage, error) {
	f.liveCalls.Add(1)
	if f.liveBlock {
		<-ctx.Done()
		return nil, errorx.New(errorx.KindUpstreamTimeout, "test", "", ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.pages[city]
	if page >= len(pages) {
		return &upstream.CourierPage{Content: []upstream.CityCourier{{EmployeeID: fmt.Sprintf("%d-extra-%d", city, page)}}}, nil
	}
	p := pages[page]
	return &p, nil
}

func (f *fakeSource) Roster(ctx context.Context, _ string) ([]upstream.Employee, error) {
	f.rosterCalls.Add(1)
	f.mu.Lock()
	roster := f.roster
	f.mu.Unlock()
	if f.rosterWait > 0 {
		select {
		case <-time.After(f.rosterWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return roster, f.rosterErr
}

func (f *fakeSource) setRoster(roster []upstream.Employee) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roster = roster
}

type directory map[string]*tenant.Tenant

func (d directory) Get(id string) (*tenant.Tenant, error) {
	if t, ok := d[id]; ok {
		return t, nil
	}
	return nil, errorx.Newf(errorx.KindNotFound, "tenant.get", id, "unknown tenant")
}

func testConfig() config.AggregationConfig {
	return config.AggregationConfig{
		LiveTimeout:           300 * time.Millisecond,
		RosterTimeout:         300 * time.Millisecond,
		MaxConcurrentCalls:    4,
		Workers:               4,
		QueueSize:             16,
		QueueWarnThreshold:    12,
		FilterWorkers:         2,
		SafeRequestsPerSecond: 4,
		LivePageSize:          2,
		MaxPages:              10,
		DefaultPageSize:       20,
		MaxPageSize:           100,
		FullSortThreshold:     1000,
		LookAheadPages:        2,
	}
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return nil
}

func newEngine(t *testing.T, src *fakeSource, cfg config.AggregationConfig, opts ...Option) (*Engine, *sleeps) {
	t.Helper()
	s := &sleeps{}
	opts = append([]Option{WithSleeper(s.sleep)}, opts...)
	dir := directory{"acme": {ID: "acme", Cities: []int64{804, 902}}}
	e := New(zap.NewNop(), cfg, src, dir,
		cache.New[[]rider.Record](zap.NewNop(), "live", 30*time.Second),
		cache.New[[]rider.Record](zap.NewNop(), "roster", 30*time.Minute),
		opts...)
	e.Start()
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e, s
}

func courier(id string, city int64, name string, working bool) upstream.CityCourier {
	return upstream.CityCourier{EmployeeID: id, CityID: ptr(city), Name: ptr(name), IsWorking: ptr(working)}
}

func employee(id string, city int64, name string) upstream.Employee {
	return upstream.Employee{EmployeeID: id, CityID: ptr(city), Name: ptr(name), Phone: ptr("+100" + id)}
}

func ids(p rider.Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, r := range p.Items {
		out = append(out, r.EmployeeID)
	}
	return out
}

func TestSearch_FilterCityOutsideCallerScope(t *testing.T) {
	src := &fakeSource{}
	e, _ := newEngine(t, src, testConfig())

	page, err := e.Search(context.Background(), Query{
		Caller: rider.Caller{Tenant: "acme", AllowedCities: []int64{902}},
		Filter: rider.Filter{CityID: ptr(int64(804))},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalElements)
	assert.Empty(t, page.Degraded)
	assert.Equal(t, int32(0), src.liveCalls.Load())
	assert.Equal(t, int32(0), src.rosterCalls.Load())
}

func TestSearch_LiveTimeoutReturnsRosterOnly(t *testing.T) {
	src := &fakeSource{
		liveBlock: true,
		roster:    []upstream.Employee{employee("1", 804, "Ana"), employee("2", 902, "Bo"), employee("3", 804, "Cy")},
	}
	cfg := testConfig()
	cfg.LiveTimeout = 50 * time.Millisecond
	e, _ := newEngine(t, src, cfg)

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, []string{"1", "2", "3"}, ids(page))
	assert.Equal(t, []cnst.Source{cnst.SourceLive}, page.Degraded)
}

func TestSearch_BothPathsTimeOut(t *testing.T) {
	src := &fakeSource{liveBlock: true, rosterWait: time.Second}
	cfg := testConfig()
	cfg.LiveTimeout = 30 * time.Millisecond
	cfg.RosterTimeout = 30 * time.Millisecond
	e, _ := newEngine(t, src, cfg)

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, []cnst.Source{cnst.SourceLive, cnst.SourceRoster}, page.Degraded)
}

func TestSearch_MergesLiveOverRoster(t *testing.T) {
	live := courier("1", 804, "Ana Live", true)
	live.Balance = ptr(decimal.RequireFromString("151"))
	src := &fakeSource{
		pages: map[int64][]upstream.CourierPage{
			804: {{Content: []upstream.CityCourier{live}, IsLast: true}},
			902: {{Content: []upstream.CityCourier{courier("5", 902, "Eve", false)}, IsLast: true}},
		},
		roster: []upstream.Employee{employee("1", 804, "Ana Roster"), employee("2", 902, "Bo")},
	}
	e, _ := newEngine(t, src, testConfig())

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Empty(t, page.Degraded)
	assert.Equal(t, 3, page.TotalElements)
	// active first, then by name
	assert.Equal(t, []string{"1", "2", "5"}, ids(page))

	ana := page.Items[0]
	assert.Equal(t, "Ana Live", *ana.Name)
	assert.Equal(t, "+1001", *ana.Phone)
	assert.Equal(t, "151", ana.Balance.String())
	assert.Equal(t, []cnst.Source{cnst.SourceLive, cnst.SourceRoster}, ana.Sources)
}

func TestSearch_FiltersAcrossViews(t *testing.T) {
	src := &fakeSource{
		pages: map[int64][]upstream.CourierPage{
			804: {{Content: []upstream.CityCourier{courier("1", 804, "Ana", true)}, IsLast: true}},
			902: {{IsLast: true}},
		},
		roster: []upstream.Employee{employee("1", 804, "Ana"), employee("2", 902, "Bo"), employee("3", 804, "Anabel")},
	}
	e, _ := newEngine(t, src, testConfig())
	ctx := context.Background()

	page, err := e.Search(ctx, Query{Caller: rider.Caller{Tenant: "acme"}, Filter: rider.Filter{Name: "ana"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(page))

	page, err = e.Search(ctx, Query{Caller: rider.Caller{Tenant: "acme"}, Filter: rider.Filter{IsWorking: ptr(true)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(page))

	page, err = e.Search(ctx, Query{Caller: rider.Caller{Tenant: "acme", AllowedCities: []int64{902}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(page))
}

func TestSearch_LiveMatchKeepsRosterFields(t *testing.T) {
	src := &fakeSource{
		pages: map[int64][]upstream.CourierPage{
			804: {{Content: []upstream.CityCourier{courier("1", 804, "Bob", true)}, IsLast: true}},
			902: {{IsLast: true}},
		},
		roster: []upstream.Employee{employee("1", 804, "Robert"), employee("2", 804, "Roberta")},
	}
	e, _ := newEngine(t, src, testConfig())

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}, Filter: rider.Filter{Name: "bob"}})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(page))
	bob := page.Items[0]
	assert.Equal(t, "Bob", *bob.Name)
	require.NotNil(t, bob.Phone)
	assert.Equal(t, "+1001", *bob.Phone)
	assert.Equal(t, []cnst.Source{cnst.SourceLive, cnst.SourceRoster}, bob.Sources)
}

func TestCityRiders_PagesSequentiallyWithDelay(t *testing.T) {
	src := &fakeSource{pages: map[int64][]upstream.CourierPage{
		804: {
			{Content: []upstream.CityCourier{courier("1", 804, "a", true), courier("2", 804, "b", true)}},
			{Content: []upstream.CityCourier{courier("3", 804, "c", true), {EmployeeID: "4"}}},
			{Content: []upstream.CityCourier{courier("5", 804, "e", true)}, IsLast: true},
		},
	}}
	e, s := newEngine(t, src, testConfig())

	recs, err := e.CityRiders(context.Background(), "acme", 804)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
	assert.Equal(t, int64(804), *recs[3].CityID, "city id defaults to the fetched city")
	assert.Equal(t, int32(3), src.liveCalls.Load())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, s.d)

	// served from the live cache
	_, err = e.CityRiders(context.Background(), "acme", 804)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.liveCalls.Load())
}

func TestCityRiders_PageCap(t *testing.T) {
	src := &fakeSource{pages: map[int64][]upstream.CourierPage{}}
	cfg := testConfig()
	cfg.MaxPages = 3
	e, _ := newEngine(t, src, cfg)

	recs, err := e.CityRiders(context.Background(), "acme", 17)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, int32(3), src.liveCalls.Load())
}

func TestSearch_UnrestrictedSearchUsesAllCitiesEntry(t *testing.T) {
	src := &fakeSource{pages: map[int64][]upstream.CourierPage{
		804: {{Content: []upstream.CityCourier{courier("1", 804, "Ana", true)}, IsLast: true}},
		902: {{Content: []upstream.CityCourier{courier("2", 902, "Bo", true)}, IsLast: true}},
	}}
	e, _ := newEngine(t, src, testConfig())
	ctx := context.Background()

	_, err := e.Search(ctx, Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	require.Equal(t, int32(2), src.liveCalls.Load())

	_, ok := e.live.Get(ctx, liveAllKey("acme"))
	assert.True(t, ok)

	page, err := e.Search(ctx, Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalElements)
	assert.Equal(t, int32(2), src.liveCalls.Load())
	assert.Greater(t, e.CacheStats()[cnst.SourceLive].Hits, int64(0))
}

func TestRoster_ConcurrentMissesShareOneCall(t *testing.T) {
	src := &fakeSource{rosterWait: 50 * time.Millisecond, roster: []upstream.Employee{employee("1", 804, "Ana")}}
	e, _ := newEngine(t, src, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := e.Roster(context.Background(), "acme")
			assert.NoError(t, err)
			assert.Len(t, recs, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.rosterCalls.Load())

	e.InvalidateRoster(context.Background(), "acme")
	_, err := e.Roster(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.rosterCalls.Load())
}

func TestRoster_InvalidateDuringFetchIsNotCached(t *testing.T) {
	src := &fakeSource{rosterWait: 100 * time.Millisecond, roster: []upstream.Employee{employee("1", 804, "Stale")}}
	e, _ := newEngine(t, src, testConfig())
	ctx := context.Background()

	first := make(chan []rider.Record, 1)
	go func() {
		recs, err := e.Roster(ctx, "acme")
		assert.NoError(t, err)
		first <- recs
	}()
	require.Eventually(t, func() bool { return src.rosterCalls.Load() == 1 }, time.Second, time.Millisecond)

	e.InvalidateRoster(ctx, "acme")
	src.setRoster([]upstream.Employee{employee("1", 804, "Fresh")})

	// arrives after the invalidation: must not join the older fetch
	recs, err := e.Roster(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Fresh", *recs[0].Name)

	stale := <-first
	require.Len(t, stale, 1)
	assert.Equal(t, "Stale", *stale[0].Name)

	recs, err = e.Roster(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", *recs[0].Name)
	assert.Equal(t, int32(2), src.rosterCalls.Load())
}

func TestRoster_CallerDeadlineHasTimeoutKind(t *testing.T) {
	src := &fakeSource{rosterWait: 200 * time.Millisecond}
	e, _ := newEngine(t, src, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Roster(ctx, "acme")
	assert.Equal(t, errorx.KindUpstreamTimeout, errorx.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_RosterErrorDegradesOnlyRoster(t *testing.T) {
	src := &fakeSource{
		pages: map[int64][]upstream.CourierPage{
			804: {{Content: []upstream.CityCourier{courier("1", 804, "Ana", true)}, IsLast: true}},
			902: {{IsLast: true}},
		},
		rosterErr: errorx.New(errorx.KindRateLimitExceeded, "test", "acme", errors.New("budget")),
	}
	e, _ := newEngine(t, src, testConfig())

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(page))
	assert.Equal(t, []cnst.Source{cnst.SourceRoster}, page.Degraded)
}

func TestSearch_UnknownTenant(t *testing.T) {
	e, _ := newEngine(t, &fakeSource{}, testConfig())
	_, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "initech"}})
	assert.ErrorIs(t, err, errorx.ErrNotFound)
}

func TestSearch_PageSizeBounds(t *testing.T) {
	roster := make([]upstream.Employee, 0, 30)
	for i := 0; i < 30; i++ {
		roster = append(roster, employee(fmt.Sprint(i), 804, fmt.Sprintf("r%02d", i)))
	}
	src := &fakeSource{pages: map[int64][]upstream.CourierPage{804: {{IsLast: true}}, 902: {{IsLast: true}}}, roster: roster}
	cfg := testConfig()
	cfg.MaxPageSize = 25
	e, _ := newEngine(t, src, cfg)

	page, err := e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}})
	require.NoError(t, err)
	assert.Equal(t, 20, page.PageSize)
	assert.Len(t, page.Items, 20)

	page, err = e.Search(context.Background(), Query{Caller: rider.Caller{Tenant: "acme"}, Page: 1, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 25, page.PageSize)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 30, page.TotalElements)
}
