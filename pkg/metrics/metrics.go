package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. Every recording method is safe on a nil
// receiver so components can run without metrics in tests.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	searchesActive prometheus.Gauge
	searchDur      *prometheus.HistogramVec
	pathDegraded   *prometheus.CounterVec
	poolQueueDepth *prometheus.GaugeVec
	poolCallerRuns *prometheus.CounterVec

	budgetRejects   *prometheus.CounterVec
	budgetExhausted *prometheus.CounterVec
	upstreamReqCnt  *prometheus.CounterVec
	upstreamDur     *prometheus.HistogramVec
	tokenRefreshCnt *prometheus.CounterVec
	blockActions    *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	cacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cache_hits_total"}, []string{"cache"})
	cacheMisses := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cache_misses_total"}, []string{"cache"})
	searchesActive := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "searches_active"})
	searchDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "search_duration_seconds", Buckets: cfg.Buckets}, []string{"degraded"})
	pathDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "search_path_degraded_total"}, []string{"path", "reason"})
	poolQueueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "pool_queue_depth"}, []string{"pool"})
	poolCallerRuns := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "pool_caller_runs_total"}, []string{"pool"})
	r.MustRegister(cacheHits, cacheMisses, searchesActive, searchDur, pathDegraded, poolQueueDepth, poolCallerRuns)

	budgetRejects := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "budget_rejections_total"}, []string{"tenant", "priority"})
	budgetExhausted := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "budget_exhausted_total"}, []string{"tenant", "priority"})
	upstreamReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "upstream_requests_total"}, []string{"endpoint", "status"})
	upstreamDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "upstream_request_duration_seconds", Buckets: cfg.Buckets}, []string{"endpoint"})
	tokenRefreshCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "token_refresh_total"}, []string{"tenant", "status"})
	blockActions := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "block_actions_total"}, []string{"tenant", "action"})
	r.MustRegister(budgetRejects, budgetExhausted, upstreamReqCnt, upstreamDur, tokenRefreshCnt, blockActions)

	return &Metrics{
		registry:        r,
		namespace:       ns,
		httpReqCnt:      httpReqCnt,
		httpDur:         httpDur,
		httpInfl:        httpInfl,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		searchesActive:  searchesActive,
		searchDur:       searchDur,
		pathDegraded:    pathDegraded,
		poolQueueDepth:  poolQueueDepth,
		poolCallerRuns:  poolCallerRuns,
		budgetRejects:   budgetRejects,
		budgetExhausted: budgetExhausted,
		upstreamReqCnt:  upstreamReqCnt,
		upstreamDur:     upstreamDur,
		tokenRefreshCnt: tokenRefreshCnt,
		blockActions:    blockActions,
	}
}

func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) SearchStart() {
	if m == nil {
		return
	}
	m.searchesActive.Inc()
}

func (m *Metrics) SearchDone(since time.Time, degraded bool) {
	if m == nil {
		return
	}
	m.searchDur.WithLabelValues(strconv.FormatBool(degraded)).Observe(time.Since(since).Seconds())
	m.searchesActive.Dec()
}

func (m *Metrics) PathDegraded(path, reason string) {
	if m == nil {
		return
	}
	m.pathDegraded.WithLabelValues(path, reason).Inc()
}

func (m *Metrics) PoolQueueDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.poolQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

func (m *Metrics) PoolCallerRun(pool string) {
	if m == nil {
		return
	}
	m.poolCallerRuns.WithLabelValues(pool).Inc()
}

func (m *Metrics) BudgetRejected(tenant, priority string) {
	if m == nil {
		return
	}
	m.budgetRejects.WithLabelValues(tenant, priority).Inc()
}

func (m *Metrics) BudgetExhausted(tenant, priority string) {
	if m == nil {
		return
	}
	m.budgetExhausted.WithLabelValues(tenant, priority).Inc()
}

func (m *Metrics) UpstreamDone(endpoint string, since time.Time, status int) {
	if m == nil {
		return
	}
	m.upstreamReqCnt.WithLabelValues(endpoint, httpStatus(status)).Inc()
	m.upstreamDur.WithLabelValues(endpoint).Observe(time.Since(since).Seconds())
}

func (m *Metrics) TokenRefresh(tenant string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.tokenRefreshCnt.WithLabelValues(tenant, status).Inc()
}

func (m *Metrics) BlockAction(tenant, action string) {
	if m == nil {
		return
	}
	m.blockActions.WithLabelValues(tenant, action).Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func httpStatus(code int) string { return strconv.Itoa(code) }
