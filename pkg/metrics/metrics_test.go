package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit("live")
		m.CacheMiss("live")
		m.SearchStart()
		m.SearchDone(time.Now(), false)
		m.PathDegraded("live", "timeout")
		m.PoolQueueDepth("fanout", 3)
		m.PoolCallerRun("fanout")
		m.BudgetRejected("acme", "HIGH")
		m.BudgetExhausted("acme", "HIGH")
		m.UpstreamDone("roster", time.Now(), 200)
		m.TokenRefresh("acme", true)
		m.BlockAction("acme", "BLOCK")
	})
}

func TestCountersAndGauges(t *testing.T) {
	m := New(config.MetricsConfig{Namespace: "rw", Buckets: []float64{0.1, 1}})
	m.CacheHit("live")
	m.CacheHit("live")
	m.CacheMiss("roster")
	m.SearchStart()
	m.BlockAction("acme", "BLOCK")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("roster")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchesActive))
	m.SearchDone(time.Now(), true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.searchesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockActions.WithLabelValues("acme", "BLOCK")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "rw", Buckets: []float64{0.1, 1}})
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `rw_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}
