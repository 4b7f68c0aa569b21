package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainCounters(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveProviderFetch("fmp", "success", 20*time.Millisecond)
	m.ObserveProviderFetch("fmp", "error", time.Millisecond)
	m.RecordJobState("completed")
	m.RecordFallbackWrite("set_fields")
	m.SetStoreHealthy(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerFetchTotal.WithLabelValues("fmp", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackWritesTotal.WithLabelValues("set_fields")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeHealthy))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProviderFetch("x", "success", time.Second)
		m.RecordJobState("failed")
		m.SetStoreHealthy(false)
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	router := gin.New()
	router.Use(m.MetricsMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `http_requests_total{endpoint="/ping",method="GET",status="200"} 1`)
}
