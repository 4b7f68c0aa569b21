package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	apiErrorsTotal       *prometheus.CounterVec
	activeConnections    prometheus.Gauge

	jobsTotal             *prometheus.CounterVec
	jobDuration           prometheus.Histogram
	providerFetchTotal    *prometheus.CounterVec
	providerFetchDuration *prometheus.HistogramVec
	fallbackWritesTotal   *prometheus.CounterVec
	storeHealthy          prometheus.Gauge
}

// NewMetrics 在给定的 registry 上注册指标，registry 为空时新建一个
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections_active",
				Help: "Number of active job progress WebSocket connections",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_jobs_total",
				Help: "Backtest job state transitions",
			},
			[]string{"state"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backtest_job_duration_seconds",
				Help:    "Wall time of finished backtest jobs",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		providerFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_fetch_total",
				Help: "Historical data fetch attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_fetch_duration_seconds",
				Help:    "Historical data fetch latency by provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		fallbackWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_fallback_writes_total",
				Help: "Job store operations served by the in-memory fallback",
			},
			[]string{"op"},
		),
		storeHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_healthy",
				Help: "1 when the durable job store answers pings",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.apiErrorsTotal,
		m.activeConnections,
		m.jobsTotal,
		m.jobDuration,
		m.providerFetchTotal,
		m.providerFetchDuration,
		m.fallbackWritesTotal,
		m.storeHealthy,
	)

	return m
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// Handler returns the Prometheus metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProviderFetch 记录一次行情源调用
func (m *Metrics) ObserveProviderFetch(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerFetchTotal.WithLabelValues(provider, outcome).Inc()
	m.providerFetchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordJobState 记录任务状态变更
func (m *Metrics) RecordJobState(state string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(state).Inc()
}

// ObserveJobDuration 记录任务耗时
func (m *Metrics) ObserveJobDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(d.Seconds())
}

// RecordFallbackWrite 记录一次降级到内存的存储操作
func (m *Metrics) RecordFallbackWrite(op string) {
	if m == nil {
		return
	}
	m.fallbackWritesTotal.WithLabelValues(op).Inc()
}

// SetStoreHealthy 设置持久化存储健康状态
func (m *Metrics) SetStoreHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.storeHealthy.Set(1)
	} else {
		m.storeHealthy.Set(0)
	}
}

// ConnectionOpened websocket 连接数加一
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed websocket 连接数减一
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}
