package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/logger"
	"backtester/internal/market/provider"
	"backtester/internal/middleware"
	"backtester/internal/monitoring"
	"backtester/internal/orchestrator"
	"backtester/internal/store"
	"backtester/internal/testutils"
)

var fixedNow = testutils.Day(2024, time.June, 1)

type testServer struct {
	server  *Server
	http    *testutils.HTTPTestHelper
	manager *orchestrator.Manager
	stub    *testutils.StubProvider
}

func newTestServer(t *testing.T, cfg *config.Config, delay time.Duration) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()
	cfg.Monitoring.PrometheusEnabled = true

	start := testutils.Day(2023, time.January, 1)
	stub := testutils.NewStubProvider("stub",
		testutils.RisingSeries("AAPL", start, 200, 100, 140),
		testutils.RisingSeries("MSFT", start, 200, 250, 300),
		testutils.RisingSeries("SPY", start, 200, 380, 400))
	stub.Delay = delay

	log := logger.NewNop()
	metrics := monitoring.NewMetrics(nil)
	chain := provider.NewChain(provider.ChainOptions{Logger: log, Observer: metrics})
	chain.Register(stub)

	now := func() time.Time { return fixedNow }
	svc := backtest.NewService(chain, backtest.Options{Logger: log, Now: now})
	mem := store.NewMemory()
	queue := orchestrator.NewTaskQueue(2, 10, log)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	manager := orchestrator.NewManager(mem, svc, queue, orchestrator.ManagerOptions{Metrics: metrics, Logger: log})
	t.Cleanup(func() {
		cancel()
		queue.Stop()
	})

	srv := NewServer(cfg, Dependencies{
		Manager: manager,
		Service: svc,
		Store:   mem,
		Chain:   chain,
		Queue:   queue,
		Metrics: metrics,
		Logger:  log,
	})
	return &testServer{
		server:  srv,
		http:    testutils.NewHTTPTestHelper(t, srv.Router()),
		manager: manager,
		stub:    stub,
	}
}

func singleAsset() map[string]interface{} {
	return map[string]interface{}{
		"assets":        []map[string]interface{}{{"symbol": "AAPL", "allocation": 100}},
		"start_date":    "2023-01-01",
		"end_date":      "2023-06-30",
		"strategy_type": "buy_and_hold",
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func decode(t *testing.T, resp *testutils.HTTPResponse, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, resp.GetJSON(&env), string(resp.Body))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (ts *testServer) submit(t *testing.T, body interface{}) string {
	t.Helper()
	var sub SubmitResponse
	env := decode(t, ts.http.POST("/api/v1/backtest/run", body, nil).AssertStatus(http.StatusOK), &sub)
	require.True(t, env.Success)
	assert.Equal(t, orchestrator.JobPending, sub.Status)
	assert.Equal(t, orchestrator.MessageQueued, sub.Message)
	require.NotEmpty(t, sub.RequestID)
	return sub.RequestID
}

func (ts *testServer) status(t *testing.T, id string) orchestrator.Job {
	t.Helper()
	var job orchestrator.Job
	decode(t, ts.http.GET("/api/v1/backtest/status/"+id, nil).AssertStatus(http.StatusOK), &job)
	return job
}

func TestRunStatusResults(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	id := ts.submit(t, singleAsset())

	testutils.WaitForCondition(t, func() bool {
		return ts.status(t, id).Status == orchestrator.JobCompleted
	}, 3*time.Second, "backtest did not complete")

	job := ts.status(t, id)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, orchestrator.MessageCompleted, job.Message)
	assert.Nil(t, job.Result)

	var results backtest.Results
	decode(t, ts.http.GET("/api/v1/backtest/results/"+id, nil).AssertStatus(http.StatusOK), &results)
	assert.Equal(t, id, results.RequestID)
	assert.Len(t, results.EquityCurve, 181)
	assert.Greater(t, results.Metrics.TotalReturn, 0.0)
	require.NotNil(t, results.BenchmarkComparison)

	resp := ts.http.DELETE("/api/v1/backtest/cancel/"+id, nil).AssertStatus(http.StatusBadRequest)
	env := decode(t, resp, nil)
	assert.Equal(t, "JOB_TERMINAL", env.Code)
	assert.Equal(t, "Cannot cancel backtest with status: completed", env.Error)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	body := singleAsset()
	body["assets"] = []map[string]interface{}{{"symbol": "AAPL", "allocation": 50}}
	env := decode(t, ts.http.POST("/api/v1/backtest/run", body, nil).AssertStatus(http.StatusBadRequest), nil)
	assert.False(t, env.Success)
	assert.Equal(t, "INVALID_INPUT", env.Code)
	assert.Contains(t, string(env.Data), "problems")

	ts.http.Request(http.MethodPost, "/api/v1/backtest/run", "not an object", nil).AssertStatus(http.StatusBadRequest)
	assert.Zero(t, ts.stub.Calls())
}

func TestUnknownJob(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	for _, path := range []string{"/api/v1/backtest/status/bt_missing", "/api/v1/backtest/results/bt_missing"} {
		env := decode(t, ts.http.GET(path, nil).AssertStatus(http.StatusNotFound), nil)
		assert.Equal(t, "JOB_NOT_FOUND", env.Code, path)
	}
	ts.http.DELETE("/api/v1/backtest/cancel/bt_missing", nil).AssertStatus(http.StatusNotFound)
}

func TestResultsBeforeCompletionAndCancel(t *testing.T) {
	ts := newTestServer(t, nil, 500*time.Millisecond)
	id := ts.submit(t, singleAsset())

	env := decode(t, ts.http.GET("/api/v1/backtest/results/"+id, nil).AssertStatus(http.StatusBadRequest), nil)
	assert.Equal(t, "JOB_NOT_COMPLETED", env.Code)
	assert.Contains(t, env.Error, "Backtest not completed. Current status:")

	env = decode(t, ts.http.DELETE("/api/v1/backtest/cancel/"+id, nil).AssertStatus(http.StatusOK), nil)
	assert.True(t, env.Success)
	assert.Equal(t, orchestrator.MessageCancelled, env.Message)

	job := ts.status(t, id)
	assert.Equal(t, orchestrator.JobCancelled, job.Status)
	assert.Equal(t, orchestrator.MessageCancelled, job.Message)
}

func TestQuickRun(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	var results backtest.Results
	decode(t, ts.http.POST("/api/v1/backtest/quick-run", singleAsset(), nil).AssertStatus(http.StatusOK), &results)
	assert.NotEmpty(t, results.RequestID)
	assert.Len(t, results.EquityCurve, 181)

	body := singleAsset()
	body["start_date"] = "2021-01-01"
	env := decode(t, ts.http.POST("/api/v1/backtest/quick-run", body, nil).AssertStatus(http.StatusBadRequest), nil)
	assert.Equal(t, "QUICK_RUN_LIMIT", env.Code)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	first := ts.submit(t, singleAsset())
	second := ts.submit(t, singleAsset())

	var page struct {
		Backtests []orchestrator.Job `json:"backtests"`
		Count     int                `json:"count"`
	}
	decode(t, ts.http.GET("/api/v1/backtest/history?limit=5", nil).AssertStatus(http.StatusOK), &page)
	assert.Equal(t, 2, page.Count)
	ids := []string{page.Backtests[0].ID, page.Backtests[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)

	ts.http.GET("/api/v1/backtest/history?limit=abc", nil).AssertStatus(http.StatusBadRequest)
	ts.http.GET("/api/v1/backtest/history?limit=0", nil).AssertStatus(http.StatusBadRequest)
}

func TestStrategies(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.http.GET("/api/v1/backtest/strategies", nil).
		AssertStatus(http.StatusOK).
		AssertContains(`"buy_and_hold"`).
		AssertContains(`"sma_crossover"`).
		AssertContains(`"bollinger_bands"`)
}

func TestValidateData(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	var result backtest.DataValidation
	decode(t, ts.http.GET("/api/v1/backtest/validate?symbols=aapl,%20XYZ&start_date=2023-01-01&end_date=2023-06-30", nil).
		AssertStatus(http.StatusOK), &result)
	assert.False(t, result.Valid)
	assert.Equal(t, 181, result.DataPoints["AAPL"])
	assert.Contains(t, result.Errors, "No data available for XYZ")

	env := decode(t, ts.http.GET("/api/v1/backtest/validate?symbols=AAPL&start_date=01/01/2023&end_date=2023-06-30", nil).
		AssertStatus(http.StatusBadRequest), nil)
	assert.Equal(t, "INVALID_INPUT", env.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	var health HealthStatus
	decode(t, ts.http.GET("/health", nil).AssertStatus(http.StatusOK), &health)
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.Store)
	assert.Equal(t, "memory", health.Store.Name)
	assert.True(t, health.Store.Healthy)
	assert.Equal(t, []string{"stub"}, health.Providers)
	require.NotNil(t, health.Queue)
	assert.Equal(t, 2, health.Queue.Workers)
}

func TestMetricsAndSwagger(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.http.GET("/api/v1/backtest/strategies", nil).AssertStatus(http.StatusOK)

	ts.http.GET("/metrics", nil).AssertStatus(http.StatusOK).AssertContains("http_requests_total")
	ts.http.GET("/swagger/doc.json", nil).AssertStatus(http.StatusOK).AssertContains("/backtest/run")
	ts.http.GET("/nope", nil).AssertStatus(http.StatusNotFound)
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}}
	ts := newTestServer(t, cfg, 0)

	ts.http.GET("/api/v1/backtest/strategies", nil).AssertStatus(http.StatusOK)
	ts.http.GET("/api/v1/backtest/strategies", nil).AssertStatus(http.StatusOK)
	env := decode(t, ts.http.GET("/api/v1/backtest/strategies", nil).AssertStatus(http.StatusTooManyRequests), nil)
	assert.Equal(t, "RATE_LIMIT", env.Code)

	// /health 不限流
	ts.http.GET("/health", nil).AssertStatus(http.StatusOK)
}

func TestJWTAuth(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: "test-secret"}}
	ts := newTestServer(t, cfg, 0)

	ts.http.GET("/api/v1/backtest/strategies", nil).AssertStatus(http.StatusUnauthorized)
	ts.http.GET("/api/v1/backtest/strategies", map[string]string{"Authorization": "Bearer garbage"}).
		AssertStatus(http.StatusUnauthorized)

	token, err := middleware.IssueToken("test-secret", "tester", time.Hour)
	require.NoError(t, err)
	ts.http.GET("/api/v1/backtest/strategies", map[string]string{"Authorization": "Bearer " + token}).
		AssertStatus(http.StatusOK)

	other, err := middleware.IssueToken("other-secret", "tester", time.Hour)
	require.NoError(t, err)
	ts.http.GET("/api/v1/backtest/strategies", map[string]string{"Authorization": "Bearer " + other}).
		AssertStatus(http.StatusUnauthorized)

	ts.http.GET("/health", nil).AssertStatus(http.StatusOK)
}

func TestCORSPreflight(t *testing.T) {
	cfg := &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}}
	ts := newTestServer(t, cfg, 0)

	resp := ts.http.Request(http.MethodOptions, "/api/v1/backtest/run", nil,
		map[string]string{"Origin": "https://app.example.com"})
	resp.AssertStatus(http.StatusNoContent)
	assert.Equal(t, "https://app.example.com", resp.Headers.Get("Access-Control-Allow-Origin"))

	resp = ts.http.GET("/health", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, resp.Headers.Get("Access-Control-Allow-Origin"))
}

type wsMessage struct {
	Type string           `json:"type"`
	Data orchestrator.Job `json:"data"`
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t, nil, 200*time.Millisecond)
	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()

	id := ts.submit(t, singleAsset())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backtest/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var received []wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		received = append(received, msg)
	}

	require.NotEmpty(t, received)
	assert.Equal(t, "status", received[0].Type)
	last := received[len(received)-1].Data
	assert.Equal(t, orchestrator.JobCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	for i := 1; i < len(received); i++ {
		assert.GreaterOrEqual(t, received[i].Data.Progress, received[i-1].Data.Progress)
	}
}

func TestWebSocketUnknownJob(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backtest/bt_missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
