package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/logger"
)

// TestConfig 测试配置
type TestConfig struct {
	LogLevel logger.LogLevel
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel: logger.LevelError, // 测试时减少日志输出
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Logger  logger.Logger
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	suite := &TestSuite{
		T:       t,
		Config:  config,
		Logger:  logger.NewLogger(logger.Config{Level: config.LogLevel, Format: logger.FormatText, Output: "discard"}),
		TempDir: t.TempDir(),
	}
	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
	s.Cleanup = nil
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	err := os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(s.T, err)
	return filePath
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router http.Handler
	T      *testing.T
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(t *testing.T, router http.Handler) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	return &HTTPTestHelper{Router: router, T: t}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil, headers)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodPost, path, body, headers)
}

// DELETE 发送DELETE请求
func (h *HTTPTestHelper) DELETE(path string, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodDelete, path, nil, headers)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		t:          h.T,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.t, expectedStatus, r.StatusCode, string(r.Body))
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.t, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// Eventually 最终断言
func Eventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	WaitForCondition(t, condition, timeout, message)
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}
