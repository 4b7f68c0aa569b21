package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (*StructuredLogger, *bytes.Buffer) {
	t.Helper()
	l, ok := NewLogger(Config{Level: level, Format: FormatJSON, Output: "discard"}).(*StructuredLogger)
	require.True(t, ok)
	buf := &bytes.Buffer{}
	l.logger.SetOutput(buf)
	return l, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLoggerKeyValueFields(t *testing.T) {
	l, buf := newBufferLogger(t, LevelInfo)

	l.Info("provider failed", FieldProvider, "fmp", FieldSymbol, "AAPL", "error", errors.New("boom"))

	line := decodeLine(t, buf)
	assert.Equal(t, "provider failed", line["msg"])
	assert.Equal(t, "fmp", line[FieldProvider])
	assert.Equal(t, "AAPL", line[FieldSymbol])
	assert.Equal(t, "boom", line["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, LevelWarn)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLoggerDerivedSharesLevel(t *testing.T) {
	l, buf := newBufferLogger(t, LevelInfo)
	child := l.WithField(FieldJobID, "bt_1")

	l.SetLevel(LevelError)
	child.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, LevelError, child.GetLevel())
}

func TestLoggerWithContextRequestID(t *testing.T) {
	l, buf := newBufferLogger(t, LevelInfo)
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-9")

	l.WithContext(ctx).Info("hello")

	line := decodeLine(t, buf)
	assert.Equal(t, "req-9", line["request_id"])
}

func TestLogHTTPRequestLevelByStatus(t *testing.T) {
	l, buf := newBufferLogger(t, LevelInfo)

	LogHTTPRequest(l, HTTPRequestInfo{Method: "GET", Path: "/health", StatusCode: 503})

	line := decodeLine(t, buf)
	assert.Equal(t, logrus.ErrorLevel.String(), line["level"])
	assert.Equal(t, "GET /health - 503", line["msg"])
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l := NewLogger(Config{Level: "loud", Output: "discard"})
	assert.Equal(t, LevelInfo, l.GetLevel())
}
