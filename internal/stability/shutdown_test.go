package stability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backtester/internal/logger"
)

func TestShutdownRunsByPriority(t *testing.T) {
	m := NewShutdownManager(time.Second, logger.NewNop())
	var order []string
	m.RegisterComponent("store", 10, func(context.Context) error { order = append(order, "store"); return nil })
	m.RegisterComponent("http_server", 100, func(context.Context) error { order = append(order, "http_server"); return nil })
	m.RegisterComponent("queue", 50, func(context.Context) error { order = append(order, "queue"); return errors.New("stuck") })

	result := m.Shutdown(context.Background())

	assert.Equal(t, []string{"http_server", "queue", "store"}, order)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"queue: stuck"}, result.Errors)
}

func TestShutdownOnlyOnce(t *testing.T) {
	m := NewShutdownManager(0, logger.NewNop())
	calls := 0
	m.RegisterComponent("x", 1, func(context.Context) error { calls++; return nil })

	assert.True(t, m.Shutdown(context.Background()).Success)
	second := m.Shutdown(context.Background())

	assert.False(t, second.Success)
	assert.Equal(t, 1, calls)
}
