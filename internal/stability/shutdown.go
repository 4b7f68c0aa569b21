package stability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"backtester/internal/logger"
)

// ShutdownStatus 组件关闭状态
type ShutdownStatus string

const (
	ShutdownStatusPending   ShutdownStatus = "pending"
	ShutdownStatusCompleted ShutdownStatus = "completed"
	ShutdownStatusFailed    ShutdownStatus = "failed"
	ShutdownStatusSkipped   ShutdownStatus = "skipped"
)

// ShutdownComponent 需要优雅关闭的组件
type ShutdownComponent struct {
	Name         string
	Priority     int
	ShutdownFunc func(ctx context.Context) error
	Timeout      time.Duration
	Status       ShutdownStatus
	Error        string
}

// ShutdownResult 关闭结果
type ShutdownResult struct {
	Success  bool
	Duration time.Duration
	Errors   []string
}

// ShutdownManager 按优先级(高者先)依次关闭组件
type ShutdownManager struct {
	mu               sync.Mutex
	components       []*ShutdownComponent
	componentTimeout time.Duration
	shuttingDown     bool
	log              logger.Logger
}

// NewShutdownManager 创建关闭管理器
func NewShutdownManager(componentTimeout time.Duration, log logger.Logger) *ShutdownManager {
	if componentTimeout <= 0 {
		componentTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ShutdownManager{componentTimeout: componentTimeout, log: log}
}

// RegisterComponent 注册组件
func (m *ShutdownManager) RegisterComponent(name string, priority int, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, &ShutdownComponent{
		Name:         name,
		Priority:     priority,
		ShutdownFunc: fn,
		Timeout:      m.componentTimeout,
		Status:       ShutdownStatusPending,
	})
}

// Shutdown 执行关闭，只会执行一次
func (m *ShutdownManager) Shutdown(ctx context.Context) *ShutdownResult {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return &ShutdownResult{Errors: []string{"Shutdown already in progress"}}
	}
	m.shuttingDown = true
	components := make([]*ShutdownComponent, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	sort.SliceStable(components, func(i, j int) bool {
		return components[i].Priority > components[j].Priority
	})

	start := time.Now()
	result := &ShutdownResult{Success: true}
	m.log.Info("Starting graceful shutdown", "components", len(components))

	for _, c := range components {
		if ctx.Err() != nil {
			c.Status = ShutdownStatusSkipped
			c.Error = "Shutdown cancelled"
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", c.Name, c.Error))
			result.Success = false
			continue
		}

		compCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := c.ShutdownFunc(compCtx)
		cancel()

		if err != nil {
			c.Status = ShutdownStatusFailed
			c.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Name, err))
			result.Success = false
			m.log.Warn("Component shutdown failed", "component", c.Name, "error", err)
			continue
		}
		c.Status = ShutdownStatusCompleted
		m.log.Debug("Component shut down", "component", c.Name)
	}

	result.Duration = time.Since(start)
	m.log.Info("Graceful shutdown completed", "duration", result.Duration.String(), "success", result.Success)
	return result
}
