package stability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"backtester/internal/logger"
)

// RateLimiterType 限流器类型
type RateLimiterType string

const (
	RateLimiterTypeProvider RateLimiterType = "provider" // 行情源调用限流
	RateLimiterTypeClient   RateLimiterType = "client"   // API客户端限流(按IP)
)

// RateLimiterConfig 限流器配置
type RateLimiterConfig struct {
	Type           RateLimiterType
	RequestsPerSec float64
	Burst          int
	Window         time.Duration
	WaitTimeout    time.Duration
}

// RateLimiter 按 key 分桶的令牌桶限流器
type RateLimiter struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	configs   map[RateLimiterType]*RateLimiterConfig
	overrides map[string]*RateLimiterConfig
	stats     map[string]*RateLimitStats
}

// RateLimitStats 限流统计
type RateLimitStats struct {
	Allowed    int64
	Limited    int64
	LastReset  time.Time
	WindowSize time.Duration
}

// NewRateLimiter 创建限流器
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		configs:   make(map[RateLimiterType]*RateLimiterConfig),
		overrides: make(map[string]*RateLimiterConfig),
		stats:     make(map[string]*RateLimitStats),
	}

	rl.configs[RateLimiterTypeProvider] = &RateLimiterConfig{
		Type:           RateLimiterTypeProvider,
		RequestsPerSec: 5.0,
		Burst:          5,
		Window:         time.Minute,
		WaitTimeout:    30 * time.Second,
	}
	rl.configs[RateLimiterTypeClient] = &RateLimiterConfig{
		Type:           RateLimiterTypeClient,
		RequestsPerSec: 2.0,
		Burst:          20,
		Window:         time.Minute,
		WaitTimeout:    5 * time.Second,
	}

	return rl
}

// SetConfig 设置某类限流器的默认配置，只影响之后创建的桶
func (rl *RateLimiter) SetConfig(limiterType RateLimiterType, config *RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.configs[limiterType] = config
}

// SetKeyConfig 为单个 key 设置专属配置，已存在的桶会被替换
func (rl *RateLimiter) SetKeyConfig(key string, limiterType RateLimiterType, config *RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiterKey := limiterKeyOf(key, limiterType)
	rl.overrides[limiterKey] = config
	delete(rl.limiters, limiterKey)
}

func limiterKeyOf(key string, limiterType RateLimiterType) string {
	return fmt.Sprintf("%s:%s", limiterType, key)
}

func (rl *RateLimiter) configFor(limiterKey string, limiterType RateLimiterType) *RateLimiterConfig {
	if config := rl.overrides[limiterKey]; config != nil {
		return config
	}
	if config := rl.configs[limiterType]; config != nil {
		return config
	}
	return rl.configs[RateLimiterTypeProvider]
}

// GetLimiter 获取限流器
func (rl *RateLimiter) GetLimiter(key string, limiterType RateLimiterType) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiterKey := limiterKeyOf(key, limiterType)
	if limiter, exists := rl.limiters[limiterKey]; exists {
		return limiter
	}

	config := rl.configFor(limiterKey, limiterType)
	limit := rate.Limit(config.RequestsPerSec)
	if config.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, config.Burst)
	rl.limiters[limiterKey] = limiter

	if _, ok := rl.stats[limiterKey]; !ok {
		rl.stats[limiterKey] = &RateLimitStats{
			LastReset:  time.Now(),
			WindowSize: config.Window,
		}
	}

	return limiter
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string, limiterType RateLimiterType) bool {
	limiter := rl.GetLimiter(key, limiterType)
	allowed := limiter.Allow()

	rl.updateStats(key, limiterType, allowed)
	return allowed
}

// Wait 等待直到允许请求
func (rl *RateLimiter) Wait(ctx context.Context, key string, limiterType RateLimiterType) error {
	limiter := rl.GetLimiter(key, limiterType)

	rl.mu.RLock()
	timeout := rl.configFor(limiterKeyOf(key, limiterType), limiterType).WaitTimeout
	rl.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := limiter.Wait(ctx); err != nil {
		logger.Debug("Rate limiter wait failed", "limiter", limiterKeyOf(key, limiterType), "error", err)
		rl.updateStats(key, limiterType, false)
		return fmt.Errorf("rate limit wait for %s: %w", key, err)
	}

	rl.updateStats(key, limiterType, true)
	return nil
}

func (rl *RateLimiter) updateStats(key string, limiterType RateLimiterType, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiterKey := limiterKeyOf(key, limiterType)
	stats := rl.stats[limiterKey]
	if stats == nil {
		stats = &RateLimitStats{
			LastReset:  time.Now(),
			WindowSize: rl.configFor(limiterKey, limiterType).Window,
		}
		rl.stats[limiterKey] = stats
	}

	if stats.WindowSize > 0 && time.Since(stats.LastReset) >= stats.WindowSize {
		stats.Allowed = 0
		stats.Limited = 0
		stats.LastReset = time.Now()
	}

	if allowed {
		stats.Allowed++
	} else {
		stats.Limited++
	}
}

// GetStats 获取统计信息副本
func (rl *RateLimiter) GetStats(key string, limiterType RateLimiterType) *RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := rl.stats[limiterKeyOf(key, limiterType)]
	if stats == nil {
		return nil
	}
	copied := *stats
	return &copied
}

// GetAllStats 获取所有统计信息
func (rl *RateLimiter) GetAllStats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	result := make(map[string]RateLimitStats, len(rl.stats))
	for k, v := range rl.stats {
		result[k] = *v
	}
	return result
}
