package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"backtester/internal/config"
	"backtester/internal/errors"
	"backtester/internal/logger"
	"backtester/internal/stability"
)

// RateLimit 按客户端IP限流，超限返回 429
func RateLimit(limiter *stability.RateLimiter, cfg config.RateLimitConfig, log logger.Logger) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter.SetConfig(stability.RateLimiterTypeClient, &stability.RateLimiterConfig{
		Type:           stability.RateLimiterTypeClient,
		RequestsPerSec: float64(cfg.RequestsPerMinute) / 60,
		Burst:          cfg.Burst,
	})

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if !limiter.Allow(key, stability.RateLimiterTypeClient) {
			c.Header("Retry-After", "1")
			RespondError(c, log, errors.NewAppError(errors.ErrCodeRateLimit,
				fmt.Sprintf("Rate limit exceeded: %d requests per minute", cfg.RequestsPerMinute), nil))
			return
		}
		c.Next()
	}
}
