package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"backtester/internal/config"
)

var (
	defaultMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	defaultHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
)

// CORS 允许配置中的来源；未配置来源时允许任意来源
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	wildcard := len(cfg.AllowedOrigins) == 0
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	methodList := strings.Join(methods, ", ")
	headerList := strings.Join(headers, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		}
		c.Header("Access-Control-Allow-Methods", methodList)
		c.Header("Access-Control-Allow-Headers", headerList)
		if cfg.AllowCredentials && origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
