package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"backtester/internal/errors"
	"backtester/internal/logger"
)

// ContextUserID 认证通过后写入 gin.Context 的用户标识
const ContextUserID = "user_id"

// JWTAuth HS256 Bearer 认证；secret 为空时不做认证
func JWTAuth(secret string, log logger.Logger) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			RespondError(c, log, errors.NewAppError(errors.ErrCodeUnauthorized, "Missing bearer token", nil))
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			RespondError(c, log, errors.NewAppError(errors.ErrCodeUnauthorized, "Invalid or expired token", err))
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// IssueToken 签发 HS256 令牌，用于运维脚本与测试
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
