package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"backtester/internal/errors"
	"backtester/internal/logger"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorHandler panic 恢复中间件
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		RespondError(c, log, errors.NewAppError(errors.ErrCodeInternal, "Internal server error", nil))
	})
}

// RespondError 按错误代码写响应并中止请求
func RespondError(c *gin.Context, log logger.Logger, err error) {
	if err == nil {
		return
	}
	appErr := errors.WrapError(err, errors.ErrCodeInternal, "Internal server error")
	if appErr.RequestID == "" {
		appErr.WithRequestID(getRequestID(c))
	}

	logError(c, log, appErr)

	c.AbortWithStatusJSON(appErr.HTTPStatus(), Response{
		Success: false,
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Data:    problemsOf(appErr),
	})
}

func problemsOf(appErr *errors.AppError) interface{} {
	if problems, ok := appErr.Context["problems"]; ok {
		return gin.H{"problems": problems}
	}
	if status, ok := appErr.Context["status"]; ok {
		return gin.H{"status": status}
	}
	return nil
}

// logError 按严重程度选择日志级别
func logError(c *gin.Context, log logger.Logger, err *errors.AppError) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", err.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}
	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}
	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		log.Error("Request failed", fields...)
	case errors.SeverityMedium:
		log.Warn("Request failed", fields...)
	default:
		log.Debug("Request rejected", fields...)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}
	return c.GetString(string(logger.RequestIDKey))
}

// NotFound 未匹配路由
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{Success: false, Error: "Route not found", Code: string(errors.ErrCodeNotFound)})
}
