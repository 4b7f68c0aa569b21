package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"

	// 策略与参数错误
	ErrCodeStrategyInvalid  ErrorCode = "STRATEGY_INVALID"
	ErrCodeParameterInvalid ErrorCode = "PARAMETER_INVALID"
	ErrCodeQuickRunLimit    ErrorCode = "QUICK_RUN_LIMIT"

	// 行情数据错误
	ErrCodeMarketDataUnavailable ErrorCode = "MARKET_DATA_UNAVAILABLE"
	ErrCodeMarketDataInvalid     ErrorCode = "MARKET_DATA_INVALID"
	ErrCodeDataInsufficient      ErrorCode = "DATA_INSUFFICIENT"
	ErrCodeProviderFailed        ErrorCode = "PROVIDER_FAILED"

	// 计算错误
	ErrCodeComputation ErrorCode = "COMPUTATION_ERROR"

	// 任务生命周期错误
	ErrCodeJobNotFound     ErrorCode = "JOB_NOT_FOUND"
	ErrCodeJobNotCompleted ErrorCode = "JOB_NOT_COMPLETED"
	ErrCodeJobTerminal     ErrorCode = "JOB_TERMINAL"
	ErrCodeQueueFull       ErrorCode = "QUEUE_FULL"

	// 存储错误
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodePersistenceDegraded ErrorCode = "PERSISTENCE_DEGRADED"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeJobNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInvalidInput, ErrCodeStrategyInvalid, ErrCodeParameterInvalid,
		ErrCodeQuickRunLimit, ErrCodeJobNotCompleted, ErrCodeJobTerminal:
		return http.StatusBadRequest
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeQueueFull, ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeMarketDataUnavailable, ErrCodeDataInsufficient, ErrCodeMarketDataInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeComputation, ErrCodeStoreUnavailable, ErrCodeQueueFull:
		return SeverityHigh
	case ErrCodeMarketDataUnavailable, ErrCodeDataInsufficient, ErrCodeMarketDataInvalid,
		ErrCodeProviderFailed, ErrCodePersistenceDegraded:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable 判断错误是否可重试
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeProviderFailed, ErrCodeStoreUnavailable, ErrCodeQueueFull:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, path string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		Success:   false,
		Timestamp: time.Now(),
		Path:      path,
	}
}

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 已经是AppError则直接返回
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError 获取错误链中的应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode 判断错误链中是否包含指定代码
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
