package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// 业务逻辑错误
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	// 持久化错误
	ErrCodePersistence      ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// 上游服务错误
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelConfiguration ErrorCode = "MODEL_CONFIGURATION_ERROR"
	ErrCodeUpstreamUnknown    ErrorCode = "UPSTREAM_ERROR"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"

	// 流式响应中断
	ErrCodeStreamInterrupted ErrorCode = "STREAM_INTERRUPTED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// UpstreamKind 上游错误分类
type UpstreamKind string

const (
	UpstreamServiceUnavailable UpstreamKind = "service_unavailable"
	UpstreamConfiguration      UpstreamKind = "configuration"
	UpstreamUnknown            UpstreamKind = "unknown"
)

// AppError 应用错误结构体
type AppError struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Type       ErrorType     `json:"type"`
	HTTPCode   int           `json:"-"`
	Details    interface{}   `json:"details,omitempty"`
	Cause      error         `json:"-"`
	RequestID  string        `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// WithRetryAfter 添加重试提示
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input for field '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewUnauthorizedError 创建未认证错误
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "Authentication required"
	}
	return &AppError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeResourceNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewPersistenceError 创建持久化错误
func NewPersistenceError(operation string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodePersistence,
		Message:  fmt.Sprintf("failed to %s", operation),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewUpstreamError 创建上游模型服务错误，不同分类给出不同的用户提示
func NewUpstreamError(kind UpstreamKind, cause error) *AppError {
	switch kind {
	case UpstreamServiceUnavailable:
		return &AppError{
			Code:     ErrCodeServiceUnavailable,
			Message:  "The AI service is temporarily unavailable. Please try again in a moment.",
			Type:     ErrorTypeExternal,
			HTTPCode: http.StatusServiceUnavailable,
			Cause:    cause,
		}
	case UpstreamConfiguration:
		return &AppError{
			Code:     ErrCodeModelConfiguration,
			Message:  "The AI service is not configured correctly. Please contact the administrator.",
			Type:     ErrorTypeExternal,
			HTTPCode: http.StatusInternalServerError,
			Cause:    cause,
		}
	default:
		return &AppError{
			Code:     ErrCodeUpstreamUnknown,
			Message:  "The AI service returned an unexpected error. Please try again.",
			Type:     ErrorTypeExternal,
			HTTPCode: http.StatusBadGateway,
			Cause:    cause,
		}
	}
}

// NewStreamInterruptedError 创建流中断错误（非失败终态）
func NewStreamInterruptedError(reason string) *AppError {
	return &AppError{
		Code:     ErrCodeStreamInterrupted,
		Message:  reason,
		Type:     ErrorTypeBusiness,
		HTTPCode: 499,
	}
}

// getHTTPCodeForError 根据错误码获取HTTP状态码
func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeResourceNotFound, ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeBadRequest, ErrCodeInvalidState:
		return http.StatusBadRequest
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// IsNotFound 判断是否为资源未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrCodeResourceNotFound || appErr.Code == ErrCodeNotFound
}
