package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger  *zap.Logger
	monitor *ErrorMonitor
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *zap.Logger, monitor *ErrorMonitor) *ErrorHandler {
	return &ErrorHandler{
		logger:  logger,
		monitor: monitor,
	}
}

// Handle 处理错误并转换为HTTP响应
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	start := time.Now()
	appErr := GetAppError(err)

	if h.monitor != nil {
		h.monitor.RecordError(appErr, r.URL.Path, time.Since(start))
	}
	h.logError(appErr, r)

	w.Header().Set("Content-Type", "application/json")
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}
	w.WriteHeader(appErr.HTTPCode)

	body, jsonErr := json.Marshal(BuildErrorBody(appErr))
	if jsonErr != nil {
		h.logger.Error("Failed to marshal error response", zap.Error(jsonErr))
		fmt.Fprint(w, `{"error": {"code": "INTERNAL_SERVER_ERROR", "message": "Failed to process error response"}}`)
		return
	}
	_, _ = w.Write(body)
}

// BuildErrorBody 构建统一错误响应体
func BuildErrorBody(appErr *AppError) map[string]interface{} {
	payload := map[string]interface{}{
		"code":    string(appErr.Code),
		"message": appErr.Message,
		"type":    getErrorTypeString(appErr.Type),
	}
	if appErr.Details != nil && shouldIncludeDetails(appErr) {
		payload["details"] = appErr.Details
	}
	if appErr.RetryAfter > 0 {
		payload["retry_after"] = int(appErr.RetryAfter.Seconds())
	}

	response := map[string]interface{}{"error": payload}
	if appErr.RequestID != "" {
		response["request_id"] = appErr.RequestID
	}
	return response
}

// logError 记录错误日志
func (h *ErrorHandler) logError(appErr *AppError, r *http.Request) {
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", getErrorTypeString(appErr.Type)),
		zap.Int("http_code", appErr.HTTPCode),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", getClientIP(r)),
	}
	if appErr.RequestID != "" {
		fields = append(fields, zap.String("request_id", appErr.RequestID))
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.NamedError("cause", appErr.Cause))
	}

	switch appErr.Type {
	case ErrorTypeSystem:
		h.logger.Error("System error occurred", fields...)
	case ErrorTypeBusiness, ErrorTypeExternal:
		h.logger.Warn("Request failed", fields...)
	default:
		h.logger.Info("Validation error occurred", fields...)
	}
}

// getErrorTypeString 获取错误类型字符串
func getErrorTypeString(errorType ErrorType) string {
	switch errorType {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// shouldIncludeDetails 系统错误和外部错误不暴露详情
func shouldIncludeDetails(appErr *AppError) bool {
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeBusiness:
		return true
	default:
		return false
	}
}

// getClientIP 获取客户端IP地址
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}
