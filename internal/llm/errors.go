package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/sashabaranov/go-openai"
)

// ErrNotConfigured 模型凭证缺失
var ErrNotConfigured = errors.New("model provider is not configured")

// DefaultRetryAfter 服务不可用时给客户端的重试提示
const DefaultRetryAfter = 30 * time.Second

// RetryableError 表示可重试的错误
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否可重试
func IsRetryableError(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// Classify 将模型调用错误归类
func Classify(err error) apperrors.UpstreamKind {
	if err == nil {
		return apperrors.UpstreamUnknown
	}
	if errors.Is(err, ErrNotConfigured) {
		return apperrors.UpstreamConfiguration
	}

	if status := statusCode(err); status != 0 {
		switch {
		case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
			return apperrors.UpstreamConfiguration
		case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
			return apperrors.UpstreamServiceUnavailable
		default:
			return apperrors.UpstreamUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.UpstreamServiceUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.UpstreamServiceUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "model_not_found"):
		return apperrors.UpstreamConfiguration
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "overloaded"), strings.Contains(msg, "unavailable"):
		return apperrors.UpstreamServiceUnavailable
	}
	return apperrors.UpstreamUnknown
}

// ToAppError 将模型错误转换为带用户提示的AppError
func ToAppError(err error) *apperrors.AppError {
	kind := Classify(err)
	appErr := apperrors.NewUpstreamError(kind, err)
	if kind == apperrors.UpstreamServiceUnavailable {
		appErr.WithRetryAfter(DefaultRetryAfter)
	}
	return appErr
}

// MarkRetryable 服务不可用类错误包装为可重试错误
func MarkRetryable(err error) error {
	if err == nil || IsRetryableError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if Classify(err) == apperrors.UpstreamServiceUnavailable {
		return &RetryableError{Err: err}
	}
	return err
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
