package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aihub/chat-backend/internal/config"
	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.UpstreamKind
	}{
		{"not configured", ErrNotConfigured, apperrors.UpstreamConfiguration},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, apperrors.UpstreamConfiguration},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, apperrors.UpstreamServiceUnavailable},
		{"bad gateway", &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("x")}, apperrors.UpstreamServiceUnavailable},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, apperrors.UpstreamUnknown},
		{"deadline", context.DeadlineExceeded, apperrors.UpstreamServiceUnavailable},
		{"refused", errors.New("dial tcp: connection refused"), apperrors.UpstreamServiceUnavailable},
		{"other", errors.New("weird"), apperrors.UpstreamUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestToAppError_RetryAfter(t *testing.T) {
	appErr := ToAppError(&openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable})
	assert.Equal(t, apperrors.ErrCodeServiceUnavailable, appErr.Code)
	assert.Equal(t, DefaultRetryAfter, appErr.RetryAfter)

	appErr = ToAppError(ErrNotConfigured)
	assert.Equal(t, apperrors.ErrCodeModelConfiguration, appErr.Code)
	assert.Zero(t, appErr.RetryAfter)
}

func TestMarkRetryable(t *testing.T) {
	assert.True(t, IsRetryableError(MarkRetryable(&openai.APIError{HTTPStatusCode: 503})))
	assert.False(t, IsRetryableError(MarkRetryable(&openai.APIError{HTTPStatusCode: 401})))
	assert.False(t, IsRetryableError(MarkRetryable(context.Canceled)))
	assert.Nil(t, MarkRetryable(nil))
}

func TestNewOpenAIModel_RequiresKey(t *testing.T) {
	_, err := NewOpenAIModel(config.AIConfig{Model: "gpt-4o-mini"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUnconfiguredModel(t *testing.T) {
	model := NewUnconfiguredModel("gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", model.Name())

	stream, err := model.Stream(context.Background(), Request{})
	assert.Nil(t, stream)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, apperrors.UpstreamConfiguration, Classify(err))
}

func TestOpenAIModel_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" world"}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			`[DONE]`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	model, err := NewOpenAIModel(config.AIConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"})
	require.NoError(t, err)

	stream, err := model.Stream(context.Background(), Request{
		Messages: []Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, []string{"Hello", " world"}, chunks)
	result := stream.Result()
	assert.Equal(t, "Hello world", result.Text)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 7, result.Usage.TotalTokens)
	assert.Equal(t, "gpt-test", result.Usage.Model)
	assert.Equal(t, "stop", result.Usage.FinishReason)
	assert.True(t, strings.HasPrefix(model.Name(), "gpt"))
}
