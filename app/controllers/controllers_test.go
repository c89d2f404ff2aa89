package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aihub/chat-backend/app/middleware"
	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/services"
	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPSink_DefersStatusUntilFirstChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newHTTPSink(rec)

	require.NoError(t, sink.Begin(services.TurnMeta{
		ConversationID:   12,
		DraftID:          "draft-1",
		NewConversation:  true,
		MemoryUsed:       true,
		MemorySnippets:   2,
		ContextTruncated: false,
	}))
	assert.False(t, sink.started)
	assert.Equal(t, "12", rec.Header().Get(HeaderConversationID))
	assert.Equal(t, "draft-1", rec.Header().Get(HeaderDraftID))
	assert.Equal(t, "true", rec.Header().Get(HeaderNewConversation))
	assert.Equal(t, "true", rec.Header().Get(HeaderMemoryUsed))
	assert.Equal(t, "2", rec.Header().Get(HeaderMemoryCount))
	assert.Equal(t, "false", rec.Header().Get(HeaderContextTruncated))

	require.NoError(t, sink.Write("Hello"))
	require.NoError(t, sink.Write(" world"))
	assert.True(t, sink.started)
	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestHTTPSink_FinishWithoutChunks(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newHTTPSink(rec)
	require.NoError(t, sink.Begin(services.TurnMeta{}))
	sink.finish()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get(HeaderConversationID))
}

func TestChatController_RejectsBeforeStreaming(t *testing.T) {
	Bind(&Dependencies{
		Config:     &config.Config{},
		Chat:       services.NewChatService(services.ChatDeps{}, services.ChatOptions{}),
		Errors:     errors.NewErrorHandler(zap.NewNop(), nil),
		Translator: errors.NewErrorTranslator(),
		Logger:     zap.NewNop(),
	})
	web.BConfig.CopyRequestBody = true
	web.InsertFilter("/test/authed/*", web.BeforeRouter, func(ctx *beecontext.Context) {
		ctx.Input.SetData(middleware.UserIDKey, uint(1))
	})
	web.Router("/test/authed/chat", &ChatController{}, "post:Chat")
	web.Router("/test/anonymous/chat", &ChatController{}, "post:Chat")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing user", "/test/anonymous/chat", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"malformed json", "/test/authed/chat", `{"messages":`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"no messages", "/test/authed/chat", `{"messages":[]}`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			web.BeeApp.Handlers.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
			assert.Empty(t, rec.Header().Get(HeaderConversationID))
		})
	}
}
