package controllers

import (
	"fmt"

	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/services"
	"go.uber.org/zap"
)

// ChatController 流式对话
type ChatController struct {
	BaseController
}

type regenerateRequest struct {
	Content *string `json:"content" validate:"omitempty,min=1"`
}

// Chat POST /api/chat
func (c *ChatController) Chat() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	var req services.ChatRequest
	if !c.decode(&req) {
		return
	}

	sink := newHTTPSink(c.Ctx.ResponseWriter)
	outcome, err := c.deps.Chat.Chat(c.Ctx.Request.Context(), userID, req, sink)
	c.respond(sink, outcome, err)
}

// Regenerate POST /api/conversations/:id/messages/:message_id/regenerate
func (c *ChatController) Regenerate() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}
	messageID, ok := c.uintParam(":message_id")
	if !ok {
		return
	}
	var req regenerateRequest
	if !c.decode(&req) {
		return
	}

	sink := newHTTPSink(c.Ctx.ResponseWriter)
	outcome, err := c.deps.Chat.Regenerate(c.Ctx.Request.Context(), userID, convID, messageID, req.Content, sink)
	c.respond(sink, outcome, err)
}

func (c *ChatController) respond(sink *httpSink, outcome *services.TurnOutcome, err error) {
	if err == nil {
		sink.finish()
		return
	}
	if !sink.started {
		c.handleError(err)
		return
	}

	// 已经开始输出，只能在流尾追加错误说明
	appErr := errors.GetAppError(err)
	fields := []zap.Field{zap.String("code", string(appErr.Code)), zap.Error(err)}
	if outcome != nil {
		fields = append(fields, zap.Uint("conversation_id", outcome.Meta.ConversationID))
	}
	c.deps.Logger.Warn("Chat stream ended with error", fields...)
	_ = sink.Write(fmt.Sprintf("\n\n[Error: %s]", appErr.Message))
}
