package controllers

import (
	"net/http"
	"strconv"

	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/repository"
	"github.com/aihub/chat-backend/internal/services"
)

// ConversationController 会话管理
type ConversationController struct {
	BaseController
}

type createConversationRequest struct {
	Title        string `json:"title" validate:"max=255"`
	SystemPrompt string `json:"system_prompt" validate:"max=20000"`
	Model        string `json:"model" validate:"max=100"`
}

type updateConversationRequest struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=255"`
	SystemPrompt *string `json:"system_prompt" validate:"omitempty,max=20000"`
	IsPinned     *bool   `json:"is_pinned"`
	IsArchived   *bool   `json:"is_archived"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type truncateRequest struct {
	FromIndex int `json:"from_index" validate:"gte=0"`
}

// List GET /api/conversations
func (c *ConversationController) List() {
	userID, ok := c.userID()
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.GetString("page", "1"))
	limit, _ := strconv.Atoi(c.GetString("limit", "20"))
	filter := repository.ConversationFilter{
		Search: c.GetString("search"),
		Page:   page,
		Limit:  limit,
	}
	if raw := c.GetString("archived"); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			c.handleError(errors.NewInvalidInputError("archived", "must be true or false"))
			return
		}
		filter.Archived = &archived
	}

	convs, total, err := c.deps.Conversations.ListConversations(c.Ctx.Request.Context(), userID, filter)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"conversations": convs,
		"total":         total,
		"page":          page,
		"limit":         limit,
	})
}

// Create POST /api/conversations
func (c *ConversationController) Create() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	var req createConversationRequest
	if !c.decode(&req) {
		return
	}
	model := req.Model
	if model == "" {
		model = c.deps.Config.AI.Model
	}

	conv, err := c.deps.Conversations.CreateConversation(c.Ctx.Request.Context(), userID, req.Title, req.SystemPrompt, model)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "data": conv})
}

// Get GET /api/conversations/:id
func (c *ConversationController) Get() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}

	conv, err := c.deps.Conversations.GetConversation(c.Ctx.Request.Context(), userID, convID)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(conv)
}

// Update PATCH /api/conversations/:id
func (c *ConversationController) Update() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}
	var req updateConversationRequest
	if !c.decode(&req) {
		return
	}

	conv, err := c.deps.Conversations.UpdateConversation(c.Ctx.Request.Context(), userID, convID, services.ConversationPatch{
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		IsPinned:     req.IsPinned,
		IsArchived:   req.IsArchived,
	})
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(conv)
}

// Delete DELETE /api/conversations/:id
func (c *ConversationController) Delete() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}

	if err := c.deps.Conversations.DeleteConversation(c.Ctx.Request.Context(), userID, convID); err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": convID})
}

// Messages GET /api/conversations/:id/messages
func (c *ConversationController) Messages() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}

	messages, err := c.deps.Conversations.FetchRecentMessages(c.Ctx.Request.Context(), userID, convID)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"conversation_id": convID,
		"messages":        messages,
	})
}

// EditMessage PATCH /api/conversations/:id/messages/:message_id
func (c *ConversationController) EditMessage() {
	userID, convID, messageID, ok := c.messageParams()
	if !ok {
		return
	}
	var req editMessageRequest
	if !c.decode(&req) {
		return
	}

	ctx := c.Ctx.Request.Context()
	if !c.ownsMessage(userID, convID, messageID) {
		return
	}
	msg, err := c.deps.Conversations.EditMessage(ctx, userID, messageID, req.Content)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(msg)
}

// DeleteMessage DELETE /api/conversations/:id/messages/:message_id
func (c *ConversationController) DeleteMessage() {
	userID, convID, messageID, ok := c.messageParams()
	if !ok {
		return
	}
	if !c.ownsMessage(userID, convID, messageID) {
		return
	}
	if err := c.deps.Conversations.DeleteMessage(c.Ctx.Request.Context(), userID, messageID); err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": messageID})
}

// Truncate POST /api/conversations/:id/truncate
func (c *ConversationController) Truncate() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	convID, ok := c.uintParam(":id")
	if !ok {
		return
	}
	var req truncateRequest
	if !c.decode(&req) {
		return
	}

	deleted, err := c.deps.Conversations.TruncateFrom(c.Ctx.Request.Context(), userID, convID, req.FromIndex)
	if err != nil {
		c.handleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": deleted})
}

func (c *ConversationController) messageParams() (userID, convID, messageID uint, ok bool) {
	if userID, ok = c.userID(); !ok {
		return
	}
	if convID, ok = c.uintParam(":id"); !ok {
		return
	}
	messageID, ok = c.uintParam(":message_id")
	return
}

// ownsMessage 消息必须属于路径中的会话
func (c *ConversationController) ownsMessage(userID, convID, messageID uint) bool {
	msg, err := c.deps.Conversations.GetMessage(c.Ctx.Request.Context(), userID, messageID)
	if err == nil && msg.ConversationID != convID {
		err = errors.NewNotFoundError("Message")
	}
	if err != nil {
		c.handleError(err)
		return false
	}
	return true
}
