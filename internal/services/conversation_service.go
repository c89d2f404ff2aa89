package services

import (
	"context"
	stderrors "errors"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/aihub/chat-backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	titleMaxRunes         = 50
	defaultCursorPageSize = 50
	conversationResource  = "Conversation"
	messageResource       = "Message"
)

// MessageMeta 追加消息时的附加信息
type MessageMeta struct {
	Attachments models.Attachments
	Usage       *models.Usage
	Status      models.MessageStatus
	ParentID    *uint
}

// ConversationPatch 会话可修改字段，nil表示不修改
type ConversationPatch struct {
	Title        *string
	SystemPrompt *string
	IsPinned     *bool
	IsArchived   *bool
}

// ConversationService 会话与消息存储
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	logger        *zap.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
	}
}

// CreateConversation 创建会话
func (s *ConversationService) CreateConversation(ctx context.Context, userID uint, title, systemPrompt, model string) (*models.Conversation, error) {
	if userID == 0 {
		return nil, apperrors.NewUnauthorizedError("")
	}
	conv := &models.Conversation{
		UserID:       userID,
		Title:        strings.TrimSpace(title),
		SystemPrompt: systemPrompt,
		Model:        model,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, apperrors.NewPersistenceError("create conversation", err)
	}

	s.logger.Info("Created conversation",
		zap.Uint("conversation_id", conv.ID),
		zap.Uint("user_id", userID))
	return conv, nil
}

// GetConversation 获取属于用户的会话
func (s *ConversationService) GetConversation(ctx context.Context, userID, convID uint) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, convID, userID)
	if err != nil {
		return nil, translateStoreError(err, conversationResource, "load conversation")
	}
	return conv, nil
}

// ListConversations 分页列出会话
func (s *ConversationService) ListConversations(ctx context.Context, userID uint, filter repository.ConversationFilter) ([]models.Conversation, int64, error) {
	convs, total, err := s.conversations.List(ctx, userID, filter)
	if err != nil {
		return nil, 0, apperrors.NewPersistenceError("list conversations", err)
	}
	return convs, total, nil
}

// UpdateConversation 重命名、置顶、归档
func (s *ConversationService) UpdateConversation(ctx context.Context, userID, convID uint, patch ConversationPatch) (*models.Conversation, error) {
	updates := map[string]interface{}{}
	if patch.Title != nil {
		updates["title"] = strings.TrimSpace(*patch.Title)
	}
	if patch.SystemPrompt != nil {
		updates["system_prompt"] = *patch.SystemPrompt
	}
	if patch.IsPinned != nil {
		updates["is_pinned"] = *patch.IsPinned
	}
	if patch.IsArchived != nil {
		updates["is_archived"] = *patch.IsArchived
	}
	if len(updates) == 0 {
		return s.GetConversation(ctx, userID, convID)
	}

	if err := s.conversations.Update(ctx, convID, userID, updates); err != nil {
		return nil, translateStoreError(err, conversationResource, "update conversation")
	}
	return s.GetConversation(ctx, userID, convID)
}

// DeleteConversation 删除会话及其消息
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, convID uint) error {
	if err := s.conversations.Delete(ctx, convID, userID); err != nil {
		return translateStoreError(err, conversationResource, "delete conversation")
	}
	s.logger.Info("Deleted conversation",
		zap.Uint("conversation_id", convID),
		zap.Uint("user_id", userID))
	return nil
}

// AppendMessage 追加消息，计数器与消息在同一事务内更新
func (s *ConversationService) AppendMessage(ctx context.Context, userID, convID uint, role models.Role, content string, meta *MessageMeta) (*models.Message, *models.Conversation, error) {
	if !role.Valid() {
		return nil, nil, apperrors.NewInvalidInputError("role", "must be one of user, assistant, system")
	}
	if strings.TrimSpace(content) == "" && (meta == nil || len(meta.Attachments) == 0) {
		return nil, nil, apperrors.NewInvalidInputError("content", "must not be empty")
	}

	msg := &models.Message{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		TokenCount:     EstimateTokens(content),
		Status:         models.MessageStatusDone,
	}
	if meta != nil {
		msg.Attachments = meta.Attachments
		msg.Usage = meta.Usage
		msg.ParentID = meta.ParentID
		if meta.Status != "" {
			msg.Status = meta.Status
		}
	}

	title := ""
	if role == models.RoleUser {
		title = DeriveTitle(content)
	}

	conv, err := s.messages.Append(ctx, msg, title)
	if err != nil {
		return nil, nil, translateStoreError(err, conversationResource, "append message")
	}

	s.logger.Debug("Appended message",
		zap.Uint("conversation_id", convID),
		zap.Uint("message_id", msg.ID),
		zap.String("role", string(role)),
		zap.Int("tokens", msg.TokenCount))
	return msg, conv, nil
}

// FetchRecentMessages 按时间正序返回会话全部消息
func (s *ConversationService) FetchRecentMessages(ctx context.Context, userID, convID uint) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListByConversation(ctx, convID, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list messages", err)
	}
	return messages, nil
}

// GetMessage 获取属于用户的消息
func (s *ConversationService) GetMessage(ctx context.Context, userID, messageID uint) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID, userID)
	if err != nil {
		return nil, translateStoreError(err, messageResource, "load message")
	}
	return msg, nil
}

// MessagePosition 消息在会话中的0基位置
func (s *ConversationService) MessagePosition(ctx context.Context, msg *models.Message) (int, error) {
	pos, err := s.messages.Position(ctx, msg)
	if err != nil {
		return 0, apperrors.NewPersistenceError("locate message", err)
	}
	return pos, nil
}

// EditMessage 编辑消息内容，token差值同步到会话
func (s *ConversationService) EditMessage(ctx context.Context, userID, messageID uint, newContent string) (*models.Message, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, apperrors.NewInvalidInputError("content", "must not be empty")
	}
	msg, delta, err := s.messages.UpdateContent(ctx, messageID, userID, newContent, EstimateTokens(newContent), time.Now())
	if err != nil {
		return nil, translateStoreError(err, messageResource, "edit message")
	}
	s.logger.Info("Edited message",
		zap.Uint("message_id", messageID),
		zap.Uint("conversation_id", msg.ConversationID),
		zap.Int("token_delta", delta))
	return msg, nil
}

// TruncateFrom 删除位置不小于fromIndex的消息
func (s *ConversationService) TruncateFrom(ctx context.Context, userID, convID uint, fromIndex int) (int, error) {
	if fromIndex < 0 {
		return 0, apperrors.NewInvalidInputError("from_index", "must be >= 0")
	}
	deleted, err := s.messages.DeleteFrom(ctx, convID, userID, fromIndex)
	if err != nil {
		return 0, translateStoreError(err, conversationResource, "truncate conversation")
	}
	s.logger.Info("Truncated conversation",
		zap.Uint("conversation_id", convID),
		zap.Int("from_index", fromIndex),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// DeleteMessage 删除单条消息
func (s *ConversationService) DeleteMessage(ctx context.Context, userID, messageID uint) error {
	if err := s.messages.Delete(ctx, messageID, userID); err != nil {
		return translateStoreError(err, messageResource, "delete message")
	}
	return nil
}

// NewMessageCursor 从新到旧的分页游标
func (s *ConversationService) NewMessageCursor(userID, convID uint, pageSize int) *MessageCursor {
	if pageSize <= 0 {
		pageSize = defaultCursorPageSize
	}
	return &MessageCursor{
		messages: s.messages,
		userID:   userID,
		convID:   convID,
		pageSize: pageSize,
	}
}

// MessageCursor 按id倒序的keyset游标，不会一次读出完整历史
type MessageCursor struct {
	messages repository.MessageRepository
	userID   uint
	convID   uint
	pageSize int
	beforeID uint
	done     bool
}

// Next 返回下一页（从新到旧），读完后返回nil
func (c *MessageCursor) Next(ctx context.Context) ([]models.Message, error) {
	if c.done {
		return nil, nil
	}
	page, err := c.messages.ListBefore(ctx, c.convID, c.userID, c.beforeID, c.pageSize)
	if err != nil {
		return nil, apperrors.NewPersistenceError("page messages", err)
	}
	if len(page) < c.pageSize {
		c.done = true
	}
	if len(page) > 0 {
		c.beforeID = page[len(page)-1].ID
	}
	return page, nil
}

// DeriveTitle 首条用户消息的前50个字符作为标题
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}

func translateStoreError(err error, resource, operation string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError(resource).WithCause(err)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewPersistenceError(operation, err)
}
