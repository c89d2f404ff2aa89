package repository

import (
	"context"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"gorm.io/gorm"
)

// Repository 基础仓库接口
type Repository interface {
	GetDB() *gorm.DB
}

// ConversationFilter 会话列表过滤条件
type ConversationFilter struct {
	Archived *bool
	Search   string
	Page     int
	Limit    int
}

// ConversationRepository 会话仓库接口，所有查询都按 user_id 过滤
type ConversationRepository interface {
	Repository
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id, userID uint) (*models.Conversation, error)
	List(ctx context.Context, userID uint, filter ConversationFilter) ([]models.Conversation, int64, error)
	Update(ctx context.Context, id, userID uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id, userID uint) error
}

// MessageRepository 消息仓库接口，消息写入与会话计数器在同一事务内更新
type MessageRepository interface {
	Repository
	Append(ctx context.Context, msg *models.Message, title string) (*models.Conversation, error)
	GetByID(ctx context.Context, id, userID uint) (*models.Message, error)
	ListByConversation(ctx context.Context, convID, userID uint) ([]models.Message, error)
	ListBefore(ctx context.Context, convID, userID, beforeID uint, limit int) ([]models.Message, error)
	Position(ctx context.Context, msg *models.Message) (int, error)
	UpdateContent(ctx context.Context, id, userID uint, content string, tokens int, editedAt time.Time) (*models.Message, int, error)
	DeleteFrom(ctx context.Context, convID, userID uint, fromIndex int) (int, error)
	Delete(ctx context.Context, id, userID uint) error
}

// UsageLogRepository 用量日志仓库接口
type UsageLogRepository interface {
	Repository
	Create(ctx context.Context, log *models.UsageLog) error
	SumByUser(ctx context.Context, userID uint, since time.Time) (int64, error)
}
