package repository

import (
	"context"

	"github.com/aihub/chat-backend/internal/models"
	"gorm.io/gorm"
)

// conversationRepository 会话仓库实现
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// GetDB 获取数据库连接
func (r *conversationRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 创建会话
func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// GetByID 根据ID获取会话
func (r *conversationRepository) GetByID(ctx context.Context, id, userID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// List 分页获取会话列表，置顶优先，其次按最后消息时间
func (r *conversationRepository) List(ctx context.Context, userID uint, filter ConversationFilter) ([]models.Conversation, int64, error) {
	var conversations []models.Conversation
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("user_id = ?", userID)
	if filter.Archived != nil {
		query = query.Where("is_archived = ?", *filter.Archived)
	}
	if filter.Search != "" {
		query = query.Where("title ILIKE ?", "%"+filter.Search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	err := query.
		Order("is_pinned DESC").
		Order("last_message_at DESC NULLS LAST").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&conversations).Error
	if err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

// Update 更新会话字段
func (r *conversationRepository) Update(ctx context.Context, id, userID uint, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete 删除会话及其全部消息
func (r *conversationRepository) Delete(ctx context.Context, id, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error
	})
}
