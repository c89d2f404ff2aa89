package repository

import (
	"context"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageRepository 消息仓库实现
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// GetDB 获取数据库连接
func (r *messageRepository) GetDB() *gorm.DB {
	return r.db
}

// lockConversation 锁定属于用户的会话行
func lockConversation(tx *gorm.DB, convID, userID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", convID, userID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Append 追加消息并原子地更新会话计数器；title非空且会话尚无标题时设置标题
func (r *messageRepository) Append(ctx context.Context, msg *models.Message, title string) (*models.Conversation, error) {
	var updated models.Conversation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := lockConversation(tx, msg.ConversationID, msg.UserID)
		if err != nil {
			return err
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"message_count":   gorm.Expr("message_count + ?", 1),
			"token_count":     gorm.Expr("token_count + ?", msg.TokenCount),
			"last_message_at": now,
		}
		if conv.Title == "" && title != "" {
			updates["title"] = title
		}
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", conv.ID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetByID 根据ID获取消息
func (r *messageRepository) GetByID(ctx context.Context, id, userID uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByConversation 按创建顺序获取会话全部消息
func (r *messageRepository) ListByConversation(ctx context.Context, convID, userID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// ListBefore 从新到旧分页读取，beforeID为0时从最新一条开始
func (r *messageRepository) ListBefore(ctx context.Context, convID, userID, beforeID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := r.db.WithContext(ctx).Where("conversation_id = ? AND user_id = ?", convID, userID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	err := query.Order("id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// Position 消息在会话中的0基位置
func (r *messageRepository) Position(ctx context.Context, msg *models.Message) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND id < ?", msg.ConversationID, msg.ID).
		Count(&count).Error
	return int(count), err
}

// UpdateContent 编辑消息内容，并把token差值同步到会话；返回更新后的消息和差值
func (r *messageRepository) UpdateContent(ctx context.Context, id, userID uint, content string, tokens int, editedAt time.Time) (*models.Message, int, error) {
	var msg models.Message
	var delta int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userID).
			First(&msg).Error
		if err != nil {
			return err
		}

		delta = tokens - msg.TokenCount
		err = tx.Model(&models.Message{}).Where("id = ?", msg.ID).Updates(map[string]interface{}{
			"content":     content,
			"token_count": tokens,
			"is_edited":   true,
			"edited_at":   editedAt,
		}).Error
		if err != nil {
			return err
		}

		if delta != 0 {
			err = tx.Model(&models.Conversation{}).
				Where("id = ? AND user_id = ?", msg.ConversationID, userID).
				Update("token_count", gorm.Expr("token_count + ?", delta)).Error
			if err != nil {
				return err
			}
		}

		msg.Content = content
		msg.TokenCount = tokens
		msg.IsEdited = true
		msg.EditedAt = &editedAt
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &msg, delta, nil
}

type messageTokens struct {
	ID         uint
	TokenCount int
}

// DeleteFrom 删除位置不小于fromIndex的全部消息，并扣减会话计数器
func (r *messageRepository) DeleteFrom(ctx context.Context, convID, userID uint, fromIndex int) (int, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	deleted := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockConversation(tx, convID, userID); err != nil {
			return err
		}

		var rows []messageTokens
		err := tx.Model(&models.Message{}).
			Select("id, token_count").
			Where("conversation_id = ?", convID).
			Order("id ASC").
			Offset(fromIndex).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		return removeMessages(tx, convID, rows, &deleted)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Delete 删除单条消息
func (r *messageRepository) Delete(ctx context.Context, id, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&msg).Error; err != nil {
			return err
		}
		if _, err := lockConversation(tx, msg.ConversationID, userID); err != nil {
			return err
		}

		var deleted int
		return removeMessages(tx, msg.ConversationID, []messageTokens{{ID: msg.ID, TokenCount: msg.TokenCount}}, &deleted)
	})
}

func removeMessages(tx *gorm.DB, convID uint, rows []messageTokens, deleted *int) error {
	ids := make([]uint, 0, len(rows))
	tokens := 0
	for _, row := range rows {
		ids = append(ids, row.ID)
		tokens += row.TokenCount
	}

	result := tx.Where("id IN ?", ids).Delete(&models.Message{})
	if result.Error != nil {
		return result.Error
	}
	*deleted = int(result.RowsAffected)

	return tx.Model(&models.Conversation{}).Where("id = ?", convID).Updates(map[string]interface{}{
		"message_count": gorm.Expr("GREATEST(message_count - ?, 0)", *deleted),
		"token_count":   gorm.Expr("GREATEST(token_count - ?, 0)", tokens),
	}).Error
}
