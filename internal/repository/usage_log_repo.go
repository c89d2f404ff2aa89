package repository

import (
	"context"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"gorm.io/gorm"
)

type usageLogRepository struct {
	db *gorm.DB
}

// NewUsageLogRepository 创建用量日志仓库
func NewUsageLogRepository(db *gorm.DB) UsageLogRepository {
	return &usageLogRepository{db: db}
}

func (r *usageLogRepository) GetDB() *gorm.DB {
	return r.db
}

func (r *usageLogRepository) Create(ctx context.Context, log *models.UsageLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// SumByUser 统计用户自since以来的总token
func (r *usageLogRepository) SumByUser(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.UsageLog{}).
		Select("COALESCE(SUM(total_tokens), 0)").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&total).Error
	return total, err
}
