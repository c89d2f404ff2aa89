package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Database 数据库连接及其健康检查、指标
type Database struct {
	db            *gorm.DB
	sqlDB         *sql.DB
	healthChecker *HealthChecker
	metrics       *MetricsCollector
}

// NewDatabase 按配置连接数据库
func NewDatabase(cfg *config.Config, reg prometheus.Registerer) (*Database, error) {
	db, err := Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return Wrap(db, reg)
}

// Wrap 包装已有的gorm连接
func Wrap(db *gorm.DB, reg prometheus.Registerer) (*Database, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	return &Database{
		db:            db,
		sqlDB:         sqlDB,
		healthChecker: NewHealthChecker(sqlDB, log),
		metrics:       NewMetricsCollector(sqlDB, log, reg),
	}, nil
}

// GetDB 获取数据库连接
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// SQLDB 获取底层连接池
func (d *Database) SQLDB() *sql.DB {
	return d.sqlDB
}

// HealthCheck 后台检查结果为健康时直接返回，否则立即ping一次
func (d *Database) HealthCheck(ctx context.Context) error {
	if d.healthChecker.IsHealthy() {
		return nil
	}
	return d.healthChecker.Check(ctx)
}

// StartMonitoring 启动健康检查和指标收集
func (d *Database) StartMonitoring(ctx context.Context) {
	d.healthChecker.Start(ctx)
	d.metrics.Start(ctx)
}

// GetHealthStatus 获取健康状态
func (d *Database) GetHealthStatus() HealthCheckResult {
	return d.healthChecker.GetHealthResult()
}

// Close 停止监控并关闭连接
func (d *Database) Close() error {
	d.healthChecker.Stop()
	return d.sqlDB.Close()
}
