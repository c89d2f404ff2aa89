package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// MetricsCollector 连接池指标收集器
type MetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration

	connections *prometheus.GaugeVec
	waitCount   prometheus.Gauge
	waitSeconds prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器，reg为nil时使用默认注册表
func NewMetricsCollector(db *sql.DB, logger *logrus.Logger, reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second,
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_db_connections",
				Help: "Number of database connections by state",
			},
			[]string{"state"},
		),
		waitCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_db_wait_count",
			Help: "Total number of connections waited for",
		}),
		waitSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_db_wait_duration_seconds",
			Help: "Total time blocked waiting for a new connection",
		}),
	}
}

// Start 定期收集连接池指标，ctx结束后退出
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.logger.Info("Starting database metrics collection")

	go func() {
		ticker := time.NewTicker(mc.collectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.Collect()
			}
		}
	}()
}

// Collect 采集一次连接池状态
func (mc *MetricsCollector) Collect() {
	stats := mc.db.Stats()

	mc.connections.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.connections.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.connections.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.connections.WithLabelValues("max_open").Set(float64(stats.MaxOpenConnections))
	mc.waitCount.Set(float64(stats.WaitCount))
	mc.waitSeconds.Set(stats.WaitDuration.Seconds())

	mc.logger.WithFields(logrus.Fields{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
		"wait":   stats.WaitCount,
	}).Debug("Database connection pool stats collected")
}
