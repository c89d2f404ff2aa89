package errors

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor 错误监控器
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec
	responseTime *prometheus.HistogramVec

	stats      map[ErrorCode]*ErrorStats
	statsMutex sync.RWMutex
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewErrorMonitor 创建错误监控器，reg为nil时使用默认注册表
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ErrorMonitor{
		errorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_errors_total",
				Help: "Total number of errors by code and type",
			},
			[]string{"code", "type", "endpoint"},
		),
		responseTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_error_response_time_seconds",
				Help:    "Response time for error requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code"},
		),
		stats: make(map[ErrorCode]*ErrorStats),
	}
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(appErr *AppError, endpoint string, responseTime time.Duration) {
	if appErr == nil {
		return
	}
	errType := getErrorTypeString(appErr.Type)
	em.errorCounter.WithLabelValues(string(appErr.Code), errType, endpoint).Inc()
	em.responseTime.WithLabelValues(string(appErr.Code)).Observe(responseTime.Seconds())

	now := time.Now()
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()
	stat, ok := em.stats[appErr.Code]
	if !ok {
		stat = &ErrorStats{Code: string(appErr.Code), Type: errType, FirstSeen: now}
		em.stats[appErr.Code] = stat
	}
	stat.Count++
	stat.LastSeen = now
}

// GetTopErrors 获取出现次数最多的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []ErrorStats {
	em.statsMutex.RLock()
	result := make([]ErrorStats, 0, len(em.stats))
	for _, stat := range em.stats {
		result = append(result, *stat)
	}
	em.statsMutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
