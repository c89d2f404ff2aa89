package services

import (
	"net/http"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChatMetrics 对话轮次指标
type ChatMetrics struct {
	turns      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	firstChunk prometheus.Histogram
	tokens     *prometheus.CounterVec
	truncated  prometheus.Counter
	memoryUsed prometheus.Counter
	retries    prometheus.Counter
}

// NewChatMetrics 注册对话指标，reg为nil时使用默认注册表
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ChatMetrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Chat turns by terminal state",
		}, []string{"state"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Total turn duration by terminal state",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"state"}),
		firstChunk: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_first_chunk_seconds",
			Help:    "Time from model request to first streamed chunk",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_tokens_total",
			Help: "Model tokens by kind",
		}, []string{"kind"}),
		truncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_context_truncated_total",
			Help: "Turns whose history did not fit into the context budget",
		}),
		memoryUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_memory_used_total",
			Help: "Turns whose context included a memory digest",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_model_retries_total",
			Help: "Model stream open retries",
		}),
	}
}

// ObserveTurn 记录一轮结束
func (m *ChatMetrics) ObserveTurn(state TurnState, duration, firstChunk time.Duration, usage models.Usage) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state.String()).Inc()
	m.duration.WithLabelValues(state.String()).Observe(duration.Seconds())
	if firstChunk > 0 {
		m.firstChunk.Observe(firstChunk.Seconds())
	}
	if usage.PromptTokens > 0 {
		m.tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.tokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	}
}

// ObserveContext 记录上下文构建结果
func (m *ChatMetrics) ObserveContext(window *ContextWindow) {
	if m == nil || window == nil {
		return
	}
	if window.Truncated {
		m.truncated.Inc()
	}
	if window.MemoryUsed {
		m.memoryUsed.Inc()
	}
}

// ObserveRetry 记录一次重试
func (m *ChatMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// MetricsHandler 返回Prometheus指标的HTTP处理器
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
