package services

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/aihub/chat-backend/internal/repository"
	"go.uber.org/zap"
)

const usageWriteTimeout = 5 * time.Second

// TurnReport 一轮结束后的汇总，用于指标与用量记录
type TurnReport struct {
	UserID         uint
	ConversationID uint
	MessageID      uint
	Model          string
	State          TurnState
	Usage          models.Usage
	FirstChunk     time.Duration
	Duration       time.Duration
}

// UsageRecorder 用量记录：配置了Kafka时发送事件，否则直接写用量表
type UsageRecorder struct {
	producer *kafka.Producer
	topic    string
	logs     repository.UsageLogRepository
	metrics  *ChatMetrics
	logger   *zap.Logger
}

// NewUsageRecorder 创建用量记录器，producer和logs都可以为nil
func NewUsageRecorder(producer *kafka.Producer, topic string, logs repository.UsageLogRepository, metrics *ChatMetrics, logger *zap.Logger) *UsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageRecorder{
		producer: producer,
		topic:    topic,
		logs:     logs,
		metrics:  metrics,
		logger:   logger,
	}
}

// Record 记录一轮用量，不会返回错误
func (r *UsageRecorder) Record(ctx context.Context, report TurnReport) {
	if r == nil {
		return
	}
	r.metrics.ObserveTurn(report.State, report.Duration, report.FirstChunk, report.Usage)

	event := &kafka.UsageEvent{
		ConversationID:   report.ConversationID,
		MessageID:        report.MessageID,
		UserID:           report.UserID,
		Model:            report.Model,
		PromptTokens:     report.Usage.PromptTokens,
		CompletionTokens: report.Usage.CompletionTokens,
		TotalTokens:      report.Usage.TotalTokens,
		FinishReason:     report.Usage.FinishReason,
		FirstChunkMs:     report.FirstChunk.Milliseconds(),
		DurationMs:       report.Duration.Milliseconds(),
		State:            report.State.String(),
		Timestamp:        time.Now(),
	}

	if r.producer != nil && r.topic != "" {
		if err := r.producer.PublishUsage(r.topic, event); err != nil {
			r.logger.Warn("Failed to publish usage event",
				zap.Uint("conversation_id", report.ConversationID),
				zap.Error(err))
		}
		return
	}

	if r.logs == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := r.logs.Create(writeCtx, usageLogFromEvent(event)); err != nil {
		r.logger.Warn("Failed to write usage log",
			zap.Uint("conversation_id", report.ConversationID),
			zap.Error(err))
	}
}

// HandleMessage 消费用量主题，写入用量表
func (r *UsageRecorder) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseUsageEvent(message.Value)
	if err != nil {
		// 格式错误的消息重试也不会成功
		r.logger.Warn("Dropping malformed usage event",
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.Error(err))
		return nil
	}
	if r.logs == nil {
		return nil
	}
	return r.logs.Create(ctx, usageLogFromEvent(event))
}

func usageLogFromEvent(e *kafka.UsageEvent) *models.UsageLog {
	createdAt := e.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &models.UsageLog{
		UserID:           e.UserID,
		ConversationID:   e.ConversationID,
		MessageID:        e.MessageID,
		Model:            e.Model,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
		TotalTokens:      e.TotalTokens,
		FinishReason:     e.FinishReason,
		State:            e.State,
		FirstChunkMs:     e.FirstChunkMs,
		DurationMs:       e.DurationMs,
		CreatedAt:        createdAt,
	}
}
