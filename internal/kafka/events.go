package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UsageEvent 一轮对话结束后的用量事件
type UsageEvent struct {
	ConversationID   uint      `json:"conversation_id"`
	MessageID        uint      `json:"message_id,omitempty"`
	UserID           uint      `json:"user_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	FirstChunkMs     int64     `json:"first_chunk_ms"`
	DurationMs       int64     `json:"duration_ms"`
	State            string    `json:"state"`
	Timestamp        time.Time `json:"timestamp"`
}

// Key 按用户分区，保证同一用户的事件有序
func (e *UsageEvent) Key() string {
	return strconv.FormatUint(uint64(e.UserID), 10)
}

// Headers 消息头
func (e *UsageEvent) Headers() map[string]string {
	return map[string]string{
		"user_id": e.Key(),
		"model":   e.Model,
		"state":   e.State,
	}
}

// PublishUsage 发送用量事件
func (p *Producer) PublishUsage(topic string, event *UsageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(topic, event.Key(), event, event.Headers())
}

// ParseUsageEvent 解析用量事件
func ParseUsageEvent(data []byte) (*UsageEvent, error) {
	var event UsageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	return &event, nil
}
