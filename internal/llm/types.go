package llm

import (
	"context"

	"github.com/aihub/chat-backend/internal/models"
)

// Message 发送给模型的一轮消息
type Message struct {
	Role    models.Role `json:"role" validate:"required"`
	Content string      `json:"content"`
}

// Request 模型请求
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Result 流结束后的汇总结果
type Result struct {
	Text         string
	FinishReason string
	Usage        models.Usage
}

// Stream 增量输出流，Recv在正常结束时返回io.EOF
type Stream interface {
	Recv() (string, error)
	Result() Result
	Close() error
}

// ChatModel 模型客户端
type ChatModel interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}
