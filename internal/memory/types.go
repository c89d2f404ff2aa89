package memory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aihub/chat-backend/internal/models"
)

// Snippet 一条长期记忆
type Snippet struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Text      string            `json:"memory"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Turn 写入记忆的一轮对话
type Turn struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Provider 记忆后端
type Provider interface {
	Name() string
	Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error)
	Add(ctx context.Context, userID string, turns []Turn, customInstructions string) error
	Delete(ctx context.Context, userID string, ids []string) error
	DeleteAll(ctx context.Context, userID string) error
	List(ctx context.Context, userID string) ([]Snippet, error)
}

var (
	// ErrUnavailable 记忆服务未配置或熔断中
	ErrUnavailable = errors.New("memory service unavailable")
	// ErrQueueFull 入队缓冲已满
	ErrQueueFull = errors.New("memory ingest queue is full")
)

// UserKey 记忆服务里的用户标识
func UserKey(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// pairTurns 把连续的user/assistant轮次合成一条记忆文本
func pairTurns(turns []Turn) []string {
	var (
		docs    []string
		pending string
	)
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Role {
		case models.RoleUser:
			if pending != "" {
				docs = append(docs, "User: "+pending)
			}
			pending = content
		case models.RoleAssistant:
			if pending != "" {
				docs = append(docs, "User: "+pending+"\nAssistant: "+content)
				pending = ""
			} else {
				docs = append(docs, "Assistant: "+content)
			}
		}
	}
	if pending != "" {
		docs = append(docs, "User: "+pending)
	}
	return docs
}
