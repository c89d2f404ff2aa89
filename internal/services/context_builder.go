package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aihub/chat-backend/internal/llm"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	memorySnippetLimit = 3
	memoryTokenCap     = 800
	memoryBudgetShare  = 0.2
	maxHistoryMessages = 100
	historyPageSize    = 50

	memoryHeader = "Previous conversation context from memory:"
)

// TurnKind 上下文中一轮消息的来源
type TurnKind int

const (
	TurnSystemPrompt TurnKind = iota
	TurnMemory
	TurnAttachment
	TurnHistory
)

// ContextTurn 组装后的一轮消息
type ContextTurn struct {
	Kind      TurnKind
	Role      models.Role
	Content   string
	MessageID uint
	Tokens    int
}

// BuildRequest 上下文构建参数
type BuildRequest struct {
	UserID              uint
	ConversationID      uint
	TokenBudget         int
	IncludeSystemPrompt bool
	Query               string
	// PendingInput 尚未写入历史的本轮用户输入，与历史消息一起计入预算
	PendingInput string
}

// ContextWindow 构建结果
type ContextWindow struct {
	Conversation   *models.Conversation
	Turns          []ContextTurn
	TotalTokens    int
	Truncated      bool
	MemoryUsed     bool
	MemorySnippets int
	MemoryTexts    []string
	SelectedCount  int
}

// Messages 转成模型请求消息
func (w *ContextWindow) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(w.Turns))
	for _, t := range w.Turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// InsertAfterSystemPrompt 在系统提示之后、记忆摘要之前插入一轮
func (w *ContextWindow) InsertAfterSystemPrompt(turn ContextTurn) {
	idx := 0
	for idx < len(w.Turns) && w.Turns[idx].Kind == TurnSystemPrompt {
		idx++
	}
	w.Turns = append(w.Turns, ContextTurn{})
	copy(w.Turns[idx+1:], w.Turns[idx:])
	w.Turns[idx] = turn
	w.TotalTokens += turn.Tokens
}

// MemorySearcher 记忆检索
type MemorySearcher interface {
	IsAvailable() bool
	Search(ctx context.Context, userID uint, query string, limit int) []memory.Snippet
}

// ContextBuilder 在token预算内组装模型上下文
type ContextBuilder struct {
	conversations   *ConversationService
	memory          MemorySearcher
	logger          *zap.Logger
	degradeSnippets bool
	pageSize        int
	snippetLimit    int
}

// ContextBuilderOption 构建器可选项
type ContextBuilderOption func(*ContextBuilder)

// WithSnippetDegrade 记忆摘要超限时逐条丢弃低分片段，而不是整体放弃
func WithSnippetDegrade(enabled bool) ContextBuilderOption {
	return func(b *ContextBuilder) {
		b.degradeSnippets = enabled
	}
}

// WithSnippetLimit 每轮最多使用的记忆片段数
func WithSnippetLimit(n int) ContextBuilderOption {
	return func(b *ContextBuilder) {
		if n > 0 {
			b.snippetLimit = n
		}
	}
}

// WithHistoryPageSize 历史分页大小
func WithHistoryPageSize(n int) ContextBuilderOption {
	return func(b *ContextBuilder) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// NewContextBuilder 创建上下文构建器，searcher可以为nil
func NewContextBuilder(conversations *ConversationService, searcher MemorySearcher, logger *zap.Logger, opts ...ContextBuilderOption) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ContextBuilder{
		conversations: conversations,
		memory:        searcher,
		logger:        logger,
		pageSize:      historyPageSize,
		snippetLimit:  memorySnippetLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 组装上下文：系统提示 -> 记忆摘要 -> 最近的历史消息
func (b *ContextBuilder) Build(ctx context.Context, req BuildRequest) (*ContextWindow, error) {
	if req.TokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", req.TokenBudget)
	}

	conv, err := b.conversations.GetConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	window := &ContextWindow{Conversation: conv}

	systemTokens := 0
	prompt := strings.TrimSpace(conv.SystemPrompt)
	if req.IncludeSystemPrompt && prompt != "" {
		systemTokens = EstimateTokens(prompt)
	}

	// 记忆检索与第一页历史并发读取
	var (
		snippets  []memory.Snippet
		firstPage []models.Message
	)
	cursor := b.conversations.NewMessageCursor(req.UserID, req.ConversationID, b.pageSize)
	g, gctx := errgroup.WithContext(ctx)
	if b.memory != nil && b.memory.IsAvailable() && strings.TrimSpace(req.Query) != "" {
		g.Go(func() error {
			snippets = b.memory.Search(gctx, req.UserID, req.Query, b.snippetLimit)
			return nil
		})
	}
	g.Go(func() error {
		var err error
		firstPage, err = cursor.Next(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	memoryText, admitted := b.renderMemory(snippets, req.TokenBudget)
	memoryTokens := 0
	if memoryText != "" {
		memoryTokens = EstimateTokens(memoryText)
		window.MemoryUsed = true
		window.MemorySnippets = len(admitted)
		window.MemoryTexts = admitted
	}

	remaining := req.TokenBudget - systemTokens - memoryTokens
	if remaining < 0 {
		remaining = 0
	}

	if pendingOutsideHistory(req.PendingInput, firstPage) {
		firstPage = append([]models.Message{{
			ConversationID: req.ConversationID,
			Role:           models.RoleUser,
			Content:        req.PendingInput,
		}}, firstPage...)
	}

	selected, scanned, historyTokens, err := b.selectHistory(ctx, cursor, firstPage, remaining)
	if err != nil {
		return nil, err
	}

	if systemTokens > 0 {
		window.Turns = append(window.Turns, ContextTurn{Kind: TurnSystemPrompt, Role: models.RoleSystem, Content: prompt, Tokens: systemTokens})
	}
	if memoryTokens > 0 {
		window.Turns = append(window.Turns, ContextTurn{Kind: TurnMemory, Role: models.RoleSystem, Content: memoryText, Tokens: memoryTokens})
	}
	// selected是从新到旧的顺序
	for i := len(selected) - 1; i >= 0; i-- {
		m := selected[i]
		window.Turns = append(window.Turns, ContextTurn{
			Kind:      TurnHistory,
			Role:      m.Role,
			Content:   m.Content,
			MessageID: m.ID,
			Tokens:    messageTokens(m),
		})
	}

	window.SelectedCount = len(selected)
	window.Truncated = scanned > len(selected)
	window.TotalTokens = systemTokens + memoryTokens + historyTokens

	b.logger.Debug("Context window built",
		zap.Uint("conversation_id", req.ConversationID),
		zap.Int("budget", req.TokenBudget),
		zap.Int("total_tokens", window.TotalTokens),
		zap.Int("selected", window.SelectedCount),
		zap.Bool("truncated", window.Truncated),
		zap.Int("memory_snippets", window.MemorySnippets))
	return window, nil
}

// selectHistory 从最新的消息开始纳入，遇到第一条放不下的就停止
func (b *ContextBuilder) selectHistory(ctx context.Context, cursor *MessageCursor, page []models.Message, remaining int) ([]models.Message, int, int, error) {
	var (
		selected []models.Message
		scanned  int
		used     int
	)
	for len(page) > 0 {
		for _, m := range page {
			scanned++
			if len(selected) >= maxHistoryMessages {
				return selected, scanned, used, nil
			}
			cost := messageTokens(m)
			if used+cost > remaining {
				return selected, scanned, used, nil
			}
			used += cost
			selected = append(selected, m)
		}
		var err error
		page, err = cursor.Next(ctx)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	return selected, scanned, used, nil
}

// pendingOutsideHistory 最新一条历史已经是同样内容的用户消息时不再重复
func pendingOutsideHistory(pending string, newestFirst []models.Message) bool {
	if strings.TrimSpace(pending) == "" {
		return false
	}
	if len(newestFirst) == 0 {
		return true
	}
	newest := newestFirst[0]
	return newest.Role != models.RoleUser || strings.TrimSpace(newest.Content) != strings.TrimSpace(pending)
}

// renderMemory 渲染记忆摘要并返回实际纳入的片段，超出上限时返回空
func (b *ContextBuilder) renderMemory(snippets []memory.Snippet, budget int) (string, []string) {
	texts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if t := strings.TrimSpace(s.Text); t != "" {
			texts = append(texts, t)
		}
		if len(texts) == b.snippetLimit {
			break
		}
	}
	if len(texts) == 0 {
		return "", nil
	}

	limit := int(float64(budget) * memoryBudgetShare)
	if limit > memoryTokenCap {
		limit = memoryTokenCap
	}

	for len(texts) > 0 {
		text := formatMemory(texts)
		if EstimateTokens(text) <= limit {
			return text, texts
		}
		if !b.degradeSnippets {
			break
		}
		texts = texts[:len(texts)-1]
	}
	b.logger.Debug("Memory digest exceeds its token share, skipped", zap.Int("limit", limit))
	return "", nil
}

func formatMemory(texts []string) string {
	var sb strings.Builder
	sb.WriteString(memoryHeader)
	for i, t := range texts {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, t)
	}
	return sb.String()
}

func messageTokens(m models.Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return EstimateTokens(m.Content)
}
