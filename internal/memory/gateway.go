package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"go.uber.org/zap"
)

const defaultCallTimeout = 5 * time.Second

// Gateway 长期记忆网关
//
// 所有检索与写入都按用户隔离，任何后端错误都不会影响对话主流程：
// 检索失败返回空结果，写入失败返回false。
type Gateway struct {
	provider Provider
	breaker  *CircuitBreaker
	logger   *zap.Logger
	timeout  time.Duration
}

// GatewayOption 网关可选项
type GatewayOption func(*Gateway)

// WithCallTimeout 单次后端调用超时
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGateway 创建记忆网关，provider为nil时等同于未配置
func NewGateway(provider Provider, breaker *CircuitBreaker, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	if provider == nil {
		provider = NewNoopProvider()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker("memory", 0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		provider: provider,
		breaker:  breaker,
		logger:   logger,
		timeout:  defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProviderName 后端名称
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Breaker 网关使用的熔断器
func (g *Gateway) Breaker() *CircuitBreaker {
	return g.breaker
}

// IsAvailable 后端已配置且熔断器未打开
func (g *Gateway) IsAvailable() bool {
	if _, noop := g.provider.(*NoopProvider); noop {
		return false
	}
	return g.breaker.Available()
}

// Search 检索用户的相关记忆，按分数降序，失败时返回空切片
func (g *Gateway) Search(ctx context.Context, userID uint, query string, limit int) []Snippet {
	if limit <= 0 || strings.TrimSpace(query) == "" || !g.IsAvailable() {
		return []Snippet{}
	}

	owner := UserKey(userID)
	var found []Snippet
	err := g.call(ctx, func(callCtx context.Context) error {
		var err error
		found, err = g.provider.Search(callCtx, owner, query, limit)
		return err
	})
	if err != nil {
		g.logger.Warn("Memory search failed",
			zap.Uint("user_id", userID),
			zap.String("provider", g.provider.Name()),
			zap.Error(err))
		return []Snippet{}
	}

	snippets := g.ownedBy(owner, found)
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Score > snippets[j].Score
	})
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets
}

// Ingest 写入一段对话，至少需要一轮非空user和一轮非空assistant
func (g *Gateway) Ingest(ctx context.Context, userID uint, turns []Turn, customInstructions string) bool {
	ok, err := g.IngestWithError(ctx, userID, turns, customInstructions)
	if err != nil {
		g.logger.Warn("Memory ingest failed",
			zap.Uint("user_id", userID),
			zap.String("provider", g.provider.Name()),
			zap.Error(err))
	}
	return ok
}

// IngestWithError 与Ingest相同，但返回后端错误，供后台队列计数
func (g *Gateway) IngestWithError(ctx context.Context, userID uint, turns []Turn, customInstructions string) (bool, error) {
	if !hasExchange(turns) {
		return false, nil
	}
	if !g.IsAvailable() {
		return false, ErrUnavailable
	}
	err := g.call(ctx, func(callCtx context.Context) error {
		return g.provider.Add(callCtx, UserKey(userID), turns, customInstructions)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteByID 删除指定记忆
func (g *Gateway) DeleteByID(ctx context.Context, userID uint, ids []string) bool {
	ok, err := g.DeleteByIDWithError(ctx, userID, ids)
	if err != nil {
		g.logger.Warn("Memory delete failed", zap.Uint("user_id", userID), zap.Error(err))
	}
	return ok
}

// DeleteByIDWithError 删除指定记忆并返回错误
func (g *Gateway) DeleteByIDWithError(ctx context.Context, userID uint, ids []string) (bool, error) {
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return false, nil
	}
	if !g.IsAvailable() {
		return false, ErrUnavailable
	}
	err := g.call(ctx, func(callCtx context.Context) error {
		return g.provider.Delete(callCtx, UserKey(userID), ids)
	})
	return err == nil, err
}

// DeleteAll 删除用户的全部记忆
func (g *Gateway) DeleteAll(ctx context.Context, userID uint) bool {
	ok, err := g.DeleteAllWithError(ctx, userID)
	if err != nil {
		g.logger.Warn("Memory delete all failed", zap.Uint("user_id", userID), zap.Error(err))
	}
	return ok
}

// DeleteAllWithError 删除用户全部记忆并返回错误
func (g *Gateway) DeleteAllWithError(ctx context.Context, userID uint) (bool, error) {
	if !g.IsAvailable() {
		return false, ErrUnavailable
	}
	err := g.call(ctx, func(callCtx context.Context) error {
		return g.provider.DeleteAll(callCtx, UserKey(userID))
	})
	return err == nil, err
}

// ListAll 列出用户的全部记忆
func (g *Gateway) ListAll(ctx context.Context, userID uint) []Snippet {
	snippets, err := g.ListAllWithError(ctx, userID)
	if err != nil {
		g.logger.Warn("Memory list failed", zap.Uint("user_id", userID), zap.Error(err))
		return []Snippet{}
	}
	return snippets
}

// ListAllWithError 列出用户全部记忆并返回错误
func (g *Gateway) ListAllWithError(ctx context.Context, userID uint) ([]Snippet, error) {
	if !g.IsAvailable() {
		return []Snippet{}, ErrUnavailable
	}
	owner := UserKey(userID)
	var found []Snippet
	err := g.call(ctx, func(callCtx context.Context) error {
		var err error
		found, err = g.provider.List(callCtx, owner)
		return err
	})
	if err != nil {
		return []Snippet{}, err
	}
	return g.ownedBy(owner, found), nil
}

func (g *Gateway) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.breaker.Call(func() error {
		return fn(callCtx)
	})
}

// ownedBy 丢弃不属于owner的记忆
func (g *Gateway) ownedBy(owner string, snippets []Snippet) []Snippet {
	kept := make([]Snippet, 0, len(snippets))
	dropped := 0
	for _, s := range snippets {
		if s.UserID != owner {
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	if dropped > 0 {
		g.logger.Warn("Dropped memory snippets owned by another user",
			zap.String("user_id", owner),
			zap.String("provider", g.provider.Name()),
			zap.Int("dropped", dropped))
	}
	return kept
}

func hasExchange(turns []Turn) bool {
	var user, assistant bool
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch t.Role {
		case models.RoleUser:
			user = true
		case models.RoleAssistant:
			assistant = true
		}
	}
	return user && assistant
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
