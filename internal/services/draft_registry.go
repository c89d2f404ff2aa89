package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	draftTTL       = 24 * time.Hour
	draftKeyPrefix = "chat:draft:"
)

// DraftStore 草稿句柄到会话id的映射存储
type DraftStore interface {
	Get(ctx context.Context, key string) (uint, bool, error)
	SetNX(ctx context.Context, key string, convID uint, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RedisDraftStore 基于Redis SETNX的实现，多实例部署时使用
type RedisDraftStore struct {
	client redis.UniversalClient
}

func NewRedisDraftStore(client redis.UniversalClient) *RedisDraftStore {
	return &RedisDraftStore{client: client}
}

func (s *RedisDraftStore) Get(ctx context.Context, key string) (uint, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt draft mapping %q: %w", key, err)
	}
	return uint(id), true, nil
}

func (s *RedisDraftStore) SetNX(ctx context.Context, key string, convID uint, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, strconv.FormatUint(uint64(convID), 10), ttl).Result()
}

func (s *RedisDraftStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

type draftEntry struct {
	convID    uint
	expiresAt time.Time
}

// MemoryDraftStore 单进程实现
type MemoryDraftStore struct {
	mu      sync.Mutex
	entries map[string]draftEntry
	now     func() time.Time
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{
		entries: make(map[string]draftEntry),
		now:     time.Now,
	}
}

func (s *MemoryDraftStore) Get(_ context.Context, key string) (uint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return 0, false, nil
	}
	return e.convID, true, nil
}

func (s *MemoryDraftStore) SetNX(_ context.Context, key string, convID uint, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !s.now().After(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = draftEntry{convID: convID, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryDraftStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// DraftResult 草稿解析结果
type DraftResult struct {
	ConversationID uint
	Created        bool
}

// DraftRegistry 把客户端生成的草稿句柄提升为持久会话
//
// 同一草稿的重试请求总会得到同一个会话。进程内的并发提升由singleflight合并，
// 跨进程由存储层的SETNX决出唯一胜者，落败方创建的会话会被删除。
type DraftRegistry struct {
	store  DraftStore
	group  singleflight.Group
	ttl    time.Duration
	logger *zap.Logger
}

// NewDraftRegistry 创建注册表，store为nil时使用内存实现
func NewDraftRegistry(store DraftStore, logger *zap.Logger) *DraftRegistry {
	if store == nil {
		store = NewMemoryDraftStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftRegistry{store: store, ttl: draftTTL, logger: logger}
}

func draftKey(userID uint, draftID string) string {
	return fmt.Sprintf("%s%d:%s", draftKeyPrefix, userID, draftID)
}

// Resolve 查找草稿已经对应的会话
func (r *DraftRegistry) Resolve(ctx context.Context, userID uint, draftID string) (uint, bool, error) {
	return r.store.Get(ctx, draftKey(userID, draftID))
}

// Promote 登记草稿对应的会话；已被登记时返回胜出的会话id和false
func (r *DraftRegistry) Promote(ctx context.Context, userID uint, draftID string, convID uint) (uint, bool, error) {
	key := draftKey(userID, draftID)
	ok, err := r.store.SetNX(ctx, key, convID, r.ttl)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return convID, true, nil
	}
	winner, found, err := r.store.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		// 映射在两次调用之间过期
		return convID, true, r.retrySet(ctx, key, convID)
	}
	return winner, false, nil
}

func (r *DraftRegistry) retrySet(ctx context.Context, key string, convID uint) error {
	_, err := r.store.SetNX(ctx, key, convID, r.ttl)
	return err
}

// Forget 删除草稿映射，用于映射指向的会话已被删除的情况
func (r *DraftRegistry) Forget(ctx context.Context, userID uint, draftID string) error {
	return r.store.Forget(ctx, draftKey(userID, draftID))
}

// Obtain 解析草稿；尚未提升时调用create创建会话并登记，落败时调用discard删除多余的会话
func (r *DraftRegistry) Obtain(
	ctx context.Context,
	userID uint,
	draftID string,
	create func(ctx context.Context) (uint, error),
	discard func(ctx context.Context, convID uint) error,
) (DraftResult, error) {
	key := draftKey(userID, draftID)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if id, found, err := r.store.Get(ctx, key); err != nil {
			return DraftResult{}, err
		} else if found {
			return DraftResult{ConversationID: id}, nil
		}

		created, err := create(ctx)
		if err != nil {
			return DraftResult{}, err
		}

		winner, won, err := r.Promote(ctx, userID, draftID, created)
		if err != nil {
			// 会话已经创建成功，登记失败只影响之后的重试
			r.logger.Warn("Failed to register draft mapping",
				zap.Uint("user_id", userID),
				zap.String("draft_id", draftID),
				zap.Error(err))
			return DraftResult{ConversationID: created, Created: true}, nil
		}
		if won {
			return DraftResult{ConversationID: created, Created: true}, nil
		}

		r.logger.Info("Draft promoted elsewhere, discarding duplicate conversation",
			zap.Uint("user_id", userID),
			zap.String("draft_id", draftID),
			zap.Uint("orphan_id", created),
			zap.Uint("winner_id", winner))
		if discard != nil {
			if err := discard(ctx, created); err != nil {
				r.logger.Warn("Failed to discard duplicate conversation", zap.Uint("conversation_id", created), zap.Error(err))
			}
		}
		return DraftResult{ConversationID: winner}, nil
	})
	if err != nil {
		return DraftResult{}, err
	}
	return v.(DraftResult), nil
}
