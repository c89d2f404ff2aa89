package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aihub/chat-backend/internal/models"
	"github.com/aihub/chat-backend/internal/repository"
	"gorm.io/gorm"
)

// memStore 内存版会话/消息仓库，同时实现两个仓库接口
type memStore struct {
	mu            sync.Mutex
	nextConvID    uint
	nextMsgID     uint
	conversations map[uint]*models.Conversation
	messages      map[uint]*models.Message
	failWith      error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[uint]*models.Conversation{},
		messages:      map[uint]*models.Message{},
	}
}

type convRepo struct{ *memStore }
type msgRepo struct{ *memStore }

func (s *memStore) repos() (repository.ConversationRepository, repository.MessageRepository) {
	return convRepo{s}, msgRepo{s}
}

func (s *memStore) GetDB() *gorm.DB { return nil }

func (r convRepo) Create(_ context.Context, conv *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.nextConvID++
	conv.ID = r.nextConvID
	conv.CreatedAt = time.Now()
	cp := *conv
	r.conversations[conv.ID] = &cp
	return nil
}

func (r convRepo) GetByID(_ context.Context, id, userID uint) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r convRepo) List(_ context.Context, userID uint, _ repository.ConversationFilter) ([]models.Conversation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conversation
	for _, c := range r.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (r convRepo) Update(_ context.Context, id, userID uint, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			conv.Title = v.(string)
		case "system_prompt":
			conv.SystemPrompt = v.(string)
		case "is_pinned":
			conv.IsPinned = v.(bool)
		case "is_archived":
			conv.IsArchived = v.(bool)
		}
	}
	return nil
}

func (r convRepo) Delete(_ context.Context, id, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(r.conversations, id)
	for mid, m := range r.messages {
		if m.ConversationID == id {
			delete(r.messages, mid)
		}
	}
	return nil
}

func (r msgRepo) Append(_ context.Context, msg *models.Message, title string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	conv, ok := r.conversations[msg.ConversationID]
	if !ok || conv.UserID != msg.UserID {
		return nil, gorm.ErrRecordNotFound
	}
	r.nextMsgID++
	msg.ID = r.nextMsgID
	msg.CreatedAt = time.Now()
	cp := *msg
	r.messages[msg.ID] = &cp

	now := time.Now()
	conv.MessageCount++
	conv.TokenCount += msg.TokenCount
	conv.LastMessageAt = &now
	if conv.Title == "" && title != "" {
		conv.Title = title
	}
	out := *conv
	return &out, nil
}

func (r msgRepo) GetByID(_ context.Context, id, userID uint) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ordered(convID, userID uint) []models.Message {
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == convID && m.UserID == userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r msgRepo) ListByConversation(_ context.Context, convID, userID uint) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered(convID, userID), nil
}

func (r msgRepo) ListBefore(_ context.Context, convID, userID, beforeID uint, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	all := r.ordered(convID, userID)
	var out []models.Message
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeID == 0 || all[i].ID < beforeID {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (r msgRepo) Position(_ context.Context, msg *models.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := 0
	for _, m := range r.messages {
		if m.ConversationID == msg.ConversationID && m.ID < msg.ID {
			pos++
		}
	}
	return pos, nil
}

func (r msgRepo) UpdateContent(_ context.Context, id, userID uint, content string, tokens int, editedAt time.Time) (*models.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.UserID != userID {
		return nil, 0, gorm.ErrRecordNotFound
	}
	delta := tokens - m.TokenCount
	m.Content = content
	m.TokenCount = tokens
	m.IsEdited = true
	m.EditedAt = &editedAt
	if conv, ok := r.conversations[m.ConversationID]; ok {
		conv.TokenCount += delta
	}
	cp := *m
	return &cp, delta, nil
}

func (r msgRepo) DeleteFrom(_ context.Context, convID, userID uint, fromIndex int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[convID]
	if !ok || conv.UserID != userID {
		return 0, gorm.ErrRecordNotFound
	}
	all := r.ordered(convID, userID)
	deleted := 0
	for i := fromIndex; i < len(all); i++ {
		delete(r.messages, all[i].ID)
		conv.MessageCount--
		conv.TokenCount -= all[i].TokenCount
		deleted++
	}
	return deleted, nil
}

func (r msgRepo) Delete(_ context.Context, id, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(r.messages, id)
	if conv, ok := r.conversations[m.ConversationID]; ok {
		conv.MessageCount--
		conv.TokenCount -= m.TokenCount
	}
	return nil
}

// seedMessage 直接写入一条消息，绕过服务层校验
func (s *memStore) seedMessage(convID, userID uint, role models.Role, content string, tokens int) *models.Message {
	_, msgs := s.repos()
	msg := &models.Message{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		TokenCount:     tokens,
		Status:         models.MessageStatusDone,
	}
	if _, err := msgs.Append(context.Background(), msg, ""); err != nil {
		panic(err)
	}
	return msg
}

func newTestConversationService(store *memStore) *ConversationService {
	convs, msgs := store.repos()
	return NewConversationService(convs, msgs, nil)
}
