package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// ChromemProvider 嵌入式向量记忆，每个用户一个collection
type ChromemProvider struct {
	mu       sync.RWMutex
	db       *chromem.DB
	embedder Embedder
}

// NewChromemProvider 打开持久化向量库，path为空时使用内存库
func NewChromemProvider(path string, compress bool, embedder Embedder) (*ChromemProvider, error) {
	if embedder == nil || !embedder.Ready() {
		return nil, ErrEmbedderNotConfigured
	}
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create memory store dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	}
	return &ChromemProvider{db: db, embedder: embedder}, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func collectionFor(userID string) string {
	return "memory_user_" + userID
}

func (p *ChromemProvider) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.embedder.Embed(ctx, text)
	}
}

func (p *ChromemProvider) Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col := p.db.GetCollection(collectionFor(userID), p.embedFunc())
	if col == nil {
		return []Snippet{}, nil
	}
	n := col.Count()
	if n == 0 {
		return []Snippet{}, nil
	}
	if limit > n {
		limit = n
	}

	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, err
	}
	return toSnippets(userID, results), nil
}

func (p *ChromemProvider) Add(ctx context.Context, userID string, turns []Turn, customInstructions string) error {
	docs := pairTurns(turns)
	if len(docs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	col, err := p.db.GetOrCreateCollection(collectionFor(userID), nil, p.embedFunc())
	if err != nil {
		return fmt.Errorf("open user collection: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, content := range docs {
		meta := map[string]string{
			"user_id":    userID,
			"created_at": now,
		}
		if customInstructions != "" {
			meta["instructions"] = customInstructions
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:       uuid.NewString(),
			Metadata: meta,
			Content:  content,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *ChromemProvider) Delete(ctx context.Context, userID string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	col := p.db.GetCollection(collectionFor(userID), p.embedFunc())
	if col == nil {
		return nil
	}
	return col.Delete(ctx, nil, nil, ids...)
}

func (p *ChromemProvider) DeleteAll(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.DeleteCollection(collectionFor(userID))
}

// List chromem没有遍历接口，用全量查询取回整个collection
func (p *ChromemProvider) List(ctx context.Context, userID string) ([]Snippet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col := p.db.GetCollection(collectionFor(userID), p.embedFunc())
	if col == nil || col.Count() == 0 {
		return []Snippet{}, nil
	}
	results, err := col.Query(ctx, "memory", col.Count(), nil, nil)
	if err != nil {
		return nil, err
	}
	snippets := toSnippets(userID, results)
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].CreatedAt.After(snippets[j].CreatedAt)
	})
	return snippets, nil
}

func toSnippets(userID string, results []chromem.Result) []Snippet {
	out := make([]Snippet, 0, len(results))
	for _, r := range results {
		owner := r.Metadata["user_id"]
		if owner == "" {
			owner = userID
		}
		created, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k == "user_id" || k == "created_at" {
				continue
			}
			meta[k] = v
		}
		out = append(out, Snippet{
			ID:        r.ID,
			UserID:    owner,
			Text:      strings.TrimSpace(r.Content),
			Score:     float64(r.Similarity),
			Metadata:  meta,
			CreatedAt: created,
		})
	}
	return out
}
