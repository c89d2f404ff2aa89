package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder 按关键词出现与否生成向量
type keywordEmbedder struct{}

var embedKeywords = []string{"go", "coffee", "night", "music"}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(embedKeywords)+1)
	vec[len(embedKeywords)] = 0.1
	for i, kw := range embedKeywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (keywordEmbedder) Dimensions() int { return len(embedKeywords) + 1 }

func (keywordEmbedder) Ready() bool { return true }

func TestChromemProviderRoundTrip(t *testing.T) {
	p, err := NewChromemProvider("", false, keywordEmbedder{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "1", exchange("I write go every day", "Nice, go is great"), ""))
	require.NoError(t, p.Add(ctx, "1", exchange("I drink coffee", "Noted"), "keep it short"))
	require.NoError(t, p.Add(ctx, "2", exchange("I love music", "Cool"), ""))

	got, err := p.Search(ctx, "1", "which language, go?", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Text, "go every day")
	for _, s := range got {
		assert.Equal(t, "1", s.UserID)
	}

	list, err := p.List(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, p.Delete(ctx, "1", []string{list[0].ID}))
	list, err = p.List(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, p.DeleteAll(ctx, "1"))
	got, err = p.Search(ctx, "1", "go", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := p.Search(ctx, "2", "music", 3)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestChromemProviderRequiresEmbedder(t *testing.T) {
	_, err := NewChromemProvider("", false, &NoopEmbedder{})
	assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
}

type memoryAPI struct {
	mu      sync.Mutex
	added   []httpAddRequest
	deleted []string
	cleared []string
	auth    string
}

func (m *memoryAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/memories/search/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.auth = r.Header.Get("Authorization")
		m.mu.Unlock()
		var req httpSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"id": "m1", "memory": "Prefers Go", "user_id": req.UserID, "score": 0.8, "metadata": map[string]interface{}{"source": "chat", "turn": 2}},
				{"id": "m2", "memory": "Leaked", "user_id": "999", "score": 0.9},
			},
		})
	})
	mux.HandleFunc("/v1/memories/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/memories/"), "/")
		switch {
		case r.Method == http.MethodPost && id == "":
			var req httpAddRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			m.added = append(m.added, req)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[]`))
		case r.Method == http.MethodGet && id == "":
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "m1", "memory": "Prefers Go", "user_id": r.URL.Query().Get("user_id")},
			})
		case r.Method == http.MethodGet:
			owner := "1"
			if id == "foreign" {
				owner = "2"
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "memory": "x", "user_id": owner})
		case r.Method == http.MethodDelete && id == "":
			m.cleared = append(m.cleared, r.URL.Query().Get("user_id"))
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete:
			m.deleted = append(m.deleted, id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func TestHTTPProvider(t *testing.T) {
	api := &memoryAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	p, err := NewHTTPProvider(config.MemoryHTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := p.Search(ctx, "1", "language", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Prefers Go", got[0].Text)
	assert.Equal(t, "2", got[0].Metadata["turn"])
	assert.Equal(t, "Token secret", api.auth)

	// 网关负责丢弃其他用户的记忆
	g := NewGateway(p, nil, nil)
	filtered := g.Search(ctx, 1, "language", 3)
	require.Len(t, filtered, 1)
	assert.Equal(t, "m1", filtered[0].ID)

	require.NoError(t, p.Add(ctx, "1", exchange("hi", "hello"), "remember names"))
	require.Len(t, api.added, 1)
	assert.Equal(t, "1", api.added[0].UserID)
	assert.Equal(t, models.RoleAssistant, api.added[0].Messages[1].Role)
	assert.Equal(t, "remember names", api.added[0].CustomInstructions)

	list, err := p.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, p.Delete(ctx, "1", []string{"mine", "foreign"}))
	assert.Equal(t, []string{"mine"}, api.deleted)

	require.NoError(t, p.DeleteAll(ctx, "1"))
	assert.Equal(t, []string{"1"}, api.cleared)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(config.MemoryHTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "1", "q", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = NewHTTPProvider(config.MemoryHTTPConfig{})
	assert.Error(t, err)
}

func TestElasticProvider(t *testing.T) {
	var (
		mu       sync.Mutex
		indexed  []elasticMemoryDoc
		searches []string
		created  bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/chat_memory":
			if created {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/chat_memory":
			created = true
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case strings.HasPrefix(r.URL.Path, "/chat_memory/_doc/"):
			var doc elasticMemoryDoc
			_ = json.NewDecoder(r.Body).Decode(&doc)
			indexed = append(indexed, doc)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
		case r.URL.Path == "/chat_memory/_search":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			raw, _ := json.Marshal(body["query"])
			searches = append(searches, string(raw))
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_id":"e1","_score":2.5,"_source":{"user_id":"4","content":"User: I like go","created_at":"2024-01-02T03:04:05Z"}}
			]}}`))
		case r.URL.Path == "/chat_memory/_delete_by_query":
			_, _ = w.Write([]byte(`{"deleted":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	p, err := NewElasticProvider(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "4", exchange("I like go", "Great"), ""))
	require.Len(t, indexed, 1)
	assert.Equal(t, "4", indexed[0].UserID)
	assert.Equal(t, "User: I like go\nAssistant: Great", indexed[0].Content)

	got, err := p.Search(ctx, "4", "go", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, 2.5, got[0].Score)
	assert.Contains(t, searches[0], `"user_id":"4"`)

	require.NoError(t, p.Delete(ctx, "4", []string{"e1"}))
	require.NoError(t, p.DeleteAll(ctx, "4"))

	_, err = NewElasticProvider(config.ElasticsearchConfig{})
	assert.Error(t, err)
}

func TestMilvusExpressions(t *testing.T) {
	assert.Equal(t, `user_id == "12"`, userExpr("12"))
	assert.Equal(t, `id in ["a", "b"]`, idsExpr([]string{"a", "b"}))

	p := &MilvusProvider{dim: 4}
	assert.Equal(t, []float32{1, 2, 0, 0}, p.fit([]float32{1, 2}))
	assert.Len(t, p.fit([]float32{1, 2, 3, 4, 5}), 4)
}
