package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// ElasticProvider 基于ES全文检索的记忆后端
type ElasticProvider struct {
	client *elasticsearch.Client
	index  string

	mu      sync.Mutex
	ensured bool
}

type elasticMemoryDoc struct {
	UserID       string    `json:"user_id"`
	Content      string    `json:"content"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type elasticSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string           `json:"_id"`
			Score  float64          `json:"_score"`
			Source elasticMemoryDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewElasticProvider 创建ES记忆后端
func NewElasticProvider(cfg config.ElasticsearchConfig) (*ElasticProvider, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses not configured")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	index := cfg.Index
	if index == "" {
		index = "chat_memory"
	}
	return &ElasticProvider{client: client, index: index}, nil
}

func (e *ElasticProvider) Name() string { return "elasticsearch" }

func (e *ElasticProvider) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured {
		return nil
	}

	resp, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		e.ensured = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"user_id":      map[string]interface{}{"type": "keyword"},
				"content":      map[string]interface{}{"type": "text"},
				"instructions": map[string]interface{}{"type": "text", "index": false},
				"created_at":   map[string]interface{}{"type": "date"},
			},
		},
	}
	body, _ := json.Marshal(mapping)
	createResp, err := esapi.IndicesCreateRequest{Index: e.index, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()
	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}
	e.ensured = true
	return nil
}

func (e *ElasticProvider) Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
				},
				"must": []interface{}{
					map[string]interface{}{"match": map[string]interface{}{"content": query}},
				},
			},
		},
	}
	return e.search(ctx, body)
}

func (e *ElasticProvider) Add(ctx context.Context, userID string, turns []Turn, customInstructions string) error {
	docs := pairTurns(turns)
	if len(docs) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, content := range docs {
		payload, _ := json.Marshal(elasticMemoryDoc{
			UserID:       userID,
			Content:      content,
			Instructions: customInstructions,
			CreatedAt:    now,
		})
		resp, err := esapi.IndexRequest{
			Index:      e.index,
			DocumentID: uuid.NewString(),
			Body:       bytes.NewReader(payload),
			Refresh:    "true",
		}.Do(ctx, e.client)
		if err != nil {
			return err
		}
		err = checkResponse(resp, "index memory")
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *ElasticProvider) Delete(ctx context.Context, userID string, ids []string) error {
	return e.deleteByQuery(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
				map[string]interface{}{"ids": map[string]interface{}{"values": ids}},
			},
		},
	})
}

func (e *ElasticProvider) DeleteAll(ctx context.Context, userID string) error {
	return e.deleteByQuery(ctx, map[string]interface{}{
		"term": map[string]interface{}{"user_id": userID},
	})
}

func (e *ElasticProvider) List(ctx context.Context, userID string) ([]Snippet, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return e.search(ctx, map[string]interface{}{
		"size":  1000,
		"query": map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
		"sort":  []interface{}{map[string]interface{}{"created_at": "desc"}},
	})
}

func (e *ElasticProvider) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]interface{}{"query": query})
	resp, err := esapi.DeleteByQueryRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	return checkResponse(resp, "delete memory")
}

func (e *ElasticProvider) search(ctx context.Context, body map[string]interface{}) ([]Snippet, error) {
	payload, _ := json.Marshal(body)
	resp, err := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(payload),
	}.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result elasticSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	snippets := make([]Snippet, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		s := Snippet{
			ID:        hit.ID,
			UserID:    hit.Source.UserID,
			Text:      hit.Source.Content,
			Score:     hit.Score,
			CreatedAt: hit.Source.CreatedAt,
		}
		if hit.Source.Instructions != "" {
			s.Metadata = map[string]string{"instructions": hit.Source.Instructions}
		}
		snippets = append(snippets, s)
	}
	return snippets, nil
}

func checkResponse(resp *esapi.Response, action string) error {
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("%s error: %s", action, resp.String())
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
