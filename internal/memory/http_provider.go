package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aihub/chat-backend/internal/config"
)

// HTTPProvider 对接外部记忆服务的REST接口
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type httpMemory struct {
	ID        string                 `json:"id"`
	Memory    string                 `json:"memory"`
	UserID    string                 `json:"user_id"`
	Score     float64                `json:"score"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
}

type httpAddRequest struct {
	Messages           []Turn `json:"messages"`
	UserID             string `json:"user_id"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

type httpSearchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// NewHTTPProvider 创建REST记忆后端
func NewHTTPProvider(cfg config.MemoryHTTPConfig) (*HTTPProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("memory api url not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Search(ctx context.Context, userID, query string, limit int) ([]Snippet, error) {
	var raw json.RawMessage
	err := p.do(ctx, http.MethodPost, "/v1/memories/search/", httpSearchRequest{
		Query:  query,
		UserID: userID,
		Limit:  limit,
	}, &raw)
	if err != nil {
		return nil, err
	}
	return decodeMemories(raw)
}

func (p *HTTPProvider) Add(ctx context.Context, userID string, turns []Turn, customInstructions string) error {
	return p.do(ctx, http.MethodPost, "/v1/memories/", httpAddRequest{
		Messages:           turns,
		UserID:             userID,
		CustomInstructions: customInstructions,
	}, nil)
}

// Delete 逐条删除，删除前确认记忆属于该用户
func (p *HTTPProvider) Delete(ctx context.Context, userID string, ids []string) error {
	for _, id := range ids {
		path := "/v1/memories/" + url.PathEscape(id) + "/"
		var mem httpMemory
		if err := p.do(ctx, http.MethodGet, path, nil, &mem); err != nil {
			return err
		}
		if mem.UserID != userID {
			continue
		}
		if err := p.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *HTTPProvider) DeleteAll(ctx context.Context, userID string) error {
	return p.do(ctx, http.MethodDelete, "/v1/memories/?user_id="+url.QueryEscape(userID), nil, nil)
}

func (p *HTTPProvider) List(ctx context.Context, userID string) ([]Snippet, error) {
	var raw json.RawMessage
	if err := p.do(ctx, http.MethodGet, "/v1/memories/?user_id="+url.QueryEscape(userID), nil, &raw); err != nil {
		return nil, err
	}
	return decodeMemories(raw)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal memory request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Token "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("memory api %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeMemories 兼容裸数组和{"results": [...]}两种返回
func decodeMemories(raw json.RawMessage) ([]Snippet, error) {
	var items []httpMemory
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	} else if len(trimmed) > 0 {
		var wrapped struct {
			Results []httpMemory `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		items = wrapped.Results
	}

	snippets := make([]Snippet, 0, len(items))
	for _, item := range items {
		var meta map[string]string
		if len(item.Metadata) > 0 {
			meta = make(map[string]string, len(item.Metadata))
			for k, v := range item.Metadata {
				meta[k] = fmt.Sprint(v)
			}
		}
		snippets = append(snippets, Snippet{
			ID:        item.ID,
			UserID:    item.UserID,
			Text:      item.Memory,
			Score:     item.Score,
			Metadata:  meta,
			CreatedAt: item.CreatedAt,
		})
	}
	return snippets, nil
}
