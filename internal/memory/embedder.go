package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aihub/chat-backend/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// Embedder 文本向量化接口，向量类记忆后端依赖它
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// ErrEmbedderNotConfigured 未配置向量化服务
var ErrEmbedderNotConfigured = errors.New("embedding provider not configured")

// NoopEmbedder 占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrEmbedderNotConfigured
}

func (n *NoopEmbedder) Dimensions() int { return 0 }

func (n *NoopEmbedder) Ready() bool { return false }

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 基于OpenAI Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    sync.Mutex
}

// NewOpenAIEmbedder 创建向量化客户端，未配置密钥时返回NoopEmbedder
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		var ok bool
		if dims, ok = embeddingDimensions[model]; !ok {
			dims = 1536
		}
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dims,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}

	e.limiter.Lock()
	defer e.limiter.Unlock()

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if _, known := embeddingDimensions[e.model]; known && e.model != string(openai.AdaEmbeddingV2) {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response empty")
	}

	result := make([]float32, len(resp.Data[0].Embedding))
	copy(result, resp.Data[0].Embedding)
	return result, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Ready() bool { return e.client != nil }
