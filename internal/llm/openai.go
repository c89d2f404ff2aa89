package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/sashabaranov/go-openai"
)

// OpenAIModel 基于OpenAI兼容接口的流式模型客户端
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel 创建模型客户端，BaseURL为空时使用官方地址
func NewOpenAIModel(cfg config.AIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIModel{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Name 模型名称
func (m *OpenAIModel) Name() string {
	return m.model
}

// Stream 发起流式补全
func (m *OpenAIModel) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream, err := m.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, MarkRetryable(err)
	}

	return &openAIStream{stream: stream, model: model}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	model  string
	buffer strings.Builder
	result Result
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.result.Text = s.buffer.String()
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}

		if resp.Usage != nil {
			s.result.Usage = models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
				Model:            s.model,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.result.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		s.buffer.WriteString(choice.Delta.Content)
		return choice.Delta.Content, nil
	}
}

func (s *openAIStream) Result() Result {
	res := s.result
	res.Usage.FinishReason = res.FinishReason
	if res.Usage.Model == "" {
		res.Usage.Model = s.model
	}
	return res
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// UnconfiguredModel 缺少凭证时使用，每次调用都返回ErrNotConfigured
type UnconfiguredModel struct {
	model string
}

// NewUnconfiguredModel 创建未配置的模型客户端
func NewUnconfiguredModel(model string) *UnconfiguredModel {
	return &UnconfiguredModel{model: model}
}

func (m *UnconfiguredModel) Name() string {
	return m.model
}

func (m *UnconfiguredModel) Stream(context.Context, Request) (Stream, error) {
	return nil, ErrNotConfigured
}
