package di

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aihub/chat-backend/internal/auth"
	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/consul"
	"github.com/aihub/chat-backend/internal/database"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/aihub/chat-backend/internal/llm"
	"github.com/aihub/chat-backend/internal/logger"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/repository"
	"github.com/aihub/chat-backend/internal/services"
	"github.com/aihub/chat-backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		provideConfig,
		provideLogger,
		provideRegisterer,

		// 存储
		provideDatabase,
		func(db *database.Database) *gorm.DB { return db.GetDB() },
		repository.NewConversationRepository,
		repository.NewMessageRepository,
		repository.NewUsageLogRepository,
		provideRedis,
		provideAttachmentStore,

		// 消息与服务发现
		provideProducer,
		provideConsul,

		// 记忆
		provideMemoryGateway,
		memory.NewIngestMetrics,
		provideIngestProcessor,
		provideIngestQueue,

		// 对话
		provideModel,
		services.NewChatMetrics,
		provideConversationService,
		provideContextBuilder,
		provideDraftRegistry,
		provideUsageRecorder,
		provideChatService,

		// HTTP
		provideVerifier,
		errors.NewErrorMonitor,
		errors.NewErrorHandler,
		errors.NewErrorTranslator,
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// ChatOptionsFromConfig 从配置生成对话参数，热更新时复用
func ChatOptionsFromConfig(cfg *config.Config) services.ChatOptions {
	return services.ChatOptions{
		Model:         cfg.AI.Model,
		SystemPrompt:  cfg.AI.SystemPrompt,
		ContextBudget: cfg.AI.ContextBudget,
		StallTimeout:  cfg.AI.Timeout,
		MaxRetries:    cfg.AI.MaxRetries,
		RetryBackoff:  cfg.AI.RetryBackoff,
		Temperature:   cfg.AI.Temperature,
		MaxTokens:     cfg.AI.MaxTokens,
		IngestWindow:  cfg.Memory.IngestWindow,
	}
}

func provideConfig() (*config.Config, error) {
	cfg := config.GetAppConfig()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return cfg, nil
}

func provideLogger() *zap.Logger {
	return logger.GetLogger()
}

func provideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func provideDatabase(cfg *config.Config, reg prometheus.Registerer) (*database.Database, error) {
	return database.NewDatabase(cfg, reg)
}

// provideRedis Redis可选，不可用时返回nil
func provideRedis(cfg *config.Config, log *zap.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := database.InitRedis()
	if err != nil {
		log.Warn("Failed to initialize Redis, draft registry and ingest queue stay in-process", zap.Error(err))
		return nil
	}
	return client
}

func provideAttachmentStore(cfg *config.Config, log *zap.Logger) *storage.AttachmentStore {
	if !cfg.Storage.Enabled {
		return nil
	}
	store, err := storage.NewAttachmentStore(context.Background(), cfg.Storage, log.Named("storage"))
	if err != nil {
		log.Warn("Failed to initialize attachment storage, images will not be stored", zap.Error(err))
		return nil
	}
	return store
}

func provideProducer(cfg *config.Config, log *zap.Logger) *kafka.Producer {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Warn("Failed to initialize Kafka producer", zap.Error(err))
		return nil
	}
	return producer
}

func provideConsul(cfg *config.Config, log *zap.Logger) (*consul.Client, error) {
	return consul.NewClient(cfg.Consul, log.Named("consul"))
}

// provideMemoryGateway memory.http.base_url 支持 consul://<service> 形式
func provideMemoryGateway(cfg *config.Config, discovery *consul.Client, log *zap.Logger) *memory.Gateway {
	memCfg := cfg.Memory
	if memCfg.Provider == "http" {
		resolved, err := discovery.ResolveURL(memCfg.HTTP.BaseURL)
		if err != nil {
			log.Warn("Failed to resolve memory service address", zap.String("base_url", memCfg.HTTP.BaseURL), zap.Error(err))
		} else {
			memCfg.HTTP.BaseURL = resolved
		}
	}
	return memory.NewGatewayFromConfig(context.Background(), memCfg, log)
}

func provideIngestProcessor(gateway *memory.Gateway, metrics *memory.IngestMetrics, log *zap.Logger) *memory.Processor {
	return memory.NewProcessor(gateway, log.Named("memory.ingest"), metrics)
}

func provideIngestQueue(cfg *config.Config, processor *memory.Processor, client redis.UniversalClient, producer *kafka.Producer) memory.Queue {
	return memory.NewQueue(cfg.Memory, cfg.Kafka, processor, client, producer)
}

// provideModel 缺少API key时服务照常启动，每轮对话以配置错误失败
func provideModel(cfg *config.Config, log *zap.Logger) (llm.ChatModel, error) {
	model, err := llm.NewOpenAIModel(cfg.AI)
	if stderrors.Is(err, llm.ErrNotConfigured) {
		log.Warn("AI API key not configured, chat turns will fail until it is set", zap.String("model", cfg.AI.Model))
		return llm.NewUnconfiguredModel(cfg.AI.Model), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return model, nil
}

func provideConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, log *zap.Logger) *services.ConversationService {
	return services.NewConversationService(conversations, messages, log.Named("conversations"))
}

func provideContextBuilder(cfg *config.Config, conversations *services.ConversationService, gateway *memory.Gateway, log *zap.Logger) *services.ContextBuilder {
	return services.NewContextBuilder(conversations, gateway, log.Named("context"),
		services.WithSnippetDegrade(cfg.Memory.DegradeSnippets),
		services.WithSnippetLimit(cfg.Memory.SearchLimit),
	)
}

func provideDraftRegistry(client redis.UniversalClient, log *zap.Logger) *services.DraftRegistry {
	var store services.DraftStore
	if client != nil {
		store = services.NewRedisDraftStore(client)
	}
	return services.NewDraftRegistry(store, log.Named("drafts"))
}

func provideUsageRecorder(cfg *config.Config, producer *kafka.Producer, logs repository.UsageLogRepository, metrics *services.ChatMetrics, log *zap.Logger) *services.UsageRecorder {
	return services.NewUsageRecorder(producer, cfg.Kafka.UsageTopic, logs, metrics, log.Named("usage"))
}

type chatParams struct {
	dig.In

	Config        *config.Config
	Conversations *services.ConversationService
	Builder       *services.ContextBuilder
	Model         llm.ChatModel
	Drafts        *services.DraftRegistry
	Queue         memory.Queue
	Recorder      *services.UsageRecorder
	Metrics       *services.ChatMetrics
	Attachments   *storage.AttachmentStore
	Logger        *zap.Logger
}

func provideChatService(p chatParams) *services.ChatService {
	deps := services.ChatDeps{
		Conversations: p.Conversations,
		Builder:       p.Builder,
		Model:         p.Model,
		Drafts:        p.Drafts,
		Ingest:        p.Queue,
		Recorder:      p.Recorder,
		Metrics:       p.Metrics,
		Logger:        p.Logger.Named("chat"),
	}
	if p.Attachments != nil {
		deps.Attachments = p.Attachments
	}
	return services.NewChatService(deps, ChatOptionsFromConfig(p.Config))
}

func provideVerifier(cfg *config.Config) (*auth.Verifier, error) {
	return auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn)
}
