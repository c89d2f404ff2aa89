package memory

import (
	"context"
	"fmt"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewProvider 按配置创建记忆后端，创建失败时退回NoopProvider
func NewProvider(ctx context.Context, cfg config.MemoryConfig, logger *zap.Logger) Provider {
	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		logger.Warn("Memory provider unavailable, running without long-term memory",
			zap.String("provider", cfg.Provider),
			zap.Error(err))
		return NewNoopProvider()
	}
	logger.Info("Memory provider ready", zap.String("provider", provider.Name()))
	return provider
}

func buildProvider(ctx context.Context, cfg config.MemoryConfig) (Provider, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPProvider(cfg.HTTP)
	case "chromem":
		return NewChromemProvider(cfg.Chromem.Path, cfg.Chromem.Compress, NewOpenAIEmbedder(cfg.Embedding))
	case "milvus":
		return NewMilvusProvider(ctx, cfg.Milvus, NewOpenAIEmbedder(cfg.Embedding))
	case "elasticsearch":
		return NewElasticProvider(cfg.Elasticsearch)
	case "none", "":
		return NewNoopProvider(), nil
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
	}
}

// NewGatewayFromConfig 按配置组装网关
func NewGatewayFromConfig(ctx context.Context, cfg config.MemoryConfig, logger *zap.Logger) *Gateway {
	breaker := NewCircuitBreaker("memory", cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.OpenTimeout)
	return NewGateway(NewProvider(ctx, cfg, logger), breaker, logger.Named("memory"), WithCallTimeout(cfg.HTTP.Timeout))
}

// NewQueue 按配置创建写入队列，依赖缺失时退回进程内队列
func NewQueue(cfg config.MemoryConfig, kafkaCfg config.KafkaConfig, processor *Processor, redisClient redis.UniversalClient, producer *kafka.Producer) Queue {
	switch cfg.Queue.Provider {
	case "redis":
		if redisClient != nil {
			return NewRedisQueue(redisClient, cfg.Queue.RedisKey, processor, cfg.Queue.Workers)
		}
		processor.logger.Warn("Redis not configured, falling back to in-process ingest queue")
	case "kafka":
		if producer != nil && kafkaCfg.MemoryTopic != "" {
			return NewKafkaQueue(producer, kafkaCfg.MemoryTopic, processor)
		}
		processor.logger.Warn("Kafka not configured, falling back to in-process ingest queue")
	}
	return NewChannelQueue(processor, cfg.Queue.Workers, cfg.Queue.Buffer)
}
