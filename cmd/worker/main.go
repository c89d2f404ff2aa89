// worker 消费用量事件和记忆写入任务
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/database"
	"github.com/aihub/chat-backend/internal/di"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/aihub/chat-backend/internal/logger"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/services"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := config.LoadConfig(); err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	cfg := config.GetAppConfig()
	if !cfg.Kafka.Enabled {
		logger.Fatal("Kafka is disabled, nothing to consume")
	}

	container, err := di.InitContainer()
	if err != nil {
		logger.Fatal("Failed to build container", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = container.Invoke(func(db *database.Database, recorder *services.UsageRecorder, processor *memory.Processor) error {
		defer db.Close()

		topics := make([]string, 0, 2)
		if cfg.Kafka.UsageTopic != "" {
			topics = append(topics, cfg.Kafka.UsageTopic)
		}
		if cfg.Kafka.MemoryTopic != "" {
			topics = append(topics, cfg.Kafka.MemoryTopic)
		}

		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, topics)
		if err != nil {
			return err
		}
		defer consumer.Close()

		if cfg.Kafka.UsageTopic != "" {
			consumer.RegisterHandler(cfg.Kafka.UsageTopic, recorder.HandleMessage)
		}
		if cfg.Kafka.MemoryTopic != "" {
			ingest := memory.NewKafkaQueue(nil, cfg.Kafka.MemoryTopic, processor)
			consumer.RegisterHandler(cfg.Kafka.MemoryTopic, ingest.Handle)
		}

		consumer.Start(ctx)
		logger.Info("Worker started", zap.Strings("topics", topics), zap.String("group", cfg.Kafka.GroupID))

		for {
			select {
			case <-ctx.Done():
				logger.Info("Worker stopping")
				return nil
			case err := <-processor.Errors():
				logger.Warn("Memory ingest failed", zap.Error(err))
			}
		}
	})
	if err != nil {
		logger.Fatal("Worker exited with error", zap.Error(err))
	}
}
