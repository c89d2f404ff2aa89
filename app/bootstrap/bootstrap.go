package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/aihub/chat-backend/app/controllers"
	"github.com/aihub/chat-backend/app/middleware"
	"github.com/aihub/chat-backend/app/router"
	"github.com/aihub/chat-backend/internal/auth"
	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/consul"
	"github.com/aihub/chat-backend/internal/database"
	"github.com/aihub/chat-backend/internal/di"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/kafka"
	"github.com/aihub/chat-backend/internal/logger"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/services"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container

	cleanupTasks []func() error
	logger       *zap.Logger
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	loader := config.NewConfigLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	config.SetAppConfig(cfg)

	container, err := di.InitContainer()
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Container: container,
		logger:    logger.GetLogger(),
	}
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		cancel()
		return nil
	})

	if err := app.startInfrastructure(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}

	if err := controllers.NewControllerFactory(container).Bind(); err != nil {
		app.Shutdown()
		return nil, fmt.Errorf("failed to bind controllers: %w", err)
	}

	if err := app.initRoutes(); err != nil {
		app.Shutdown()
		return nil, err
	}

	app.watchConfig(loader)
	app.register()

	return app, nil
}

// startInfrastructure 启动数据库监控和记忆写入队列
func (a *App) startInfrastructure(ctx context.Context) error {
	return a.Container.Invoke(func(
		db *database.Database,
		queue memory.Queue,
		processor *memory.Processor,
		producer *kafka.Producer,
		chat *services.ChatService,
	) {
		db.StartMonitoring(ctx)
		a.cleanupTasks = append(a.cleanupTasks, db.Close, database.CloseRedis)

		if producer != nil {
			a.cleanupTasks = append(a.cleanupTasks, producer.Close)
		}

		queue.Start(ctx)
		a.cleanupTasks = append(a.cleanupTasks, queue.Close)
		go a.drainIngestErrors(ctx, processor.Errors())

		// 最后注册，关闭时最先等待后台投递完成
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			chat.Wait()
			return nil
		})
	})
}

func (a *App) drainIngestErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			a.logger.Warn("Memory ingest failed", zap.Error(err))
		}
	}
}

func (a *App) initRoutes() error {
	return a.Container.Invoke(func(verifier *auth.Verifier, handler *errors.ErrorHandler) {
		security := middleware.NewSecurityMiddleware(&middleware.SecurityConfig{
			EnableRateLimit:   a.Config.Server.RateLimitRequests > 0,
			RateLimitRequests: a.Config.Server.RateLimitRequests,
			RateLimitWindow:   a.Config.Server.RateLimitWindow,
		}, verifier, handler, a.logger.Named("http"))
		router.Init(security, a.Config.Server.AllowedOrigins)
	})
}

// watchConfig 配置文件变化时更新对话参数，其余配置需要重启生效
func (a *App) watchConfig(loader *config.ConfigLoader) {
	err := a.Container.Invoke(func(chat *services.ChatService) {
		loader.Watch(func(cfg *config.Config) {
			chat.UpdateOptions(di.ChatOptionsFromConfig(cfg))
			a.logger.Info("Configuration reloaded",
				zap.String("model", cfg.AI.Model),
				zap.Int("context_budget", cfg.AI.ContextBudget))
		})
	})
	if err != nil {
		a.logger.Warn("Config hot reload disabled", zap.Error(err))
	}
}

// register 向Consul注册服务，失败不影响启动
func (a *App) register() {
	err := a.Container.Invoke(func(client *consul.Client) {
		if !client.IsEnabled() {
			return
		}
		registry := consul.NewServiceRegistry(client, a.logger.Named("consul"))
		if err := registry.Register(a.Config); err != nil {
			a.logger.Warn("Failed to register service with Consul", zap.Error(err))
			return
		}
		a.cleanupTasks = append(a.cleanupTasks, registry.Deregister)
	})
	if err != nil {
		a.logger.Warn("Consul client not available, skipping service registration", zap.Error(err))
	}
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			a.logger.Warn("Cleanup error", zap.Error(err))
		}
	}
	a.cleanupTasks = nil

	logger.Sync()
}
