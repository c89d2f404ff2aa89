package controllers

import (
	"sync/atomic"

	"github.com/aihub/chat-backend/internal/config"
	"github.com/aihub/chat-backend/internal/database"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/services"
	"github.com/aihub/chat-backend/internal/storage"
	"github.com/go-playground/validator/v10"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Dependencies 控制器依赖，由容器注入
type Dependencies struct {
	dig.In

	Config        *config.Config
	Chat          *services.ChatService
	Conversations *services.ConversationService
	Memory        *memory.Gateway
	Database      *database.Database
	Attachments   *storage.AttachmentStore
	Errors        *errors.ErrorHandler
	Translator    *errors.ErrorTranslator
	Logger        *zap.Logger
}

// beego为每个请求新建控制器实例，依赖放在包级别
var (
	bound    atomic.Pointer[Dependencies]
	validate = validator.New()
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{container: container}
}

// Bind 从容器解析控制器依赖
func (f *ControllerFactory) Bind() error {
	return f.container.Invoke(func(deps Dependencies) {
		Bind(&deps)
	})
}

// Bind 直接设置控制器依赖
func Bind(deps *Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Translator == nil {
		deps.Translator = errors.NewErrorTranslator()
	}
	bound.Store(deps)
}

func current() *Dependencies {
	return bound.Load()
}
