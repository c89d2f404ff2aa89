package router

import (
	"github.com/aihub/chat-backend/app/controllers"
	"github.com/aihub/chat-backend/app/middleware"
	"github.com/beego/beego/v2/server/web"
)

// Init registers all routes. Must be called after the controllers are bound.
func Init(security *middleware.SecurityMiddleware, allowedOrigins []string) {
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware(allowedOrigins))
	web.InsertFilter("/*", web.BeforeRouter, security.SecurityHeaders())
	web.InsertFilter("/api/*", web.BeforeRouter, security.AuthRequired())

	// 限流只作用于会触发模型调用的接口，需在认证之后执行
	web.InsertFilter("/api/chat", web.BeforeExec, security.ChatRateLimit())
	web.InsertFilter("/api/conversations/:id/messages/:message_id/regenerate", web.BeforeExec, security.ChatRateLimit())

	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	chatController := &controllers.ChatController{}
	web.Router("/api/chat", chatController, "post:Chat")

	conversationController := &controllers.ConversationController{}
	web.Router("/api/conversations", conversationController, "get:List;post:Create")
	web.Router("/api/conversations/:id", conversationController, "get:Get;patch:Update;delete:Delete")
	web.Router("/api/conversations/:id/messages", conversationController, "get:Messages")
	web.Router("/api/conversations/:id/messages/:message_id", conversationController, "patch:EditMessage;delete:DeleteMessage")
	web.Router("/api/conversations/:id/messages/:message_id/regenerate", chatController, "post:Regenerate")
	web.Router("/api/conversations/:id/truncate", conversationController, "post:Truncate")

	memoryController := &controllers.MemoryController{}
	web.Router("/api/memories", memoryController, "get:List;delete:DeleteAll")
	web.Router("/api/memories/:id", memoryController, "delete:Delete")

	web.Router("/api/attachments/url", &controllers.AttachmentController{}, "get:URL")
}
