package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

// 流式响应的元信息通过这些头返回，需要对浏览器暴露
var exposedHeaders = "X-Conversation-Id, X-Draft-Id, X-New-Conversation, X-Memory-Used, X-Memory-Count, X-Context-Truncated, Retry-After"

// CORSMiddleware CORS中间件，allowed为空时允许任意来源
func CORSMiddleware(allowed []string) web.FilterFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")
		if origin == "" {
			return
		}
		if _, ok := set[origin]; !ok && len(set) > 0 {
			return
		}

		ctx.Output.Header("Access-Control-Allow-Origin", origin)
		ctx.Output.Header("Vary", "Origin")
		ctx.Output.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		ctx.Output.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		ctx.Output.Header("Access-Control-Expose-Headers", exposedHeaders)
		ctx.Output.Header("Access-Control-Allow-Credentials", "true")
		ctx.Output.Header("Access-Control-Max-Age", "3600")

		if ctx.Input.Method() == http.MethodOptions {
			ctx.Output.SetStatus(http.StatusNoContent)
			_ = ctx.Output.Body([]byte(""))
		}
	}
}
