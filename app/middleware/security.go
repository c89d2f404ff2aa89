package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aihub/chat-backend/internal/auth"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

// UserIDKey 认证通过后写入上下文的用户id
const UserIDKey = "user_id"

// SecurityConfig 安全配置
type SecurityConfig struct {
	EnableRateLimit   bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// SecurityMiddleware 安全中间件
type SecurityMiddleware struct {
	config       *SecurityConfig
	verifier     *auth.Verifier
	errorHandler *errors.ErrorHandler
	rateLimiter  *RateLimiter
	logger       *zap.Logger
}

// NewSecurityMiddleware 创建安全中间件
func NewSecurityMiddleware(config *SecurityConfig, verifier *auth.Verifier, errorHandler *errors.ErrorHandler, logger *zap.Logger) *SecurityMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &SecurityMiddleware{
		config:       config,
		verifier:     verifier,
		errorHandler: errorHandler,
		logger:       logger,
	}
	if config.EnableRateLimit {
		sm.rateLimiter = NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow)
	}
	return sm
}

// AuthRequired 需要认证的路由中间件
func (sm *SecurityMiddleware) AuthRequired() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if ctx.Input.Method() == http.MethodOptions {
			return
		}
		userID, err := sm.verifier.Authenticate(ctx.Input.Header("Authorization"))
		if err != nil {
			sm.logger.Debug("Authentication failed",
				zap.String("path", ctx.Input.URL()),
				zap.Error(err))
			sm.handleError(ctx, err)
			return
		}
		ctx.Input.SetData(UserIDKey, userID)
	}
}

// ChatRateLimit 按用户限流，需放在AuthRequired之后
func (sm *SecurityMiddleware) ChatRateLimit() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if sm.rateLimiter == nil {
			return
		}
		userID, _ := ctx.Input.GetData(UserIDKey).(uint)
		key := fmt.Sprintf("user:%d", userID)
		if userID == 0 {
			key = "ip:" + ctx.Input.IP()
		}
		if !sm.rateLimiter.Allow(key) {
			sm.handleError(ctx, errors.NewBusinessError(errors.ErrCodeTooManyRequests, "Rate limit exceeded").
				WithRetryAfter(sm.config.RateLimitWindow))
		}
	}
}

// SecurityHeaders 安全头中间件
func (sm *SecurityMiddleware) SecurityHeaders() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		ctx.Output.Header("X-Content-Type-Options", "nosniff")
		ctx.Output.Header("X-Frame-Options", "DENY")
		ctx.Output.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	}
}

func (sm *SecurityMiddleware) handleError(ctx *beecontext.Context, err error) {
	if sm.errorHandler != nil {
		sm.errorHandler.Handle(ctx.ResponseWriter, ctx.Request, err)
		return
	}
	ctx.Output.SetStatus(http.StatusUnauthorized)
	ctx.Output.Header("Content-Type", "application/json")
	_ = ctx.Output.Body([]byte(`{"error": {"code": "UNAUTHORIZED", "message": "Authentication failed"}}`))
}

// RateLimiter 滑动窗口限流器
type RateLimiter struct {
	requests int
	window   time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
	lastGC  time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string][]time.Time),
		lastGC:   time.Now(),
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)
	if now.Sub(rl.lastGC) > rl.window {
		rl.gc(windowStart)
		rl.lastGC = now
	}

	valid := prune(rl.clients[key], windowStart)
	if len(valid) >= rl.requests {
		rl.clients[key] = valid
		return false
	}
	rl.clients[key] = append(valid, now)
	return true
}

func (rl *RateLimiter) gc(windowStart time.Time) {
	for key, requests := range rl.clients {
		if valid := prune(requests, windowStart); len(valid) == 0 {
			delete(rl.clients, key)
		} else {
			rl.clients[key] = valid
		}
	}
}

func prune(requests []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	return requests[i:]
}
