package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/aihub/chat-backend/internal/services"
	"github.com/beego/beego/v2/server/web"
)

// MetricsController 指标控制器
type MetricsController struct {
	web.Controller
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	services.MetricsHandler().ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}

// HealthController 健康检查
type HealthController struct {
	BaseController
}

// Health GET /health，数据库不可用时返回503，记忆服务只做展示
func (c *HealthController) Health() {
	ctx, cancel := context.WithTimeout(c.Ctx.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]interface{}{
		"status":  "healthy",
		"service": c.deps.Config.App.Name,
		"version": c.deps.Config.App.Version,
	}

	if err := c.deps.Database.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		result["status"] = "unhealthy"
		result["database"] = map[string]interface{}{"healthy": false, "error": err.Error()}
	} else {
		result["database"] = c.deps.Database.GetHealthStatus()
	}

	result["memory"] = map[string]interface{}{
		"provider":  c.deps.Memory.ProviderName(),
		"available": c.deps.Memory.IsAvailable(),
		"breaker":   c.deps.Memory.Breaker().Stats(),
	}

	if c.deps.Attachments != nil {
		storageHealthy := c.deps.Attachments.HealthCheck(ctx) == nil
		result["storage"] = map[string]interface{}{"healthy": storageHealthy}
	}

	c.JSON(status, result)
}
