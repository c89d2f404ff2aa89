package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aihub/chat-backend/app/middleware"
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
	deps *Dependencies
}

// Prepare 绑定依赖
func (c *BaseController) Prepare() {
	c.deps = current()
	if c.deps == nil {
		c.Ctx.Output.SetStatus(http.StatusServiceUnavailable)
		_ = c.Ctx.Output.Body([]byte(`{"error": {"code": "SERVICE_UNAVAILABLE", "message": "Service is starting"}}`))
		c.StopRun()
	}
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// handleError 统一错误响应
func (c *BaseController) handleError(err error) {
	c.deps.Errors.Handle(c.Ctx.ResponseWriter, c.Ctx.Request, err)
}

// userID 认证过滤器写入的用户id
func (c *BaseController) userID() (uint, bool) {
	userID, ok := c.Ctx.Input.GetData(middleware.UserIDKey).(uint)
	if !ok || userID == 0 {
		c.handleError(errors.NewUnauthorizedError(""))
		return 0, false
	}
	return userID, true
}

// uintParam 解析路径参数
func (c *BaseController) uintParam(name string) (uint, bool) {
	raw := c.Ctx.Input.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.handleError(errors.NewInvalidInputError(name[1:], "must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

// decode 解析并校验JSON请求体
func (c *BaseController) decode(v interface{}) bool {
	body := c.Ctx.Input.RequestBody
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.deps.Logger.Debug("Rejected malformed request body", zap.Error(err))
		c.handleError(errors.NewValidationError("Request body is not valid JSON").WithCause(err))
		return false
	}
	if err := validate.Struct(v); err != nil {
		c.handleError(c.deps.Translator.Translate(err))
		return false
	}
	return true
}
