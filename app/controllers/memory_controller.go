package controllers

import (
	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/memory"
)

// MemoryController 长期记忆管理
type MemoryController struct {
	BaseController
}

// List GET /api/memories
func (c *MemoryController) List() {
	userID, ok := c.userID()
	if !ok {
		return
	}

	snippets, err := c.deps.Memory.ListAllWithError(c.Ctx.Request.Context(), userID)
	if err != nil {
		c.handleError(memoryUnavailable(err))
		return
	}
	if snippets == nil {
		snippets = []memory.Snippet{}
	}
	c.JSONSuccess(map[string]interface{}{
		"memories":  snippets,
		"provider":  c.deps.Memory.ProviderName(),
		"available": c.deps.Memory.IsAvailable(),
	})
}

// Delete DELETE /api/memories/:id
func (c *MemoryController) Delete() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	id := c.Ctx.Input.Param(":id")
	if id == "" {
		c.handleError(errors.NewInvalidInputError("id", "must not be empty"))
		return
	}

	deleted, err := c.deps.Memory.DeleteByIDWithError(c.Ctx.Request.Context(), userID, []string{id})
	if err != nil {
		c.handleError(memoryUnavailable(err))
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": deleted})
}

// DeleteAll DELETE /api/memories
func (c *MemoryController) DeleteAll() {
	userID, ok := c.userID()
	if !ok {
		return
	}

	deleted, err := c.deps.Memory.DeleteAllWithError(c.Ctx.Request.Context(), userID)
	if err != nil {
		c.handleError(memoryUnavailable(err))
		return
	}
	c.JSONSuccess(map[string]interface{}{"deleted": deleted})
}

func memoryUnavailable(err error) error {
	return errors.NewBusinessError(errors.ErrCodeServiceUnavailable, "Memory service is unavailable").WithCause(err)
}
