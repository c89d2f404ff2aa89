package controllers

import (
	"time"

	"github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/storage"
)

const attachmentURLExpiry = 15 * time.Minute

// AttachmentController 附件访问
type AttachmentController struct {
	BaseController
}

// URL GET /api/attachments/url?key=
func (c *AttachmentController) URL() {
	userID, ok := c.userID()
	if !ok {
		return
	}
	if c.deps.Attachments == nil {
		c.handleError(errors.NewBusinessError(errors.ErrCodeServiceUnavailable, "Attachment storage is not enabled"))
		return
	}
	key := c.GetString("key")
	if !storage.OwnsKey(userID, key) {
		c.handleError(errors.NewNotFoundError("Attachment"))
		return
	}

	url, err := c.deps.Attachments.PresignedURL(c.Ctx.Request.Context(), userID, key, attachmentURLExpiry)
	if err != nil {
		c.handleError(errors.NewBusinessError(errors.ErrCodeServiceUnavailable, "Attachment storage is unavailable").WithCause(err))
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"url":        url,
		"expires_in": int(attachmentURLExpiry.Seconds()),
	})
}
