package models

import (
	"time"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// MessageStatus 消息状态
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusDone      MessageStatus = "done"
	MessageStatusError     MessageStatus = "error"
)

// AttachmentKind 附件类型
type AttachmentKind string

const (
	AttachmentDocument AttachmentKind = "document"
	AttachmentImage    AttachmentKind = "image"
)

// Attachment 附件元数据
type Attachment struct {
	Kind          AttachmentKind `json:"kind"`
	Filename      string         `json:"filename"`
	MimeType      string         `json:"mime_type,omitempty"`
	ObjectKey     string         `json:"object_key,omitempty"`
	ExtractedText string         `json:"extracted_text,omitempty"`
	Size          int64          `json:"size,omitempty"`
}

// Usage 模型用量
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
	Model            string `json:"model,omitempty"`
}

// Conversation 会话表
type Conversation struct {
	ID            uint       `gorm:"primaryKey;column:id" json:"id"`
	UserID        uint       `gorm:"column:user_id;not null;index" json:"user_id"`
	Title         string     `gorm:"size:255" json:"title"`
	SystemPrompt  string     `gorm:"type:text;column:system_prompt" json:"system_prompt,omitempty"`
	Model         string     `gorm:"size:100" json:"model"`
	MessageCount  int        `gorm:"column:message_count;not null;default:0" json:"message_count"`
	TokenCount    int        `gorm:"column:token_count;not null;default:0" json:"token_count"`
	LastMessageAt *time.Time `gorm:"column:last_message_at;index" json:"last_message_at"`
	IsArchived    bool       `gorm:"column:is_archived;default:false" json:"is_archived"`
	IsPinned      bool       `gorm:"column:is_pinned;default:false" json:"is_pinned"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 消息表
type Message struct {
	ID             uint          `gorm:"primaryKey;column:id" json:"id"`
	ConversationID uint          `gorm:"column:conversation_id;not null;index" json:"conversation_id"`
	UserID         uint          `gorm:"column:user_id;not null;index" json:"user_id"`
	Role           Role          `gorm:"size:20;not null" json:"role"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	TokenCount     int           `gorm:"column:token_count;not null;default:0" json:"token_count"`
	Status         MessageStatus `gorm:"size:20;not null;default:'done'" json:"status"`
	ParentID       *uint         `gorm:"column:parent_id" json:"parent_id,omitempty"`
	Attachments    Attachments   `gorm:"type:jsonb" json:"attachments,omitempty"`
	Usage          *Usage        `gorm:"type:jsonb;column:usage" json:"usage,omitempty"`
	IsEdited       bool          `gorm:"column:is_edited;default:false" json:"is_edited"`
	EditedAt       *time.Time    `gorm:"column:edited_at" json:"edited_at,omitempty"`
	CreatedAt      time.Time     `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// UsageLog 用量日志表
type UsageLog struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	UserID           uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	ConversationID   uint      `gorm:"column:conversation_id;index" json:"conversation_id"`
	MessageID        uint      `gorm:"column:message_id" json:"message_id"`
	Model            string    `gorm:"size:100" json:"model"`
	PromptTokens     int       `gorm:"column:prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"column:completion_tokens" json:"completion_tokens"`
	TotalTokens      int       `gorm:"column:total_tokens" json:"total_tokens"`
	FinishReason     string    `gorm:"column:finish_reason;size:50" json:"finish_reason"`
	State            string    `gorm:"size:20" json:"state"`
	FirstChunkMs     int64     `gorm:"column:first_chunk_ms" json:"first_chunk_ms"`
	DurationMs       int64     `gorm:"column:duration_ms" json:"duration_ms"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (UsageLog) TableName() string {
	return "usage_logs"
}
