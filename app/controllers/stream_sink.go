package controllers

import (
	"net/http"
	"strconv"

	"github.com/aihub/chat-backend/internal/services"
)

// 元信息响应头
const (
	HeaderConversationID   = "X-Conversation-Id"
	HeaderDraftID          = "X-Draft-Id"
	HeaderNewConversation  = "X-New-Conversation"
	HeaderMemoryUsed       = "X-Memory-Used"
	HeaderMemoryCount      = "X-Memory-Count"
	HeaderContextTruncated = "X-Context-Truncated"
)

// httpSink 把模型输出逐块写入HTTP响应。状态码在第一块输出时才提交，
// 在此之前失败仍可返回JSON错误
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	begun   bool
	started bool
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	flusher, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: flusher}
}

func (s *httpSink) Begin(meta services.TurnMeta) error {
	h := s.w.Header()
	if meta.ConversationID != 0 {
		h.Set(HeaderConversationID, strconv.FormatUint(uint64(meta.ConversationID), 10))
	}
	if meta.DraftID != "" {
		h.Set(HeaderDraftID, meta.DraftID)
	}
	h.Set(HeaderNewConversation, strconv.FormatBool(meta.NewConversation))
	h.Set(HeaderMemoryUsed, strconv.FormatBool(meta.MemoryUsed))
	h.Set(HeaderMemoryCount, strconv.Itoa(meta.MemorySnippets))
	h.Set(HeaderContextTruncated, strconv.FormatBool(meta.ContextTruncated))
	s.begun = true
	return nil
}

func (s *httpSink) Write(chunk string) error {
	s.start()
	if _, err := s.w.Write([]byte(chunk)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// start 提交状态码和流式响应头
func (s *httpSink) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// finish 没有任何输出的完成轮次也要返回200
func (s *httpSink) finish() {
	s.start()
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
