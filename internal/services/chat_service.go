package services

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/aihub/chat-backend/internal/llm"
	"github.com/aihub/chat-backend/internal/memory"
	"github.com/aihub/chat-backend/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultContextBudget = 4000
	defaultStallTimeout  = 30 * time.Second
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultIngestWindow  = 4
	afterTurnTimeout     = 30 * time.Second

	// AbortMarker 用户中断时追加到流末尾
	AbortMarker = "\n\n[Response stopped by user]"
)

var (
	errStreamStalled = stderrors.New("model stream stalled")
	errClientGone    = stderrors.New("client disconnected")
)

// TurnState 一轮对话的状态
type TurnState int

const (
	StateReceived TurnState = iota
	StateUserPersisted
	StateContextBuilt
	StateModelStreaming
	StateCompleted
	StateAborted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateUserPersisted:
		return "user_persisted"
	case StateContextBuilt:
		return "context_built"
	case StateModelStreaming:
		return "model_streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AttachmentInput 请求携带的附件
type AttachmentInput struct {
	Kind          models.AttachmentKind `json:"kind" validate:"required,oneof=document image"`
	Filename      string                `json:"filename" validate:"required,max=255"`
	MimeType      string                `json:"mime_type"`
	ExtractedText string                `json:"extracted_text"`
	Data          string                `json:"data"`
}

// ChatRequest 一轮对话请求
type ChatRequest struct {
	Messages       []llm.Message     `json:"messages" validate:"required,min=1,dive"`
	ConversationID uint              `json:"conversation_id"`
	DraftID        string            `json:"draft_id" validate:"max=64"`
	WindowTag      string            `json:"window_tag"`
	CurrentMessage *llm.Message      `json:"current_message"`
	Attachments    []AttachmentInput `json:"attachments" validate:"dive"`
	Model          string            `json:"model"`
}

// TurnMeta 在第一个分片之前交给调用方的元信息
type TurnMeta struct {
	ConversationID   uint
	DraftID          string
	NewConversation  bool
	MemoryUsed       bool
	MemorySnippets   int
	MemoryTexts      []string
	ContextTruncated bool
}

// StreamSink 接收流式输出
type StreamSink interface {
	Begin(meta TurnMeta) error
	Write(chunk string) error
}

// TurnOutcome 一轮对话的结果
type TurnOutcome struct {
	State      TurnState
	Text       string
	MessageID  uint
	Meta       TurnMeta
	Usage      models.Usage
	FirstChunk time.Duration
	Duration   time.Duration
}

// AttachmentStore 附件对象存储
type AttachmentStore interface {
	PutAttachment(ctx context.Context, userID uint, filename, mimeType string, data []byte) (string, error)
}

// ChatOptions 对话参数
type ChatOptions struct {
	Model         string
	SystemPrompt  string
	ContextBudget int
	StallTimeout  time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	Temperature   float32
	MaxTokens     int
	IngestWindow  int
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.ContextBudget <= 0 {
		o.ContextBudget = defaultContextBudget
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = defaultStallTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.IngestWindow <= 0 {
		o.IngestWindow = defaultIngestWindow
	}
	return o
}

// ChatService 驱动一轮对话：保存用户消息、构建上下文、调用模型、保存回复
type ChatService struct {
	conversations *ConversationService
	builder       *ContextBuilder
	model         llm.ChatModel
	drafts        *DraftRegistry
	ingest        memory.Queue
	recorder      *UsageRecorder
	metrics       *ChatMetrics
	attachments   AttachmentStore
	validate      *validator.Validate
	translator    *apperrors.ErrorTranslator
	logger        *zap.Logger
	opts          ChatOptions

	optsMu     sync.RWMutex
	background sync.WaitGroup
}

// ChatDeps 对话服务依赖，除conversations/builder/model外都可以为nil
type ChatDeps struct {
	Conversations *ConversationService
	Builder       *ContextBuilder
	Model         llm.ChatModel
	Drafts        *DraftRegistry
	Ingest        memory.Queue
	Recorder      *UsageRecorder
	Metrics       *ChatMetrics
	Attachments   AttachmentStore
	Logger        *zap.Logger
}

// NewChatService 创建对话服务
func NewChatService(deps ChatDeps, opts ChatOptions) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	drafts := deps.Drafts
	if drafts == nil {
		drafts = NewDraftRegistry(nil, logger)
	}
	return &ChatService{
		conversations: deps.Conversations,
		builder:       deps.Builder,
		model:         deps.Model,
		drafts:        drafts,
		ingest:        deps.Ingest,
		recorder:      deps.Recorder,
		metrics:       deps.Metrics,
		attachments:   deps.Attachments,
		validate:      validator.New(),
		translator:    apperrors.NewErrorTranslator(),
		logger:        logger,
		opts:          opts.withDefaults(),
	}
}

// UpdateOptions 配置热更新
func (s *ChatService) UpdateOptions(opts ChatOptions) {
	s.optsMu.Lock()
	defer s.optsMu.Unlock()
	s.opts = opts.withDefaults()
}

func (s *ChatService) options() ChatOptions {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.opts
}

// Wait 等待后台的用量记录与记忆写入投递完成
func (s *ChatService) Wait() {
	s.background.Wait()
}

// turn 一轮对话的运行状态
type turn struct {
	id        string
	userID    uint
	state     TurnState
	started   time.Time
	meta      TurnMeta
	conv      *models.Conversation
	inHistory bool // 本轮用户输入已在持久历史中
	logger    *zap.Logger
}

func (t *turn) transition(state TurnState) {
	t.logger.Debug("Turn state changed",
		zap.String("from", t.state.String()),
		zap.String("to", state.String()))
	t.state = state
}

// Chat 处理一轮对话
func (s *ChatService) Chat(ctx context.Context, userID uint, req ChatRequest, sink StreamSink) (*TurnOutcome, error) {
	return s.run(ctx, userID, req, sink, true)
}

// Regenerate 编辑（可选）某条消息并丢弃其后的全部消息，然后以剩余历史重新生成回复
func (s *ChatService) Regenerate(ctx context.Context, userID, convID, messageID uint, newContent *string, sink StreamSink) (*TurnOutcome, error) {
	msg, err := s.conversations.GetMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != convID {
		return nil, apperrors.NewNotFoundError(messageResource)
	}
	if msg.Role != models.RoleUser {
		return nil, apperrors.NewInvalidInputError("message_id", "only user messages can be regenerated")
	}

	if newContent != nil {
		if msg, err = s.conversations.EditMessage(ctx, userID, messageID, *newContent); err != nil {
			return nil, err
		}
	}

	pos, err := s.conversations.MessagePosition(ctx, msg)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversations.TruncateFrom(ctx, userID, convID, pos+1); err != nil {
		return nil, err
	}

	history, err := s.conversations.FetchRecentMessages(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	req := ChatRequest{ConversationID: convID, Messages: make([]llm.Message, 0, len(history))}
	for _, m := range history {
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	s.logger.Info("Regenerating reply",
		zap.Uint("conversation_id", convID),
		zap.Uint("message_id", messageID),
		zap.Int("position", pos),
		zap.Bool("edited", newContent != nil))
	return s.run(ctx, userID, req, sink, false)
}

func (s *ChatService) run(ctx context.Context, userID uint, req ChatRequest, sink StreamSink, persistUser bool) (*TurnOutcome, error) {
	opts := s.options()
	t := &turn{
		id:      uuid.NewString(),
		userID:  userID,
		state:   StateReceived,
		started: time.Now(),
		meta:    TurnMeta{ConversationID: req.ConversationID, DraftID: req.DraftID},
	}
	t.logger = s.logger.With(zap.String("turn_id", t.id), zap.Uint("user_id", userID))

	if userID == 0 {
		return nil, apperrors.NewUnauthorizedError("")
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if req.ConversationID != 0 {
		conv, err := s.conversations.GetConversation(ctx, userID, req.ConversationID)
		switch {
		case apperrors.IsNotFound(err):
			return nil, err
		case err != nil:
			t.logger.Warn("Failed to load conversation, continuing without history", zap.Error(err))
		default:
			t.conv = conv
		}
	}

	// Received -> UserPersisted
	if persistUser && req.CurrentMessage != nil && req.CurrentMessage.Role == models.RoleUser {
		s.persistUserMessage(ctx, t, req)
	} else {
		t.inHistory = !persistUser
	}
	t.transition(StateUserPersisted)

	// UserPersisted -> ContextBuilt
	messages := s.buildMessages(ctx, t, req, renderAttachments(req.Attachments), opts)
	t.transition(StateContextBuilt)

	if err := sink.Begin(t.meta); err != nil {
		return nil, err
	}

	// ContextBuilt -> ModelStreaming
	model := req.Model
	if model == "" {
		model = opts.Model
	}
	t.transition(StateModelStreaming)
	outcome, err := s.stream(ctx, t, llm.Request{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}, sink, opts)
	outcome.Meta = t.meta
	outcome.Duration = time.Since(t.started)
	if outcome.Usage.Model == "" {
		outcome.Usage.Model = model
	}

	switch outcome.State {
	case StateCompleted:
		s.complete(ctx, t, outcome)
	case StateAborted:
		_ = sink.Write(AbortMarker)
		t.logger.Info("Turn stopped by user", zap.Int("partial_length", len(outcome.Text)))
	case StateFailed:
		t.logger.Warn("Model call failed", zap.Error(err))
	}
	t.transition(outcome.State)

	s.afterTurn(t, outcome, opts)
	return outcome, err
}

func (s *ChatService) validateRequest(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return apperrors.NewValidationError("messages must be a non-empty list")
	}
	if err := s.validate.Struct(req); err != nil {
		return s.translator.Translate(err)
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return apperrors.NewInvalidInputError(fmt.Sprintf("messages[%d].role", i), "must be one of user, assistant, system")
		}
	}
	if req.CurrentMessage != nil && !req.CurrentMessage.Role.Valid() {
		return apperrors.NewInvalidInputError("current_message.role", "must be one of user, assistant, system")
	}
	return nil
}

// persistUserMessage 保存用户消息，失败只记录日志
func (s *ChatService) persistUserMessage(ctx context.Context, t *turn, req ChatRequest) {
	convID, err := s.ensureConversation(ctx, t, req)
	if err != nil {
		t.logger.Warn("Failed to resolve conversation, continuing without persistence", zap.Error(err))
		return
	}

	meta := &MessageMeta{Attachments: s.storeAttachments(ctx, t, req.Attachments)}
	_, conv, err := s.conversations.AppendMessage(ctx, t.userID, convID, models.RoleUser, req.CurrentMessage.Content, meta)
	if err != nil {
		t.logger.Warn("Failed to persist user message, continuing", zap.Uint("conversation_id", convID), zap.Error(err))
		return
	}
	t.conv = conv
	t.inHistory = true
}

// ensureConversation 解析或创建本轮所属的会话
func (s *ChatService) ensureConversation(ctx context.Context, t *turn, req ChatRequest) (uint, error) {
	if t.conv != nil {
		return t.conv.ID, nil
	}
	if req.ConversationID != 0 {
		return 0, fmt.Errorf("conversation %d could not be loaded", req.ConversationID)
	}

	create := func(ctx context.Context) (uint, error) {
		conv, err := s.conversations.CreateConversation(ctx, t.userID, "", s.options().SystemPrompt, req.Model)
		if err != nil {
			return 0, err
		}
		return conv.ID, nil
	}
	discard := func(ctx context.Context, id uint) error {
		return s.conversations.DeleteConversation(ctx, t.userID, id)
	}

	if req.DraftID == "" {
		id, err := create(ctx)
		if err != nil {
			return 0, err
		}
		t.conv, err = s.conversations.GetConversation(ctx, t.userID, id)
		if err != nil {
			return 0, err
		}
		t.meta.ConversationID = id
		t.meta.NewConversation = true
		return id, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.drafts.Obtain(ctx, t.userID, req.DraftID, create, discard)
		if err != nil {
			return 0, err
		}
		conv, err := s.conversations.GetConversation(ctx, t.userID, res.ConversationID)
		if apperrors.IsNotFound(err) && !res.Created {
			// 草稿指向的会话已被删除
			_ = s.drafts.Forget(ctx, t.userID, req.DraftID)
			continue
		}
		if err != nil {
			return 0, err
		}
		t.conv = conv
		t.meta.ConversationID = conv.ID
		t.meta.NewConversation = res.Created
		return conv.ID, nil
	}
	return 0, apperrors.NewNotFoundError(conversationResource)
}

// buildMessages 构建模型上下文，失败时退回客户端提交的原始消息
func (s *ChatService) buildMessages(ctx context.Context, t *turn, req ChatRequest, attachmentText string, opts ChatOptions) []llm.Message {
	raw := foldAttachments(req.Messages, attachmentText)
	if t.conv == nil || s.builder == nil {
		return raw
	}

	window, err := s.builder.Build(ctx, BuildRequest{
		UserID:              t.userID,
		ConversationID:      t.conv.ID,
		TokenBudget:         opts.ContextBudget,
		IncludeSystemPrompt: true,
		Query:               lastUserContent(req),
		PendingInput:        pendingInput(t, req),
	})
	if err != nil {
		t.logger.Warn("Context build failed, using client messages", zap.Error(err))
		return raw
	}

	if len(window.Turns) == 0 {
		return raw
	}
	if attachmentText != "" {
		window.InsertAfterSystemPrompt(ContextTurn{
			Kind:    TurnAttachment,
			Role:    models.RoleSystem,
			Content: attachmentText,
			Tokens:  EstimateTokens(attachmentText),
		})
	}

	t.meta.MemoryUsed = window.MemoryUsed
	t.meta.MemorySnippets = window.MemorySnippets
	t.meta.MemoryTexts = window.MemoryTexts
	t.meta.ContextTruncated = window.Truncated
	s.metrics.ObserveContext(window)

	t.logger.Debug("Context built",
		zap.Int("tokens", window.TotalTokens),
		zap.Int("selected", window.SelectedCount),
		zap.Bool("truncated", window.Truncated))
	return window.Messages()
}

// pendingInput 本轮用户输入没有写入历史时交给构建器，非user角色的current_message不作为输入
func pendingInput(t *turn, req ChatRequest) string {
	if t.inHistory {
		return ""
	}
	if req.CurrentMessage != nil {
		if req.CurrentMessage.Role == models.RoleUser {
			return req.CurrentMessage.Content
		}
		return ""
	}
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == models.RoleUser {
		return req.Messages[n-1].Content
	}
	return ""
}

func lastUserContent(req ChatRequest) string {
	if req.CurrentMessage != nil && req.CurrentMessage.Role == models.RoleUser {
		return req.CurrentMessage.Content
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// foldAttachments 附件内容作为一条system消息插在开头的系统消息之后
func foldAttachments(messages []llm.Message, text string) []llm.Message {
	if text == "" {
		return messages
	}

	idx := 0
	for idx < len(messages) && messages[idx].Role == models.RoleSystem {
		idx++
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, llm.Message{Role: models.RoleSystem, Content: text})
	out = append(out, messages[idx:]...)
	return out
}

func renderAttachments(attachments []AttachmentInput) string {
	var parts []string
	for _, a := range attachments {
		switch a.Kind {
		case models.AttachmentImage:
			parts = append(parts, fmt.Sprintf("[Image attached: %s]", a.Filename))
		case models.AttachmentDocument:
			body := strings.TrimSpace(a.ExtractedText)
			if body == "" {
				parts = append(parts, fmt.Sprintf("[Document attached: %s]", a.Filename))
				continue
			}
			parts = append(parts, fmt.Sprintf("[Document: %s]\n%s", a.Filename, body))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Attached files for this message:\n\n" + strings.Join(parts, "\n\n")
}

// storeAttachments 图片写入对象存储，返回写入消息的附件元数据
func (s *ChatService) storeAttachments(ctx context.Context, t *turn, attachments []AttachmentInput) models.Attachments {
	if len(attachments) == 0 {
		return nil
	}
	out := make(models.Attachments, 0, len(attachments))
	for _, a := range attachments {
		att := models.Attachment{
			Kind:          a.Kind,
			Filename:      a.Filename,
			MimeType:      a.MimeType,
			ExtractedText: a.ExtractedText,
		}
		if a.Kind == models.AttachmentImage && a.Data != "" && s.attachments != nil {
			data, err := decodePayload(a.Data)
			if err != nil {
				t.logger.Warn("Invalid attachment payload", zap.String("filename", a.Filename), zap.Error(err))
			} else if key, err := s.attachments.PutAttachment(ctx, t.userID, a.Filename, a.MimeType, data); err != nil {
				t.logger.Warn("Failed to store attachment", zap.String("filename", a.Filename), zap.Error(err))
			} else {
				att.ObjectKey = key
				att.Size = int64(len(data))
			}
		}
		out = append(out, att)
	}
	return out
}

// decodePayload 支持data URL与纯base64
func decodePayload(payload string) ([]byte, error) {
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(payload)
}

// stream 打开模型流并转发分片
//
// 首个分片之前的可重试错误按指数退避重试；分片之间超过StallTimeout视为结束，
// 已收到的内容作为完整回复。
func (s *ChatService) stream(ctx context.Context, t *turn, req llm.Request, sink StreamSink, opts ChatOptions) (*TurnOutcome, error) {
	outcome := &TurnOutcome{}
	var buffer strings.Builder
	requested := time.Now()

	for attempt := 0; ; attempt++ {
		streamCtx, cancel := context.WithCancelCause(ctx)
		stall := time.AfterFunc(opts.StallTimeout, func() { cancel(errStreamStalled) })

		st, err := s.model.Stream(streamCtx, req)
		if err == nil {
			err = s.consume(streamCtx, st, stall, sink, &buffer, outcome, requested, opts.StallTimeout)
			if stderrors.Is(err, io.EOF) {
				res := st.Result()
				outcome.Usage = res.Usage
				outcome.Usage.FinishReason = res.FinishReason
				outcome.Text = finalText(res.Text, buffer.String())
			}
			_ = st.Close()
		}
		stall.Stop()
		stalled := stderrors.Is(context.Cause(streamCtx), errStreamStalled)
		cancel(nil)

		switch {
		case stderrors.Is(err, io.EOF):
			outcome.State = StateCompleted
			return outcome, nil
		case ctx.Err() != nil || stderrors.Is(err, errClientGone):
			outcome.State = StateAborted
			outcome.Text = buffer.String()
			return outcome, nil
		case stalled && buffer.Len() > 0:
			t.logger.Warn("Model stream stalled, keeping partial reply", zap.Int("length", buffer.Len()))
			outcome.State = StateCompleted
			outcome.Text = buffer.String()
			outcome.Usage.FinishReason = "timeout"
			return outcome, nil
		}

		if stalled {
			err = fmt.Errorf("no output within %s: %w", opts.StallTimeout, context.DeadlineExceeded)
		}
		if buffer.Len() == 0 && attempt < opts.MaxRetries && (stalled || llm.IsRetryableError(llm.MarkRetryable(err))) {
			s.metrics.ObserveRetry()
			backoff := opts.RetryBackoff * time.Duration(1<<attempt)
			t.logger.Info("Retrying model call",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				outcome.State = StateAborted
				return outcome, nil
			}
		}

		outcome.State = StateFailed
		outcome.Text = buffer.String()
		return outcome, llm.ToAppError(err)
	}
}

func (s *ChatService) consume(ctx context.Context, st llm.Stream, stall *time.Timer, sink StreamSink, buffer *strings.Builder, outcome *TurnOutcome, requested time.Time, stallTimeout time.Duration) error {
	for {
		chunk, err := st.Recv()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stall.Reset(stallTimeout)
		if chunk == "" {
			continue
		}
		if buffer.Len() == 0 {
			outcome.FirstChunk = time.Since(requested)
		}
		buffer.WriteString(chunk)
		if err := sink.Write(chunk); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
	}
}

func finalText(reported, buffered string) string {
	if strings.TrimSpace(reported) == "" {
		return buffered
	}
	return reported
}

// complete 保存助手回复，空回复不写入
func (s *ChatService) complete(ctx context.Context, t *turn, outcome *TurnOutcome) {
	if strings.TrimSpace(outcome.Text) == "" {
		t.logger.Info("Empty completion, nothing persisted")
		return
	}
	if t.conv == nil {
		return
	}

	usage := outcome.Usage
	msg, conv, err := s.conversations.AppendMessage(context.WithoutCancel(ctx), t.userID, t.conv.ID, models.RoleAssistant, outcome.Text, &MessageMeta{
		Usage:  &usage,
		Status: models.MessageStatusDone,
	})
	if err != nil {
		t.logger.Error("Failed to persist assistant message", zap.Uint("conversation_id", t.conv.ID), zap.Error(err))
		return
	}
	outcome.MessageID = msg.ID
	t.conv = conv
}

// afterTurn 后台记录用量并投递记忆写入，不阻塞响应
func (s *ChatService) afterTurn(t *turn, outcome *TurnOutcome, opts ChatOptions) {
	var convID uint
	if t.conv != nil {
		convID = t.conv.ID
	}
	report := TurnReport{
		UserID:         t.userID,
		ConversationID: convID,
		MessageID:      outcome.MessageID,
		Model:          outcome.Usage.Model,
		State:          outcome.State,
		Usage:          outcome.Usage,
		FirstChunk:     outcome.FirstChunk,
		Duration:       outcome.Duration,
	}
	ingest := outcome.MessageID != 0 && t.conv != nil && t.conv.MessageCount >= 2 && s.ingest != nil
	conv := t.conv

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), afterTurnTimeout)
		defer cancel()

		if s.recorder != nil {
			s.recorder.Record(ctx, report)
		} else {
			s.metrics.ObserveTurn(report.State, report.Duration, report.FirstChunk, report.Usage)
		}
		if ingest {
			s.enqueueIngest(ctx, t, conv, opts.IngestWindow)
		}
	}()
}

func (s *ChatService) enqueueIngest(ctx context.Context, t *turn, conv *models.Conversation, window int) {
	recent, err := s.conversations.NewMessageCursor(t.userID, conv.ID, window).Next(ctx)
	if err != nil {
		t.logger.Warn("Failed to load recent messages for memory", zap.Error(err))
		return
	}
	turns := make([]memory.Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		turns = append(turns, memory.Turn{Role: recent[i].Role, Content: recent[i].Content})
	}

	err = s.ingest.Enqueue(ctx, memory.IngestJob{
		UserID:             t.userID,
		ConversationID:     conv.ID,
		Turns:              turns,
		CustomInstructions: conv.SystemPrompt,
	})
	if err != nil {
		t.logger.Warn("Failed to enqueue memory ingest", zap.Uint("conversation_id", conv.ID), zap.Error(err))
	}
}
