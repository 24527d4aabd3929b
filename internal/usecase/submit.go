// Package usecase drives the message submission pipeline: validate, upload,
// ensure conversation, persist, invoke worker, render, persist, log.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"workflow-chat/internal/auth"
	"workflow-chat/internal/domain"
	"workflow-chat/internal/integrations/workergate"
)

// ConversationStore is the relational-store boundary the pipeline writes to.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	InsertMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	AppendWorkflowLog(ctx context.Context, entry domain.WorkflowLogEntry) error
}

// Uploader is the object-store boundary.
type Uploader interface {
	Bucket(cat domain.AttachmentCategory) string
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, onProgress func(float64)) error
	PublicURL(bucket, key string) string
}

// WorkerInvoker is the external worker gateway boundary.
type WorkerInvoker interface {
	Invoke(ctx context.Context, endpoint, bearer, workerID string, variables map[string]string) (string, error)
}

// CredentialResolver turns a workflow credential reference into a bearer token.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, ref string) (string, error)
}

// Notifier surfaces transient user-facing outcomes of a submission.
type Notifier interface {
	// Notify shows a transient notification.
	Notify(message string)
	// SignedOut navigates the user to the unauthenticated entry point.
	SignedOut()
}

// NopNotifier discards notifications. Used by headless callers.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}
func (NopNotifier) SignedOut()    {}

// Overridable for tests, same as message ids elsewhere.
var (
	newID   = uuid.NewString
	nowFunc = time.Now
)

// SubmitService orchestrates one conversation turn end to end. Every remote
// call goes through the session-aware wrapper, so a single expired-session
// failure is recovered transparently and everything else surfaces once, at
// the top.
type SubmitService struct {
	sessions auth.Provider
	store    ConversationStore
	uploads  Uploader
	workers  WorkerInvoker
	creds    CredentialResolver
	render   func(string) string
	notifier Notifier
	logger   *slog.Logger
}

// SubmitInput is one composed submission: the typed text and an optional
// attachment with its progress callback.
type SubmitInput struct {
	Text             string
	Attachment       *domain.Attachment
	OnUploadProgress func(float64)
}

// SubmitOutput reports the completed turn.
type SubmitOutput struct {
	ConversationID string
	Answer         string
}

// NewSubmitService creates the orchestrator.
func NewSubmitService(
	sessions auth.Provider,
	store ConversationStore,
	uploads Uploader,
	workers WorkerInvoker,
	creds CredentialResolver,
	render func(string) string,
	notifier Notifier,
	logger *slog.Logger,
) (*SubmitService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session provider must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if uploads == nil {
		return nil, errors.New("usecase: uploader must not be nil")
	}
	if workers == nil {
		return nil, errors.New("usecase: worker invoker must not be nil")
	}
	if creds == nil {
		return nil, errors.New("usecase: credential resolver must not be nil")
	}
	if render == nil {
		return nil, errors.New("usecase: renderer must not be nil")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitService{
		sessions: sessions,
		store:    store,
		uploads:  uploads,
		workers:  workers,
		creds:    creds,
		render:   render,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Submit runs one turn. The entry guard rejects unsendable input with no side
// effects at all; past it, every failure surfaces as an error bubble plus a
// persisted error log, and steps that already succeeded are never rolled back.
func (s *SubmitService) Submit(ctx context.Context, cs *domain.ChatSession, in SubmitInput) (SubmitOutput, error) {
	// Entry guard: no state transition, no side effect.
	if cs.Workflow == nil {
		return SubmitOutput{}, newError(ErrorInvalidInput, "no_workflow_selected", nil)
	}
	if cs.UserID == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "not_signed_in", nil)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Attachment == nil {
		return SubmitOutput{}, newError(ErrorInvalidInput, "empty_submission", nil)
	}
	if cs.Processing {
		return SubmitOutput{}, newError(ErrorInvalidInput, "submission_in_flight", nil)
	}

	cs.Processing = true
	followUp := cs.PreviousAnswer != ""
	// Guaranteed cleanup, success or failure.
	defer func() {
		cs.Processing = false
		cs.Attachment = nil
		cs.UploadProgress = 0
	}()

	t := &turn{text: text, followUp: followUp}
	out, err := s.run(ctx, cs, in, t)
	if err != nil {
		return SubmitOutput{}, s.report(ctx, cs, err, t)
	}
	return out, nil
}

// turn carries the per-submission values the error path needs for context.
type turn struct {
	text        string
	followUp    bool
	documentURL string
}

// run executes the pipeline steps in order. It returns on the first failing
// step; completed remote effects stay in place.
func (s *SubmitService) run(ctx context.Context, cs *domain.ChatSession, in SubmitInput, t *turn) (SubmitOutput, error) {
	wf := cs.Workflow
	text, followUp := t.text, t.followUp

	// Validating: classify the attachment before any network call.
	var category domain.AttachmentCategory
	if in.Attachment != nil {
		category = in.Attachment.Category()
		if !wf.Allows(category) {
			return SubmitOutput{}, newError(ErrorUnsupportedAttachment, fmt.Sprintf("%s_not_supported", category), nil)
		}
	}

	// Uploading.
	var documentURL string
	if in.Attachment != nil {
		url, err := s.uploadAttachment(ctx, cs, in, category)
		if err != nil {
			return SubmitOutput{}, err
		}
		documentURL = url
		t.documentURL = url
	}

	// EnsuringConversation: lazy create, idempotent skip when one is active.
	if cs.ConversationID == "" {
		conv := domain.Conversation{
			ID:         newID(),
			Title:      in.Text,
			WorkflowID: wf.ID,
			CreatedBy:  cs.UserID,
			CreatedAt:  nowFunc().UTC(),
		}
		err := auth.Run(ctx, s.sessions, func(ctx context.Context) error {
			return s.store.CreateConversation(ctx, conv)
		})
		if err != nil {
			return SubmitOutput{}, wrapRemote(ErrorPersistence, "conversation_create_error", err)
		}
		cs.ConversationID = conv.ID
		cs.Title = conv.Title
	}

	// PersistingUserMessage.
	userMsg := domain.Message{
		ID:             newID(),
		ConversationID: cs.ConversationID,
		Sender:         domain.RoleUser,
		Text:           text,
		DocumentURL:    documentURL,
		CreatedAt:      nowFunc().UTC(),
	}
	err := auth.Run(ctx, s.sessions, func(ctx context.Context) error {
		return s.store.InsertMessage(ctx, userMsg)
	})
	if err != nil {
		return SubmitOutput{}, wrapRemote(ErrorPersistence, "user_message_write_error", err)
	}

	// Optimistic local bubble; compose and attachment slot clear now.
	cs.Append(domain.DisplayMessage{
		ID:          newID(),
		Sender:      domain.RoleUser,
		Text:        text,
		DocumentURL: documentURL,
		Timestamp:   nowFunc(),
		IsFollowUp:  followUp,
	})
	cs.Attachment = nil

	// InvokingWorker: follow-up context is re-sent each turn, there is no
	// server-side conversation memory.
	bearer, err := s.creds.ResolveCredential(ctx, wf.CredentialRef)
	if err != nil {
		return SubmitOutput{}, newError(ErrorGateway, "credential_resolve_error", err)
	}
	variables := map[string]string{
		"request":      text,
		"workflowId":   wf.ID,
		"workflowName": wf.Name,
		"documentUrl":  documentURL,
	}
	if followUp {
		variables["previousAnswer"] = cs.PreviousAnswer
	}
	answer, err := auth.Call(ctx, s.sessions, func(ctx context.Context) (string, error) {
		return s.workers.Invoke(ctx, wf.EndpointURL(), bearer, wf.WorkerID, variables)
	})
	if err != nil {
		return SubmitOutput{}, classifyWorkerError(err)
	}

	// Rendering.
	formatted := s.render(answer)

	// PersistingAssistantMessage: the rendered markup is what gets stored and
	// redisplayed.
	assistantMsg := domain.Message{
		ID:             newID(),
		ConversationID: cs.ConversationID,
		Sender:         domain.RoleAssistant,
		Text:           formatted,
		CreatedAt:      nowFunc().UTC(),
	}
	err = auth.Run(ctx, s.sessions, func(ctx context.Context) error {
		return s.store.InsertMessage(ctx, assistantMsg)
	})
	if err != nil {
		return SubmitOutput{}, wrapRemote(ErrorPersistence, "assistant_message_write_error", err)
	}

	cs.Append(domain.DisplayMessage{
		ID:        newID(),
		Sender:    domain.RoleAssistant,
		Text:      formatted,
		Timestamp: nowFunc(),
	})
	cs.PreviousAnswer = formatted

	s.logEvent(ctx, wf.ID, domain.LevelInfo, "Message exchange completed successfully", map[string]any{
		"conversationId": cs.ConversationID,
		"requestLength":  len(text),
		"responseLength": len(formatted),
		"hadDocument":    documentURL != "",
		"isFollowUp":     followUp,
	})

	return SubmitOutput{ConversationID: cs.ConversationID, Answer: formatted}, nil
}

// uploadAttachment streams the file to the category bucket under a
// collision-resistant path scoped to the user and resolves its public URL.
func (s *SubmitService) uploadAttachment(ctx context.Context, cs *domain.ChatSession, in SubmitInput, category domain.AttachmentCategory) (string, error) {
	att := in.Attachment
	bucket := s.uploads.Bucket(category)
	key := fmt.Sprintf("%s/%s.%s", cs.UserID, newID(), att.Ext())

	s.logEvent(ctx, cs.Workflow.ID, domain.LevelInfo, "Starting file upload", map[string]any{
		"fileType": string(category),
		"fileName": att.Name,
		"fileSize": att.Size,
		"bucket":   bucket,
	})

	onProgress := func(pct float64) {
		cs.UploadProgress = pct
		if in.OnUploadProgress != nil {
			in.OnUploadProgress(pct)
		}
	}

	start := nowFunc()
	err := auth.Run(ctx, s.sessions, func(ctx context.Context) error {
		return s.uploads.Upload(ctx, bucket, key, att.Content, att.Size, onProgress)
	})
	if err != nil {
		return "", wrapRemote(ErrorUpload, "upload_failed", err)
	}

	url := s.uploads.PublicURL(bucket, key)
	if url == "" {
		return "", newError(ErrorUpload, "missing_public_url", nil)
	}

	s.logEvent(ctx, cs.Workflow.ID, domain.LevelInfo, "File uploaded successfully", map[string]any{
		"filePath":    key,
		"duration":    nowFunc().Sub(start).Milliseconds(),
		"documentUrl": url,
		"fileType":    string(category),
	})
	return url, nil
}

// LoadConversation replaces the session transcript with the stored messages
// of a conversation, in creation-time ascending order, and adopts its title.
func (s *SubmitService) LoadConversation(ctx context.Context, cs *domain.ChatSession, conversationID string) error {
	msgs, err := auth.Call(ctx, s.sessions, func(ctx context.Context) ([]domain.Message, error) {
		return s.store.ListMessages(ctx, conversationID)
	})
	if err != nil {
		return s.mapSessionInvalid(err, "message_load_error")
	}
	conv, err := auth.Call(ctx, s.sessions, func(ctx context.Context) (domain.Conversation, error) {
		return s.store.GetConversation(ctx, conversationID)
	})
	if err != nil {
		return s.mapSessionInvalid(err, "conversation_load_error")
	}

	display := make([]domain.DisplayMessage, 0, len(msgs))
	for _, m := range msgs {
		display = append(display, domain.DisplayMessage{
			ID:          m.ID,
			Sender:      m.Sender,
			Text:        m.Text,
			DocumentURL: m.DocumentURL,
			Timestamp:   m.CreatedAt,
		})
	}
	cs.ConversationID = conversationID
	cs.Title = conv.Title
	cs.Messages = display
	return nil
}

// report converts a pipeline failure into the visible outcome: a synthetic
// assistant bubble, one error-level workflow log entry with full context, and
// a transient notification. An invalid session is a hard stop instead.
func (s *SubmitService) report(ctx context.Context, cs *domain.ChatSession, ferr error, t *turn) error {
	var invalid *auth.SessionInvalidError
	if errors.As(ferr, &invalid) {
		s.notifier.SignedOut()
		return newError(ErrorSessionInvalid, "session_refresh_failed", ferr)
	}

	uerr := asUsecaseError(ferr)

	// Validation failures never reach the remote boundary: no bubble, no
	// persisted log, just the transient notice.
	if uerr.Code == ErrorInvalidInput || uerr.Code == ErrorUnsupportedAttachment {
		s.notifier.Notify(uerr.UserMessage())
		return uerr
	}

	cs.Append(domain.DisplayMessage{
		ID:        newID(),
		Sender:    domain.RoleAssistant,
		Text:      uerr.UserMessage(),
		Timestamp: nowFunc(),
	})

	s.logEvent(ctx, cs.Workflow.ID, domain.LevelError, "Error processing message", map[string]any{
		"error":  ferr.Error(),
		"reason": uerr.Reason,
		"context": map[string]any{
			"message":        t.text,
			"documentUrl":    t.documentURL,
			"previousAnswer": cs.PreviousAnswer,
			"isFollowUp":     t.followUp,
		},
	})
	s.notifier.Notify("Failed to process message")
	return uerr
}

// logEvent writes a workflow log entry through the session wrapper. Log
// writes are best effort; a failing log never fails the submission.
func (s *SubmitService) logEvent(ctx context.Context, workflowID string, level domain.LogLevel, message string, details map[string]any) {
	entry := domain.WorkflowLogEntry{
		WorkflowID: workflowID,
		Level:      level,
		Message:    message,
		Details:    details,
		CreatedAt:  nowFunc().UTC(),
	}
	err := auth.Run(ctx, s.sessions, func(ctx context.Context) error {
		return s.store.AppendWorkflowLog(ctx, entry)
	})
	if err != nil {
		s.logger.Warn("failed to write workflow log", "workflow_id", workflowID, "err", err)
	}
}

func (s *SubmitService) mapSessionInvalid(err error, reason string) error {
	var invalid *auth.SessionInvalidError
	if errors.As(err, &invalid) {
		s.notifier.SignedOut()
		return newError(ErrorSessionInvalid, "session_refresh_failed", err)
	}
	return newError(ErrorPersistence, reason, err)
}

// classifyWorkerError separates a malformed worker reply from a gateway or
// transport failure.
func classifyWorkerError(err error) error {
	if errors.Is(err, workergate.ErrMissingAnswer) {
		return newError(ErrorInvalidResponse, "missing_answer_field", err)
	}
	var statusErr *workergate.HTTPStatusError
	if errors.As(err, &statusErr) {
		return newError(ErrorGateway, fmt.Sprintf("worker_status_%d", statusErr.StatusCode), err)
	}
	return wrapRemote(ErrorGateway, "worker_request_error", err)
}

// wrapRemote keeps an already-classified usecase or session error intact and
// wraps anything else under the given code.
func wrapRemote(code ErrorCode, reason string, err error) error {
	var invalid *auth.SessionInvalidError
	if errors.As(err, &invalid) {
		return err
	}
	var uerr *Error
	if errors.As(err, &uerr) {
		return err
	}
	return newError(code, reason, err)
}

func asUsecaseError(err error) *Error {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr
	}
	return newError(ErrorPersistence, "unexpected_error", err)
}
