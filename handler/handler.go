// Package handler adapts API Gateway events to the submission pipeline.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"workflow-chat/internal/auth"
	"workflow-chat/internal/domain"
	"workflow-chat/internal/usecase"
)

type submitUseCase interface {
	Submit(ctx context.Context, cs *domain.ChatSession, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	LoadConversation(ctx context.Context, cs *domain.ChatSession, conversationID string) error
}

type workflowGetter interface {
	GetWorkflow(ctx context.Context, id string) (domain.WorkflowConfig, error)
}

// submitRequest is one composed submission. The Lambda surface is stateless,
// so the previous answer is re-sent by the client each turn.
type submitRequest struct {
	WorkflowID     string `json:"workflowId"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	PreviousAnswer string `json:"previousAnswer"`
	FileName       string `json:"fileName"`
	FileBase64     string `json:"fileBase64"`
}

type submitResponse struct {
	ConversationID string `json:"conversationId"`
	Answer         string `json:"answer"`
}

type historyRequest struct {
	ConversationID string `json:"conversationId"`
}

type historyMessage struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	DocumentURL string `json:"documentUrl,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type historyResponse struct {
	ConversationID string           `json:"conversationId"`
	Title          string           `json:"title"`
	Messages       []historyMessage `json:"messages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler routes chat API events.
type Handler struct {
	uc        submitUseCase
	workflows workflowGetter
	sessions  auth.Provider
}

// NewHandler creates a Handler.
func NewHandler(uc submitUseCase, workflows workflowGetter, sessions auth.Provider) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if workflows == nil {
		return nil, errors.New("handler: workflow getter must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session provider must not be nil")
	}
	return &Handler{uc: uc, workflows: workflows, sessions: sessions}, nil
}

// Handle dispatches on request path: /submit runs a turn, /history returns a
// conversation transcript.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	sess, err := auth.Call(ctx, h.sessions, func(ctx context.Context) (*auth.Session, error) {
		return h.sessions.GetSession(ctx)
	})
	if err != nil {
		return respondError(corrID, err), nil
	}

	switch event.Path {
	case "/history":
		return h.handleHistory(ctx, corrID, sess.UserID, event.Body), nil
	default:
		return h.handleSubmit(ctx, corrID, sess.UserID, event.Body), nil
	}
}

func (h *Handler) handleSubmit(ctx context.Context, corrID, userID, body string) events.APIGatewayProxyResponse {
	var req submitRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respond(corrID, http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "request body is not valid JSON",
		})
	}

	wf, err := auth.Call(ctx, h.sessions, func(ctx context.Context) (domain.WorkflowConfig, error) {
		return h.workflows.GetWorkflow(ctx, req.WorkflowID)
	})
	if err != nil {
		return respondError(corrID, err)
	}

	cs := domain.NewChatSession(userID)
	cs.Workflow = &wf
	cs.ConversationID = req.ConversationID
	cs.PreviousAnswer = req.PreviousAnswer

	in := usecase.SubmitInput{Text: req.Text}
	if req.FileName != "" {
		raw, decErr := base64.StdEncoding.DecodeString(req.FileBase64)
		if decErr != nil {
			return respond(corrID, http.StatusBadRequest, errorResponse{
				Error:   string(usecase.ErrorInvalidInput),
				Message: "file content is not valid base64",
			})
		}
		in.Attachment = &domain.Attachment{
			Name:    req.FileName,
			Size:    int64(len(raw)),
			Content: bytes.NewReader(raw),
		}
	}

	out, err := h.uc.Submit(ctx, cs, in)
	if err != nil {
		return respondError(corrID, err)
	}
	return respond(corrID, http.StatusOK, submitResponse{
		ConversationID: out.ConversationID,
		Answer:         out.Answer,
	})
}

func (h *Handler) handleHistory(ctx context.Context, corrID, userID, body string) events.APIGatewayProxyResponse {
	var req historyRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.ConversationID == "" {
		return respond(corrID, http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "conversationId is required",
		})
	}

	cs := domain.NewChatSession(userID)
	if err := h.uc.LoadConversation(ctx, cs, req.ConversationID); err != nil {
		return respondError(corrID, err)
	}

	msgs := make([]historyMessage, 0, len(cs.Messages))
	for _, m := range cs.Messages {
		msgs = append(msgs, historyMessage{
			ID:          m.ID,
			Sender:      string(m.Sender),
			Text:        m.Text,
			DocumentURL: m.DocumentURL,
			CreatedAt:   m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return respond(corrID, http.StatusOK, historyResponse{
		ConversationID: cs.ConversationID,
		Title:          cs.Title,
		Messages:       msgs,
	})
}

func respondError(corrID string, err error) events.APIGatewayProxyResponse {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		var invalid *auth.SessionInvalidError
		if errors.As(err, &invalid) {
			return respond(corrID, http.StatusUnauthorized, errorResponse{
				Error:   string(usecase.ErrorSessionInvalid),
				Message: "session is no longer valid",
			})
		}
		return respond(corrID, http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorPersistence),
			Message: "unexpected error",
		})
	}
	return respond(corrID, statusFor(uerr.Code), errorResponse{
		Error:   string(uerr.Code),
		Message: uerr.UserMessage(),
	})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnsupportedAttachment:
		return http.StatusBadRequest
	case usecase.ErrorSessionInvalid:
		return http.StatusUnauthorized
	case usecase.ErrorGateway, usecase.ErrorInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"PERSISTENCE_ERROR","message":"encode response"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "X-Correlation-Id" && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
