package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"workflow-chat/internal/auth"
	"workflow-chat/internal/domain"
	"workflow-chat/internal/usecase"
)

type stubSessions struct {
	session *auth.Session
	err     error
}

func (s *stubSessions) GetSession(ctx context.Context) (*auth.Session, error) {
	return s.session, s.err
}

func (s *stubSessions) RefreshSession(ctx context.Context) (*auth.Session, error) {
	return nil, errors.New("refresh not expected")
}

func (s *stubSessions) SignOut(ctx context.Context) error { return nil }

type stubUseCase struct {
	lastSession *domain.ChatSession
	lastInput   usecase.SubmitInput
	output      usecase.SubmitOutput
	submitErr   error

	loadedID string
	loadErr  error
	loadFill func(cs *domain.ChatSession)
}

func (s *stubUseCase) Submit(ctx context.Context, cs *domain.ChatSession, in usecase.SubmitInput) (usecase.SubmitOutput, error) {
	s.lastSession = cs
	s.lastInput = in
	return s.output, s.submitErr
}

func (s *stubUseCase) LoadConversation(ctx context.Context, cs *domain.ChatSession, conversationID string) error {
	s.loadedID = conversationID
	if s.loadFill != nil {
		s.loadFill(cs)
	}
	return s.loadErr
}

type stubWorkflows struct {
	workflow domain.WorkflowConfig
	err      error
	lastID   string
}

func (s *stubWorkflows) GetWorkflow(ctx context.Context, id string) (domain.WorkflowConfig, error) {
	s.lastID = id
	return s.workflow, s.err
}

func newTestHandler(t *testing.T) (*Handler, *stubUseCase, *stubWorkflows) {
	t.Helper()
	uc := &stubUseCase{output: usecase.SubmitOutput{ConversationID: "conv-1", Answer: "<p>hi</p>"}}
	flows := &stubWorkflows{workflow: domain.WorkflowConfig{ID: "wf-1", Name: "report-bot", SupportsDocuments: true}}
	sessions := &stubSessions{session: &auth.Session{UserID: "u-1"}}
	h, err := NewHandler(uc, flows, sessions)
	require.NoError(t, err)
	return h, uc, flows
}

func submitEvent(t *testing.T, req submitRequest) events.APIGatewayProxyRequest {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return events.APIGatewayProxyRequest{Path: "/submit", Body: string(raw)}
}

func decodeBody[T any](t *testing.T, res events.APIGatewayProxyResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(res.Body), &out))
	return out
}

func TestHandle_SubmitHappyPath(t *testing.T) {
	h, uc, flows := newTestHandler(t)

	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{
		WorkflowID:     "wf-1",
		ConversationID: "conv-1",
		Text:           "summarize Q1",
		PreviousAnswer: "<p>earlier</p>",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody[submitResponse](t, res)
	require.Equal(t, "conv-1", body.ConversationID)
	require.Equal(t, "<p>hi</p>", body.Answer)

	require.Equal(t, "wf-1", flows.lastID)
	require.Equal(t, "u-1", uc.lastSession.UserID)
	require.Equal(t, "conv-1", uc.lastSession.ConversationID)
	require.Equal(t, "<p>earlier</p>", uc.lastSession.PreviousAnswer)
	require.Equal(t, "summarize Q1", uc.lastInput.Text)
	require.Nil(t, uc.lastInput.Attachment)
}

func TestHandle_SubmitDecodesAttachment(t *testing.T) {
	h, uc, _ := newTestHandler(t)

	content := []byte("pdf-bytes")
	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{
		WorkflowID: "wf-1",
		Text:       "read this",
		FileName:   "report.pdf",
		FileBase64: base64.StdEncoding.EncodeToString(content),
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	att := uc.lastInput.Attachment
	require.NotNil(t, att)
	require.Equal(t, "report.pdf", att.Name)
	require.Equal(t, int64(len(content)), att.Size)
	raw, readErr := io.ReadAll(att.Content)
	require.NoError(t, readErr)
	require.Equal(t, content, raw)
}

func TestHandle_SubmitRejectsBadJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Path: "/submit", Body: "{not json"})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	body := decodeBody[errorResponse](t, res)
	require.Equal(t, string(usecase.ErrorInvalidInput), body.Error)
}

func TestHandle_SubmitRejectsBadBase64(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{
		WorkflowID: "wf-1",
		Text:       "read this",
		FileName:   "report.pdf",
		FileBase64: "!!not-base64!!",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHandle_StatusMapping(t *testing.T) {
	cases := []struct {
		code   usecase.ErrorCode
		status int
	}{
		{usecase.ErrorInvalidInput, http.StatusBadRequest},
		{usecase.ErrorUnsupportedAttachment, http.StatusBadRequest},
		{usecase.ErrorSessionInvalid, http.StatusUnauthorized},
		{usecase.ErrorGateway, http.StatusBadGateway},
		{usecase.ErrorInvalidResponse, http.StatusBadGateway},
		{usecase.ErrorUpload, http.StatusInternalServerError},
		{usecase.ErrorPersistence, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			h, uc, _ := newTestHandler(t)
			uc.submitErr = &usecase.Error{Code: tc.code, Reason: "x"}

			res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{WorkflowID: "wf-1", Text: "hi"}))
			require.NoError(t, err)
			require.Equal(t, tc.status, res.StatusCode)

			body := decodeBody[errorResponse](t, res)
			require.Equal(t, string(tc.code), body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestHandle_InvalidSessionAtEntry(t *testing.T) {
	uc := &stubUseCase{}
	flows := &stubWorkflows{}
	sessions := &stubSessions{err: &auth.SessionInvalidError{Cause: errors.New("revoked")}}
	h, err := NewHandler(uc, flows, sessions)
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{WorkflowID: "wf-1", Text: "hi"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	body := decodeBody[errorResponse](t, res)
	require.Equal(t, string(usecase.ErrorSessionInvalid), body.Error)
}

func TestHandle_UnknownWorkflow(t *testing.T) {
	h, _, flows := newTestHandler(t)
	flows.err = errors.New("repository: GetWorkflow: workflow \"wf-404\" not found")

	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{WorkflowID: "wf-404", Text: "hi"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestHandle_History(t *testing.T) {
	h, uc, _ := newTestHandler(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	uc.loadFill = func(cs *domain.ChatSession) {
		cs.ConversationID = "conv-1"
		cs.Title = "Quarterly report"
		cs.Messages = []domain.DisplayMessage{
			{ID: "m-1", Sender: domain.RoleUser, Text: "hello", Timestamp: created},
			{ID: "m-2", Sender: domain.RoleAssistant, Text: "<p>hi</p>", Timestamp: created.Add(time.Second)},
		}
	}

	res, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		Path: "/history",
		Body: `{"conversationId":"conv-1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "conv-1", uc.loadedID)

	body := decodeBody[historyResponse](t, res)
	require.Equal(t, "Quarterly report", body.Title)
	require.Len(t, body.Messages, 2)
	require.Equal(t, "user", body.Messages[0].Sender)
	require.Equal(t, "2026-03-01T10:00:00Z", body.Messages[0].CreatedAt)
}

func TestHandle_HistoryRequiresConversationID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Path: "/history", Body: `{}`})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHandle_CorrelationIDPassthrough(t *testing.T) {
	h, _, _ := newTestHandler(t)

	ev := submitEvent(t, submitRequest{WorkflowID: "wf-1", Text: "hi"})
	ev.Headers = map[string]string{"x-correlation-id": "corr-42"}

	res, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "corr-42", res.Headers["X-Correlation-Id"])
}

func TestHandle_CorrelationIDGenerated(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := h.Handle(context.Background(), submitEvent(t, submitRequest{WorkflowID: "wf-1", Text: "hi"}))
	require.NoError(t, err)
	require.NotEmpty(t, res.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", res.Headers["Content-Type"])
}

func TestNewHandler_Validation(t *testing.T) {
	sessions := &stubSessions{}
	_, err := NewHandler(nil, &stubWorkflows{}, sessions)
	require.Error(t, err)
	_, err = NewHandler(&stubUseCase{}, nil, sessions)
	require.Error(t, err)
	_, err = NewHandler(&stubUseCase{}, &stubWorkflows{}, nil)
	require.Error(t, err)
}
