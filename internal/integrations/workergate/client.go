// Package workergate invokes the external worker gateway that produces
// assistant answers.
package workergate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workflow-chat/internal/domain"
)

// invokeRequest is the gateway's run-worker request shape.
type invokeRequest struct {
	WorkerID  string            `json:"workerId"`
	Variables map[string]string `json:"variables"`
}

// answerFields lists the response keys the gateway has been observed to put
// the answer under, in resolution order.
var answerFields = []string{"result", "responseText", "response", "message"}

// ErrMissingAnswer means the gateway replied 2xx but the body carried no
// string answer under any known field. Distinct from a transport failure.
var ErrMissingAnswer = errors.New("workergate: response has no answer field")

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("workergate: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int { return e.StatusCode }

// Client posts run requests to worker invocation endpoints.
type Client struct {
	httpClient *http.Client
	defaultURL string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDefaultURL overrides the endpoint used when a workflow carries none.
func WithDefaultURL(url string) Option {
	return func(c *Client) {
		c.defaultURL = strings.TrimSpace(url)
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		defaultURL: domain.DefaultWorkerURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs the worker and returns the normalized answer text. The bearer
// credential is sent as-is when it already carries the Bearer prefix.
func (c *Client) Invoke(ctx context.Context, endpoint, bearer, workerID string, variables map[string]string) (string, error) {
	if workerID == "" {
		return "", errors.New("workergate: worker id must not be empty")
	}
	if bearer == "" {
		return "", errors.New("workergate: bearer credential must not be empty")
	}
	if endpoint == "" {
		endpoint = c.defaultURL
	}

	body, err := json.Marshal(invokeRequest{WorkerID: workerID, Variables: variables})
	if err != nil {
		return "", fmt.Errorf("workergate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("workergate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !strings.HasPrefix(bearer, "Bearer ") {
		bearer = "Bearer " + bearer
	}
	req.Header.Set("Authorization", bearer)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("workergate: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("workergate: read response body: %w", err)
	}

	answer, err := normalizeAnswer(raw)
	if err != nil {
		return "", err
	}
	return answer, nil
}

// normalizeAnswer extracts the answer from whichever known field the gateway
// used. The first non-empty string wins.
func normalizeAnswer(raw []byte) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("workergate: decode response: %w", err)
	}
	for _, field := range answerFields {
		if s, ok := payload[field].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", ErrMissingAnswer
}
