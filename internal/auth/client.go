package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// sessionPayload is the minimal response shape of the auth API's session and
// refresh endpoints.
type sessionPayload struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HTTPStatusError captures non-2xx auth API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("auth: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int { return e.StatusCode }

// Client talks to the remote auth API. It caches the current session and
// notifies subscribers when it changes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu           sync.Mutex
	session      *Session
	refreshToken string
	onChange     []func(*Session)
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates an auth API client seeded with a refresh token.
func NewClient(baseURL, apiKey, refreshToken string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("auth: base URL must not be empty")
	}
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnChange registers a subscriber invoked whenever the session is replaced or
// cleared. The callback receives nil on sign-out.
func (c *Client) OnChange(fn func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Client) notify(sess *Session) {
	for _, fn := range c.onChange {
		fn(sess)
	}
}

// GetSession returns the cached session, fetching one from the auth API on
// first use. An expiry-marker error from the API maps to SessionExpiredError.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	payload, err := c.doSession(ctx, http.MethodGet, "/auth/v1/session", nil)
	if err != nil {
		return nil, err
	}
	c.session = payloadToSession(payload)
	c.refreshToken = payload.RefreshToken
	c.notify(c.session)
	return c.session, nil
}

// RefreshSession exchanges the refresh token for a new session. The refreshed
// session immediately replaces the cached one.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(refreshRequest{RefreshToken: c.refreshToken})
	if err != nil {
		return nil, fmt.Errorf("auth: marshal refresh request: %w", err)
	}
	payload, err := c.doSession(ctx, http.MethodPost, "/auth/v1/refresh", body)
	if err != nil {
		return nil, err
	}
	c.session = payloadToSession(payload)
	c.refreshToken = payload.RefreshToken
	c.notify(c.session)
	return c.session, nil
}

// SignOut clears the cached session and revokes it remotely. Subscribers are
// notified even if the remote revoke fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.refreshToken = ""
	c.notify(nil)
	c.mu.Unlock()

	_, err := c.doRequest(ctx, http.MethodPost, "/auth/v1/signout", nil)
	return err
}

func (c *Client) doSession(ctx context.Context, method, path string, body []byte) (*sessionPayload, error) {
	raw, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	var payload sessionPayload
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("auth: decode session response: %w", decErr)
	}
	if payload.AccessToken == "" {
		return nil, errors.New("auth: session response has no access token")
	}
	return &payload, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("auth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
		if strings.Contains(statusErr.Body, expiryMarker) {
			return nil, &SessionExpiredError{Cause: statusErr}
		}
		return nil, statusErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read response body: %w", err)
	}
	return buf, nil
}

func payloadToSession(p *sessionPayload) *Session {
	return &Session{
		UserID:       p.UserID,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.Unix(p.ExpiresAt, 0).UTC(),
	}
}
