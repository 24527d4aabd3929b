// Package auth wraps the remote session provider and makes every remote call
// resilient to exactly one class of transient failure: an expired session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// expiryMarker is the message-level marker the underlying service attaches to
// errors caused by an expired session. It is the sole trigger for the
// refresh-and-retry path.
const expiryMarker = "session_not_found"

// Session is the opaque token state owned by the provider. Callers only ever
// observe whether a session is valid or expired.
type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider is the remote auth collaborator.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
}

// SessionExpiredError marks a remote failure caused by an expired session.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("auth: session expired: %v", e.Cause)
}

func (e *SessionExpiredError) Unwrap() error { return e.Cause }

// SessionInvalidError means a refresh was attempted and failed. The caller
// must treat this as a hard stop and return the user to the sign-in surface.
type SessionInvalidError struct {
	Cause error
}

func (e *SessionInvalidError) Error() string {
	return fmt.Sprintf("auth: session invalid: %v", e.Cause)
}

func (e *SessionInvalidError) Unwrap() error { return e.Cause }

// IsSessionExpired reports whether err is the expired-session failure class,
// either as a typed error or via the service's message-level marker.
func IsSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	var expired *SessionExpiredError
	if errors.As(err, &expired) {
		return true
	}
	return strings.Contains(err.Error(), expiryMarker)
}

// Call executes op and returns its result. When op fails with an
// expired-session error it refreshes the session once:
//
//   - refresh succeeds: op is re-invoked exactly once and its outcome is
//     returned verbatim, with no further refresh.
//   - refresh fails or yields no session: the provider is signed out and a
//     SessionInvalidError is returned.
//
// Every other error class propagates unchanged on the first attempt.
func Call[T any](ctx context.Context, p Provider, op func(context.Context) (T, error)) (T, error) {
	out, err := op(ctx)
	if err == nil || !IsSessionExpired(err) {
		return out, err
	}

	sess, refreshErr := p.RefreshSession(ctx)
	if refreshErr != nil || sess == nil {
		_ = p.SignOut(ctx)
		var zero T
		return zero, &SessionInvalidError{Cause: err}
	}

	// Retry depth is fixed at 1: a second expiry surfaces as-is.
	return op(ctx)
}

// Run is Call for operations without a result.
func Run(ctx context.Context, p Provider, op func(context.Context) error) error {
	_, err := Call(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
