package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	refreshSession *Session
	refreshErr     error
	refreshCalls   int
	signOutCalls   int
}

func (s *stubProvider) GetSession(ctx context.Context) (*Session, error) {
	return &Session{UserID: "u-1"}, nil
}

func (s *stubProvider) RefreshSession(ctx context.Context) (*Session, error) {
	s.refreshCalls++
	return s.refreshSession, s.refreshErr
}

func (s *stubProvider) SignOut(ctx context.Context) error {
	s.signOutCalls++
	return nil
}

func TestCall_SuccessDoesNotTouchProvider(t *testing.T) {
	p := &stubProvider{}

	out, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Zero(t, p.refreshCalls)
	require.Zero(t, p.signOutCalls)
}

func TestCall_NonExpiryErrorPropagatesWithoutRefresh(t *testing.T) {
	p := &stubProvider{}
	boom := errors.New("connection reset")

	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		return "", boom
	})

	require.ErrorIs(t, err, boom)
	require.Zero(t, p.refreshCalls)
	require.Zero(t, p.signOutCalls)
}

func TestCall_ExpiryRefreshesOnceAndRetries(t *testing.T) {
	p := &stubProvider{refreshSession: &Session{UserID: "u-1"}}
	calls := 0

	out, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &SessionExpiredError{Cause: errors.New("stale token")}
		}
		return "answer", nil
	})

	require.NoError(t, err)
	require.Equal(t, "answer", out)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, p.refreshCalls)
	require.Zero(t, p.signOutCalls)
}

func TestCall_MarkerInMessageTriggersRefresh(t *testing.T) {
	p := &stubProvider{refreshSession: &Session{UserID: "u-1"}}
	calls := 0

	out, err := Call(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("remote: session_not_found")
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, out)
	require.Equal(t, 1, p.refreshCalls)
}

func TestCall_RetryOutcomeReturnedVerbatim(t *testing.T) {
	p := &stubProvider{refreshSession: &Session{UserID: "u-1"}}
	retryErr := errors.New("worker unavailable")
	calls := 0

	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &SessionExpiredError{Cause: errors.New("stale token")}
		}
		return "", retryErr
	})

	require.ErrorIs(t, err, retryErr)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, p.refreshCalls)
}

func TestCall_SecondExpirySurfacesWithoutSecondRefresh(t *testing.T) {
	p := &stubProvider{refreshSession: &Session{UserID: "u-1"}}
	calls := 0

	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "", &SessionExpiredError{Cause: errors.New("still stale")}
	})

	var expired *SessionExpiredError
	require.ErrorAs(t, err, &expired)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, p.refreshCalls)
	require.Zero(t, p.signOutCalls)
}

func TestCall_RefreshFailureSignsOut(t *testing.T) {
	p := &stubProvider{refreshErr: errors.New("refresh token revoked")}
	calls := 0

	out, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "partial", &SessionExpiredError{Cause: errors.New("stale token")}
	})

	var invalid *SessionInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, out)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, p.refreshCalls)
	require.Equal(t, 1, p.signOutCalls)
}

func TestCall_NilRefreshSessionSignsOut(t *testing.T) {
	p := &stubProvider{}

	_, err := Call(context.Background(), p, func(ctx context.Context) (string, error) {
		return "", &SessionExpiredError{Cause: errors.New("stale token")}
	})

	var invalid *SessionInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 1, p.signOutCalls)
}

func TestRun_WrapsCall(t *testing.T) {
	p := &stubProvider{refreshSession: &Session{UserID: "u-1"}}
	calls := 0

	err := Run(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &SessionExpiredError{Cause: errors.New("stale token")}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestIsSessionExpired(t *testing.T) {
	require.False(t, IsSessionExpired(nil))
	require.False(t, IsSessionExpired(errors.New("timeout")))
	require.True(t, IsSessionExpired(&SessionExpiredError{Cause: errors.New("x")}))
	require.True(t, IsSessionExpired(errors.New("status 403: session_not_found")))

	wrapped := fmt.Errorf("load conversation: %w", &SessionExpiredError{Cause: errors.New("x")})
	require.True(t, IsSessionExpired(wrapped))
}
