// Package auth owns the bearer token used against the WeatherXM API.
//
// A Session is created by the caller and handed to the pipeline. When the
// API rejects the token the pipeline asks the session to refresh it; the
// session delegates to a Refresher and remembers the new value.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoRefresher is returned by Refresh when the session was built from a
// static token without credentials.
var ErrNoRefresher = errors.New("auth: no credentials to refresh the token")

// Refresher obtains a fresh bearer token.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Session holds the current bearer token.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiry    time.Time
	refresher Refresher
	logger    zerolog.Logger
}

// NewSession creates a session. Either token or refresher may be empty,
// not both.
func NewSession(token string, refresher Refresher) (*Session, error) {
	if token == "" && refresher == nil {
		return nil, fmt.Errorf("auth: token or refresher required")
	}

	s := &Session{
		refresher: refresher,
		logger:    log.With().Str("component", "auth").Logger(),
	}
	s.set(token)
	return s, nil
}

// Token returns the current token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Expiry returns the token's exp claim, zero if unknown.
func (s *Session) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry
}

// ExpiresWithin reports whether the token is missing, or expires in less
// than d. Tokens without a readable exp claim are assumed valid.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return true
	}
	if s.expiry.IsZero() {
		return false
	}
	return time.Until(s.expiry) < d
}

// Refresh replaces the token with a new one from the refresher.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", ErrNoRefresher
	}

	token, err := s.refresher.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("refresh token: empty token returned")
	}

	s.set(token)

	ev := s.logger.Info()
	if exp := s.Expiry(); !exp.IsZero() {
		ev = ev.Time("expires_at", exp)
	}
	ev.Msg("Bearer token refreshed")

	return token, nil
}

// EnsureFresh refreshes the token when it expires within margin. A session
// without a refresher keeps its token and lets the API decide.
func (s *Session) EnsureFresh(ctx context.Context, margin time.Duration) error {
	if !s.ExpiresWithin(margin) || s.refresher == nil {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

func (s *Session) set(token string) {
	var expiry time.Time
	if token != "" {
		exp, err := TokenExpiry(token)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Token expiry not readable")
		} else {
			expiry = exp
		}
	}

	s.mu.Lock()
	s.token = token
	s.expiry = expiry
	s.mu.Unlock()
}
