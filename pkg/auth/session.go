package auth

import (
	"context"
	"time"

	"github.com/expensly/expensly-go/pkg/log"
)

// TokenPair is the success payload of the login and sign-up endpoints. The
// refresh credential itself travels in an http-only cookie and never passes
// through this package.
type TokenPair struct {
	AccessToken string
}

// SessionRevoker invalidates the ambient refresh credential server-side.
type SessionRevoker interface {
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
}

// Session is the public surface of the session lifecycle: login, logout and
// token queries. Requests authenticate through the pipeline (Transport),
// not through this facade.
type Session struct {
	store   *TokenStore
	bus     *EventBus
	revoker SessionRevoker
	logger  log.Logger
}

func NewSession(store *TokenStore, bus *EventBus, revoker SessionRevoker, logger log.Logger) *Session {
	return &Session{
		store:   store,
		bus:     bus,
		revoker: revoker,
		logger:  logger,
	}
}

// Login stores the access token obtained from the login or sign-up endpoint
// and announces the established session.
func (s *Session) Login(ctx context.Context, tokens TokenPair) {
	s.store.Set(tokens.AccessToken)

	event := Event{Kind: EventSessionEstablished}
	if user, ok := s.store.CurrentUser(); ok {
		event.User = &user
	}
	s.bus.Publish(ctx, event)
}

// Logout revokes the current session server-side on a best-effort basis and
// clears the local session unconditionally: a failing revoke call is logged
// and never blocks local cleanup.
func (s *Session) Logout(ctx context.Context) {
	s.revoke(ctx, s.revoker.Logout, "logout")
}

// LogoutAll is Logout against the revoke-all-sessions endpoint.
func (s *Session) LogoutAll(ctx context.Context) {
	s.revoke(ctx, s.revoker.LogoutAll, "logout all sessions")
}

func (s *Session) revoke(ctx context.Context, call func(context.Context) error, name string) {
	if err := call(ctx); err != nil {
		s.logger.WithError(err).Warn(ctx, name+" call failed, clearing local session anyway")
	}

	s.store.Clear()
	s.bus.Publish(ctx, Event{Kind: EventSessionCleared})
}

func (s *Session) Token() (string, bool) {
	return s.store.Get()
}

func (s *Session) CurrentUser() (User, bool) {
	return s.store.CurrentUser()
}

func (s *Session) IsAuthenticated(now time.Time) bool {
	return s.store.IsAuthenticated(now)
}

// RefreshHint reports whether a proactive refresh is advisable. It performs
// no refresh itself: refresh stays reactive, driven by the pipeline on
// actual authorization failures.
func (s *Session) RefreshHint(now time.Time) bool {
	return s.store.ShouldRefresh(now)
}
