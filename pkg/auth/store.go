package auth

import (
	"context"
	"sync"
	"time"

	"github.com/expensly/expensly-go/pkg/log"
)

// User identifies the owner of the current session.
type User struct {
	SubjectID string
	Email     string
}

// TokenStore is the single source of truth for the current access token.
// The token lives in process memory only and is never written to any
// persistent storage, a process restart always drops the session. It is
// replaced wholesale on every refresh, never mutated field by field.
type TokenStore struct {
	mu         sync.Mutex
	token      string
	claims     Claims
	hasToken   bool
	decoded    bool
	generation uint64

	logger log.Logger
}

func NewTokenStore(logger log.Logger) *TokenStore {
	return &TokenStore{logger: logger}
}

// Set replaces the stored token and caches its decoded claims. An empty
// token clears the store. An undecodable token is kept anyway: it fails
// every expiry check, so the first authenticated request replaces it via
// refresh or forces a logout.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(token)
}

func (s *TokenStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.hasToken
}

func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked("")
}

// IsAuthenticated reports whether a token is present and its raw expiry is
// in the future. Unlike IsExpired it applies no buffer, the two checks are
// distinct on purpose.
func (s *TokenStore) IsAuthenticated(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasToken && s.claims.ExpiresAt.After(now)
}

func (s *TokenStore) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasToken || !s.decoded {
		return User{}, false
	}

	return User{SubjectID: s.claims.SubjectID, Email: s.claims.Email}, true
}

// ShouldRefresh reports whether a token is present and expires within
// RefreshAdvisoryWindow. It is a hint only: the reactive refresh in the
// request pipeline stays the authoritative path, and this advisory never
// queues anything by itself.
func (s *TokenStore) ShouldRefresh(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasToken && !s.claims.ExpiresAt.After(now.Add(RefreshAdvisoryWindow))
}

// snapshot returns the current session generation. Every Set and Clear
// bumps it, which lets a refresh detect that a logout or a fresh login
// raced it.
func (s *TokenStore) snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// replaceIfGeneration stores the token only if no Set or Clear happened
// since the given generation was sampled. Reports whether the token was
// stored.
func (s *TokenStore) replaceIfGeneration(token string, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return false
	}

	s.replaceLocked(token)
	return true
}

func (s *TokenStore) replaceLocked(token string) {
	s.generation++

	if token == "" {
		s.token, s.claims, s.hasToken, s.decoded = "", Claims{}, false, false
		return
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		s.logger.WithError(err).Warn(context.Background(), "stored access token has undecodable claims")
	}

	s.token, s.claims, s.hasToken, s.decoded = token, claims, true, err == nil
}
