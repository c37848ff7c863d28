package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensly/expensly-go/pkg/auth"
	"github.com/expensly/expensly-go/pkg/log"
)

func TestTokenStore_SetGetClear(t *testing.T) {
	t.Parallel()
	store := auth.NewTokenStore(log.NewStub())

	_, ok := store.Get()
	assert.False(t, ok)

	token := signedToken(t, jwt.MapClaims{"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix()})
	store.Set(token)

	stored, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, token, stored)

	store.Clear()
	_, ok = store.Get()
	assert.False(t, ok)
}

func TestTokenStore_SetEmptyClears(t *testing.T) {
	t.Parallel()
	store := auth.NewTokenStore(log.NewStub())

	store.Set(signedToken(t, jwt.MapClaims{"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix()}))
	store.Set("")

	_, ok := store.Get()
	assert.False(t, ok)
	_, ok = store.CurrentUser()
	assert.False(t, ok)
}

func TestTokenStore_IsAuthenticated_Returns(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		token         string
		authenticated bool
	}{
		{
			name:          "false_when_no_token",
			token:         "",
			authenticated: false,
		},
		{
			name:          "false_when_exp_in_past",
			token:         signedToken(t, jwt.MapClaims{"exp": now.Add(-10 * time.Second).Unix()}),
			authenticated: false,
		},
		{
			// the raw check applies no buffer: a token expiring in 20s is
			// still authenticated here while IsExpired already reports true
			name:          "true_when_exp_inside_buffer_window",
			token:         signedToken(t, jwt.MapClaims{"exp": now.Add(20 * time.Second).Unix()}),
			authenticated: true,
		},
		{
			name:          "false_when_token_undecodable",
			token:         "garbage",
			authenticated: false,
		},
		{
			name:          "false_when_exp_missing",
			token:         signedToken(t, jwt.MapClaims{"sub": "user-42"}),
			authenticated: false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := auth.NewTokenStore(log.NewStub())
			if tc.token != "" {
				store.Set(tc.token)
			}

			assert.Equal(t, tc.authenticated, store.IsAuthenticated(now))
		})
	}
}

func TestTokenStore_CurrentUser(t *testing.T) {
	t.Parallel()
	store := auth.NewTokenStore(log.NewStub())

	_, ok := store.CurrentUser()
	assert.False(t, ok)

	store.Set(signedToken(t, jwt.MapClaims{
		"sub":   "user-42",
		"email": "user@expensly.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}))

	user, ok := store.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, auth.User{SubjectID: "user-42", Email: "user@expensly.test"}, user)

	store.Set("garbage")
	_, ok = store.CurrentUser()
	assert.False(t, ok)
}

func TestTokenStore_ShouldRefresh_Returns(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		token  string
		advise bool
	}{
		{
			name:   "false_when_no_token",
			token:  "",
			advise: false,
		},
		{
			name:   "true_when_exp_within_advisory_window",
			token:  signedToken(t, jwt.MapClaims{"exp": now.Add(2 * time.Minute).Unix()}),
			advise: true,
		},
		{
			name:   "true_when_already_expired",
			token:  signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}),
			advise: true,
		},
		{
			name:   "false_when_exp_far_away",
			token:  signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}),
			advise: false,
		},
		{
			name:   "true_when_exp_missing",
			token:  signedToken(t, jwt.MapClaims{"sub": "user-42"}),
			advise: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := auth.NewTokenStore(log.NewStub())
			if tc.token != "" {
				store.Set(tc.token)
			}

			assert.Equal(t, tc.advise, store.ShouldRefresh(now))
		})
	}
}
