package auth_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensly/expensly-go/pkg/auth"
	"github.com/expensly/expensly-go/pkg/log"
)

type pipelineFixture struct {
	store        *auth.TokenStore
	bus          *auth.EventBus
	client       *http.Client
	refreshCalls atomic.Int64

	refreshedEvents atomic.Int64
	errorEvents     atomic.Int64
}

func newPipelineFixture(t *testing.T, refresh auth.RefreshFunc) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		store: auth.NewTokenStore(log.NewStub()),
		bus:   auth.NewEventBus(log.NewStub()),
	}
	countingRefresh := func(ctx context.Context) (string, error) {
		f.refreshCalls.Add(1)
		return refresh(ctx)
	}

	f.bus.Subscribe(auth.EventSessionRefreshed, func(context.Context, auth.Event) {
		f.refreshedEvents.Add(1)
	})
	f.bus.Subscribe(auth.EventSessionError, func(context.Context, auth.Event) {
		f.errorEvents.Add(1)
	})

	coordinator := auth.NewRefreshCoordinator(f.store, f.bus, countingRefresh, log.NewStub())
	f.client = &http.Client{Transport: auth.NewTransport(coordinator, nil)}
	return f
}

func validToken(t *testing.T, subject string) string {
	return signedToken(t, jwt.MapClaims{
		"sub":   subject,
		"email": subject + "@expensly.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
}

func TestTransport_AttachesBearerToken(t *testing.T) {
	t.Parallel()

	var receivedAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newPipelineFixture(t, func(context.Context) (string, error) {
		return "", errors.New("unexpected refresh")
	})

	token := validToken(t, "user-42")
	f.store.Set(token)

	resp, err := f.client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer "+token, receivedAuth.Load())
	assert.EqualValues(t, 0, f.refreshCalls.Load())
}

func TestTransport_MissingTokenIsNotAnError(t *testing.T) {
	t.Parallel()

	var receivedAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newPipelineFixture(t, func(context.Context) (string, error) {
		return "", errors.New("unexpected refresh")
	})

	resp, err := f.client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", receivedAuth.Load())
}

func TestTransport_SingleFlightRefresh(t *testing.T) {
	t.Parallel()

	const concurrentRequests = 3

	oldToken := validToken(t, "stale")
	newToken := validToken(t, "fresh")

	var unauthorized sync.WaitGroup
	unauthorized.Add(concurrentRequests)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+newToken {
			_, _ = w.Write([]byte("ok"))
			return
		}

		unauthorized.Done()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	release := make(chan struct{})
	f := newPipelineFixture(t, func(context.Context) (string, error) {
		<-release
		return newToken, nil
	})
	f.store.Set(oldToken)

	// the refresh settles only after every request failed authorization,
	// so all of them join the same flight
	go func() {
		unauthorized.Wait()
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	var group sync.WaitGroup
	results := make(chan error, concurrentRequests)
	for i := 0; i < concurrentRequests; i++ {
		group.Add(1)
		go func() {
			defer group.Done()

			resp, err := f.client.Get(server.URL)
			if err != nil {
				results <- err
				return
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err == nil && (resp.StatusCode != http.StatusOK || string(body) != "ok") {
				err = errors.New("unexpected response")
			}
			results <- err
		}()
	}
	group.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	assert.EqualValues(t, 1, f.refreshCalls.Load())
	assert.EqualValues(t, 1, f.refreshedEvents.Load())

	stored, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, newToken, stored)
}

func TestTransport_RefreshFailureRejectsAllWaiters(t *testing.T) {
	t.Parallel()

	const concurrentRequests = 3
	refreshErr := errors.New("refresh credential revoked")

	var unauthorized sync.WaitGroup
	unauthorized.Add(concurrentRequests)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unauthorized.Done()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	release := make(chan struct{})
	f := newPipelineFixture(t, func(context.Context) (string, error) {
		<-release
		return "", refreshErr
	})
	f.store.Set(validToken(t, "stale"))

	go func() {
		unauthorized.Wait()
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	var group sync.WaitGroup
	results := make(chan error, concurrentRequests)
	for i := 0; i < concurrentRequests; i++ {
		group.Add(1)
		go func() {
			defer group.Done()

			resp, err := f.client.Get(server.URL)
			if err == nil {
				resp.Body.Close()
			}
			results <- err
		}()
	}
	group.Wait()
	close(results)

	for err := range results {
		require.Error(t, err)
		assert.ErrorIs(t, err, refreshErr)
	}

	assert.EqualValues(t, 1, f.refreshCalls.Load())
	assert.EqualValues(t, 1, f.errorEvents.Load())
	assert.EqualValues(t, 0, f.refreshedEvents.Load())

	_, ok := f.store.Get()
	assert.False(t, ok, "token store must end cleared after a failed refresh")
}

func TestTransport_NoSecondRefreshForReplayedRequest(t *testing.T) {
	t.Parallel()

	// the session is genuinely invalid: even the refreshed token gets 401
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := newPipelineFixture(t, func(context.Context) (string, error) {
		return validToken(t, "fresh"), nil
	})
	f.store.Set(validToken(t, "stale"))

	resp, err := f.client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, f.refreshCalls.Load(), "a replayed request must never refresh a second time")
}

func TestTransport_Non401FailuresDoNotTriggerRefresh(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newPipelineFixture(t, func(context.Context) (string, error) {
		return "", errors.New("unexpected refresh")
	})
	f.store.Set(validToken(t, "user-42"))

	resp, err := f.client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.EqualValues(t, 0, f.refreshCalls.Load())
}

func TestTransport_ReplaysRequestBody(t *testing.T) {
	t.Parallel()

	newToken := validToken(t, "fresh")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+newToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	f := newPipelineFixture(t, func(context.Context) (string, error) {
		return newToken, nil
	})
	f.store.Set(validToken(t, "stale"))

	resp, err := f.client.Post(server.URL, "text/plain", strings.NewReader("expense payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "expense payload", string(body))
	assert.EqualValues(t, 1, f.refreshCalls.Load())
}

func TestTransport_LogoutDuringRefreshWins(t *testing.T) {
	t.Parallel()

	newToken := validToken(t, "fresh")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+newToken {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	release := make(chan struct{})
	f := newPipelineFixture(t, func(context.Context) (string, error) {
		<-release
		return newToken, nil
	})
	f.store.Set(validToken(t, "stale"))

	result := make(chan error, 1)
	go func() {
		resp, err := f.client.Get(server.URL)
		if err == nil {
			resp.Body.Close()
		}
		result <- err
	}()

	require.Eventually(t, func() bool {
		return f.refreshCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// logout while the refresh is in flight: its settled result must not
	// resurrect the session
	f.store.Clear()
	close(release)

	err := <-result
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrSessionTerminated)
	assert.EqualValues(t, 0, f.refreshedEvents.Load())

	_, ok := f.store.Get()
	assert.False(t, ok)
}
