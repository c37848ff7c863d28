package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/expensly/expensly-go/pkg/log"
)

// RefreshFunc exchanges the ambient refresh credential (held by the HTTP
// client's cookie jar) for a new access token. A failed call must not be
// retried by the caller: refresh failure is terminal for the session.
type RefreshFunc func(ctx context.Context) (string, error)

// ErrSessionTerminated is returned to refresh waiters when a logout or a
// fresh login settled while the refresh call was in flight. The refresh
// result is discarded in that case, the explicit session change wins.
var ErrSessionTerminated = errors.New("session terminated during token refresh")

const refreshGroupKey = "refresh"

// RefreshCoordinator guarantees that an arbitrary burst of concurrently
// failing requests is serviced by at most one refresh call against the
// refresh endpoint. Every waiter observes the same outcome: all of them get
// the new token, or all of them get an error derived from the single
// failure. Share one coordinator between all clients that share a
// TokenStore, a second instance would break the single-flight invariant.
type RefreshCoordinator struct {
	store   *TokenStore
	bus     *EventBus
	refresh RefreshFunc
	logger  log.Logger

	group singleflight.Group
}

func NewRefreshCoordinator(store *TokenStore, bus *EventBus, refresh RefreshFunc, logger log.Logger) *RefreshCoordinator {
	return &RefreshCoordinator{
		store:   store,
		bus:     bus,
		refresh: refresh,
		logger:  logger,
	}
}

// RefreshToken joins the in-flight refresh if one exists, otherwise starts
// it. On success the store holds the returned token and a refreshed event
// has been published. On failure the store is cleared (forced logout) and an
// error event has been published before any waiter resumes.
//
// Waiters are not queued without bound: the refresh call itself is limited
// by the refresh client's request timeout, so a stuck refresh resolves every
// waiter with an error once that timeout fires.
func (c *RefreshCoordinator) RefreshToken(ctx context.Context) (string, error) {
	token, err, _ := c.group.Do(refreshGroupKey, func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

func (c *RefreshCoordinator) doRefresh(ctx context.Context) (string, error) {
	// the outcome is shared by every queued waiter, so the call must not die
	// with the one request that happened to trigger it
	ctx = context.WithoutCancel(ctx)

	generation := c.store.snapshot()
	token, err := c.refresh(ctx)
	if err != nil {
		c.store.Clear()
		c.bus.Publish(ctx, Event{Kind: EventSessionError, Err: err})
		c.logger.WithError(err).Warn(ctx, "session refresh failed, local session cleared")
		return "", fmt.Errorf("refresh session: %w", err)
	}

	if !c.store.replaceIfGeneration(token, generation) {
		c.logger.Info(ctx, "session changed during refresh, refreshed token discarded")
		return "", ErrSessionTerminated
	}

	event := Event{Kind: EventSessionRefreshed}
	if user, ok := c.store.CurrentUser(); ok {
		event.User = &user
	}
	c.bus.Publish(ctx, event)
	c.logger.Debug(ctx, "access token refreshed")

	return token, nil
}
