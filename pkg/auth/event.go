package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/expensly/expensly-go/pkg/log"
)

type EventKind string

const (
	EventSessionEstablished EventKind = "sessionEstablished"
	EventSessionCleared     EventKind = "sessionCleared"
	EventSessionRefreshed   EventKind = "sessionRefreshed"
	EventSessionError       EventKind = "sessionError"
)

// Event notifies listeners about a session state change. User is set for
// established and refreshed events when the token claims are decodable,
// Err is set for error events.
type Event struct {
	Kind EventKind
	User *User
	Err  error
}

type Listener func(ctx context.Context, event Event)

// EventBus decouples session state changes from their observers. Fan-out is
// synchronous and events are not retained, a listener only sees changes
// that happen after it subscribed.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[EventKind][]busListener
	logger    log.Logger
}

type busListener struct {
	id       uuid.UUID
	listener Listener
}

func NewEventBus(logger log.Logger) *EventBus {
	return &EventBus{
		listeners: make(map[EventKind][]busListener),
		logger:    logger,
	}
}

// Subscribe registers a listener for the given event kind. The returned
// function removes it and is safe to call more than once.
func (b *EventBus) Subscribe(kind EventKind, listener Listener) (unsubscribe func()) {
	id := uuid.New()

	b.mu.Lock()
	b.listeners[kind] = append(b.listeners[kind], busListener{id: id, listener: listener})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		registered := b.listeners[kind]
		for i, l := range registered {
			if l.id == id {
				b.listeners[kind] = append(registered[:i:i], registered[i+1:]...)
				return
			}
		}
	}
}

// Publish synchronously invokes all listeners registered for the event's
// kind. A panicking listener is isolated and logged, the remaining
// listeners still run.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	registered := make([]busListener, len(b.listeners[event.Kind]))
	copy(registered, b.listeners[event.Kind])
	b.mu.RUnlock()

	for _, l := range registered {
		b.invoke(ctx, l.listener, event)
	}
}

func (b *EventBus) invoke(ctx context.Context, listener Listener, event Event) {
	defer func() {
		if msg := recover(); msg != nil {
			b.logger.
				WithField("eventKind", string(event.Kind)).
				WithField("panic", fmt.Sprintf("%v", msg)).
				Error(ctx, "auth event listener panicked")
		}
	}()

	listener(ctx, event)
}
