// Package bus implements the topic-based publish/subscribe transport.
//
// Delivery is at-least-once to subscribers that are live when an event is
// published and FIFO per topic per publisher. Nothing is persisted: a
// subscriber that is not connected when an event is published never sees it.
package bus

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"tripchat/internal/events"
	"tripchat/internal/observability"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscription queue depth.
const DefaultBuffer = 256

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler processes one delivered envelope. Handlers for a single
// subscription run sequentially on that subscription's own goroutine.
type Handler func(ctx context.Context, env events.Envelope)

// Bus is implemented by MemoryBus and RedisBus.
type Bus interface {
	Publish(ctx context.Context, topic string, ev events.Event) error
	Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error)
	Close() error
}

// Subscription is a live (subscriber, topic) pair. Once Close returns, the
// handler is never invoked for an event dequeued afterwards.
type Subscription struct {
	ID    string
	Topic string

	backend   string
	handler   Handler
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	teardown  func()
}

func newSubscription(backend, topic string, h Handler) *Subscription {
	return &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		backend: backend,
		handler: h,
		done:    make(chan struct{}),
	}
}

// Close cancels the subscription immediately. It is safe to call from inside the handler.
func (s *Subscription) Close() error {
	s.closed.Store(true)
	s.closeOnce.Do(func() {
		close(s.done)
		if s.teardown != nil {
			s.teardown()
		}
		observability.BusSubscriptions.WithLabelValues(s.backend).Dec()
	})
	return nil
}

// Active reports whether the subscription still delivers events.
func (s *Subscription) Active() bool {
	return !s.closed.Load()
}

// Done is closed when the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(ctx context.Context, env events.Envelope) {
	if s.closed.Load() {
		observability.BusDrops.WithLabelValues(s.backend, "unsubscribed").Inc()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in bus handler for %s: %v\n%s", s.Topic, r, debug.Stack())
		}
	}()
	s.handler(ctx, env)
}
