package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tripchat/internal/events"
	"tripchat/internal/observability"

	"github.com/redis/go-redis/v9"
)

const redisBackend = "redis"

// RedisBus fans events out through Redis pub/sub so that every server
// instance delivers to its own connected subscribers.
type RedisBus struct {
	rdb    *redis.Client
	buffer int

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewRedisBus creates a RedisBus on top of an existing client.
func NewRedisBus(rdb *redis.Client, buffer int) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("bus: redis client is nil")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &RedisBus{rdb: rdb, buffer: buffer, subs: make(map[string]*Subscription)}, nil
}

// Publish sends the event to topic's Redis channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, ev events.Event) error {
	ctx, span := observability.TracePublish(ctx, redisBackend, topic, string(ev.EventName()))
	defer span.End()

	env, err := events.Encode(topic, ev)
	if err != nil {
		observability.BusPublishFailures.WithLabelValues(redisBackend, string(ev.EventName())).Inc()
		return err
	}
	frame, err := env.Marshal()
	if err != nil {
		observability.BusPublishFailures.WithLabelValues(redisBackend, string(env.EventName)).Inc()
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.rdb.Publish(ctx, topic, frame).Err(); err != nil {
		observability.BusPublishFailures.WithLabelValues(redisBackend, string(env.EventName)).Inc()
		observability.FailSpan(ctx, err)
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	observability.BusPublished.WithLabelValues(redisBackend, string(env.EventName)).Inc()
	return nil
}

// Subscribe subscribes to topic's channel and waits for Redis to confirm,
// so any publish made after Subscribe returns reaches h.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := newSubscription(redisBackend, topic, h)
	sub.teardown = func() {
		_ = ps.Close()
		b.mu.Lock()
		delete(b.subs, sub.ID)
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	observability.BusSubscriptions.WithLabelValues(redisBackend).Inc()

	ch := ps.Channel(redis.WithChannelSize(b.buffer))
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					_ = sub.Close()
					return
				}
				env, err := events.Parse([]byte(msg.Payload))
				if err != nil {
					observability.BusDrops.WithLabelValues(redisBackend, "malformed").Inc()
					log.Printf("bus: dropping malformed frame on %s: %v", msg.Channel, err)
					continue
				}
				sub.deliver(ctx, env)
			}
		}
	}()

	return sub, nil
}

// Close cancels every subscription opened through this bus. The Redis client is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		all = append(all, s)
	}
	b.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}
