package bus

import (
	"context"
	"log"
	"sync"

	"tripchat/internal/events"
	"tripchat/internal/observability"
)

const memoryBackend = "memory"

type memorySub struct {
	sub   *Subscription
	queue chan events.Envelope
}

// MemoryBus is an in-process bus. Each subscription owns a bounded queue;
// when the queue is full the event is dropped for that subscriber only.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*memorySub
	buffer int
	closed bool
}

// NewMemoryBus creates a MemoryBus with the given per-subscription buffer.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{
		subs:   make(map[string]map[string]*memorySub),
		buffer: buffer,
	}
}

// Publish fans the event out to every current subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, ev events.Event) error {
	env, err := events.Encode(topic, ev)
	if err != nil {
		observability.BusPublishFailures.WithLabelValues(memoryBackend, string(ev.EventName())).Inc()
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		observability.BusPublishFailures.WithLabelValues(memoryBackend, string(env.EventName)).Inc()
		return ErrClosed
	}
	for _, ms := range b.subs[topic] {
		select {
		case ms.queue <- env:
		default:
			observability.BusDrops.WithLabelValues(memoryBackend, "buffer_full").Inc()
			log.Printf("bus: subscriber %s on %s is full, dropped %s", ms.sub.ID, topic, env.EventName)
		}
	}
	observability.BusPublished.WithLabelValues(memoryBackend, string(env.EventName)).Inc()
	return nil
}

// Subscribe registers h for topic. The subscription ends when ctx is done or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	sub := newSubscription(memoryBackend, topic, h)
	ms := &memorySub{sub: sub, queue: make(chan events.Envelope, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*memorySub)
	}
	b.subs[topic][sub.ID] = ms
	b.mu.Unlock()

	sub.teardown = func() { b.remove(topic, sub.ID) }
	observability.BusSubscriptions.WithLabelValues(memoryBackend).Inc()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-sub.done:
				return
			case env := <-ms.queue:
				sub.deliver(ctx, env)
			}
		}
	}()

	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Close cancels every subscription and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, m := range b.subs {
		for _, ms := range m {
			all = append(all, ms.sub)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}
