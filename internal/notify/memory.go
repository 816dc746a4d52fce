package notify

import (
	"context"
	"sync"
)

// MemoryBus delivers events in-process, synchronously, in subscription
// order. It backs tests and single-node deployments without Redis.
// Handlers run on the publisher's goroutine and must not block.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*Subscription)}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	for _, topic := range event.Topics() {
		b.mu.Lock()
		targets := make([]*Subscription, len(b.subs[topic]))
		copy(targets, b.subs[topic])
		b.mu.Unlock()

		for _, sub := range targets {
			sub.deliver(event)
		}
		eventsDelivered.WithLabelValues(topic).Add(float64(len(targets)))
	}
	eventsPublished.WithLabelValues(event.Table).Inc()
	return nil
}

func (b *MemoryBus) Subscribe(topic string, onChange func(Event)) *Subscription {
	sub := newSubscription(topic, onChange, b.remove)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	sub.activate()
	return sub
}

func (b *MemoryBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i, candidate := range list {
		if candidate == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}
