package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "benthel."

// RedisBus fans events out over Redis pub/sub so every portal instance sees
// writes made by any of them. One PubSub connection serves all local
// subscriptions; go-redis reconnects and resubscribes it after a drop, so
// registered subscriptions survive transient channel loss (consumers simply
// miss the notifications published while disconnected and catch up on the
// next event or reload).
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu   sync.Mutex
	subs map[string][]*Subscription
}

func NewRedisBus(ctx context.Context, client *redis.Client) *RedisBus {
	bus := &RedisBus{
		client: client,
		pubsub: client.Subscribe(ctx),
		subs:   make(map[string][]*Subscription),
	}
	go bus.dispatch(ctx)
	return bus
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, topic := range event.Topics() {
		if err := b.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
			return err
		}
	}
	eventsPublished.WithLabelValues(event.Table).Inc()
	return nil
}

func (b *RedisBus) Subscribe(topic string, onChange func(Event)) *Subscription {
	sub := newSubscription(topic, onChange, b.remove)

	b.mu.Lock()
	first := len(b.subs[topic]) == 0
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	if first {
		if err := b.pubsub.Subscribe(context.Background(), channelPrefix+topic); err != nil {
			log.Printf("bus subscribe %s: %v", topic, err)
			sub.Close()
			return sub
		}
	}
	sub.activate()
	return sub
}

func (b *RedisBus) remove(sub *Subscription) {
	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, candidate := range list {
		if candidate == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	last := len(b.subs[sub.topic]) == 0
	if last {
		delete(b.subs, sub.topic)
	}
	b.mu.Unlock()

	if last {
		if err := b.pubsub.Unsubscribe(context.Background(), channelPrefix+sub.topic); err != nil {
			log.Printf("bus unsubscribe %s: %v", sub.topic, err)
		}
	}
}

// dispatch delivers messages sequentially, preserving the order the channel
// handed them over.
func (b *RedisBus) dispatch(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = b.pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("bus payload decode: %v", err)
				continue
			}
			topic := msg.Channel[len(channelPrefix):]

			b.mu.Lock()
			targets := make([]*Subscription, len(b.subs[topic]))
			copy(targets, b.subs[topic])
			b.mu.Unlock()

			for _, sub := range targets {
				sub.deliver(event)
			}
			eventsDelivered.WithLabelValues(topic).Add(float64(len(targets)))
		}
	}
}
