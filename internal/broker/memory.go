package broker

import (
	"context"
	"log"
	"sync"
)

const subscriptionBuffer = 256

// MemoryBroker is an in-process Broker for single-instance deployments and
// tests. Envelopes published on a topic reach every open subscription on
// that topic in publish order.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroker constructs an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*memorySubscription]struct{})}
}

var _ Broker = (*MemoryBroker)(nil)

// Publish delivers the envelope to current subscribers of the topic.
// A subscriber whose buffer is full is dropped rather than stalling the rest.
func (b *MemoryBroker) Publish(_ context.Context, topic string, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	set := b.topics[topic]
	for sub := range set {
		select {
		case sub.ch <- env:
		default:
			log.Printf("broker: dropping slow subscriber on %s", topic)
			delete(set, sub)
			close(sub.ch)
		}
	}
	if len(set) == 0 {
		delete(b.topics, topic)
	}
	return nil
}

// Subscribe opens a buffered subscription on the topic.
func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{broker: b, topic: topic, ch: make(chan Envelope, subscriptionBuffer)}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*memorySubscription]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Close shuts down the broker and every open subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.topics {
		for sub := range set {
			close(sub.ch)
		}
	}
	b.topics = nil
	return nil
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	ch     chan Envelope
	once   sync.Once
}

// Events returns the feed. The channel closes when the subscription does.
func (s *memorySubscription) Events() <-chan Envelope { return s.ch }

// Close detaches the subscription and closes its events channel.
func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.topics[s.topic]
		if !ok {
			return
		}
		if _, live := set[s]; !live {
			// Already dropped by a publisher; the channel is closed.
			return
		}
		delete(set, s)
		if len(set) == 0 {
			delete(b.topics, s.topic)
		}
		close(s.ch)
	})
	return nil
}
