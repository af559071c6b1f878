package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	redis "github.com/redis/go-redis/v9"
)

// RedisBroker distributes envelopes across server instances over Redis
// pub/sub. Publishes are retried with exponential backoff; subscriptions
// survive connection drops because go-redis resubscribes on reconnect.
type RedisBroker struct {
	client   *redis.Client
	attempts int
	maxWait  time.Duration
}

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(url string, attempts int, maxWait time.Duration) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}
	return &RedisBroker{client: client, attempts: attempts, maxWait: maxWait}, nil
}

var _ Broker = (*RedisBroker)(nil)

// Publish sends the envelope to the topic, retrying transient failures.
// The error returned after the final attempt wraps the last Redis error.
func (b *RedisBroker) Publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = b.maxWait
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
			log.Printf("broker: publish %s attempt %d failed: %v", topic, attempt, err)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and pumps payloads into envelopes.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	// Block until the server confirms the subscription so no frame published
	// after this call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Envelope, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(topic)
	return sub, nil
}

// Close releases the underlying Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Envelope
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump(topic string) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("broker: dropping malformed envelope on %s: %v", topic, err)
			continue
		}
		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}

// Events returns the feed. The channel closes when the subscription does.
func (s *redisSubscription) Events() <-chan Envelope { return s.out }

// Close tears down the Redis subscription and ends the feed.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
