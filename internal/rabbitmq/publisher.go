package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher hands events to the message bus for consumers outside this
// service. Events marshal to JSON; routing keys follow the exchange's topic
// grammar.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to RabbitMQ and declares the topic exchange. Any
// failure, including an unset URL, yields a noop publisher that logs what it
// drops, so the service runs without a bus.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return disabled("no amqp url configured")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return disabled(err.Error())
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return disabled(err.Error())
	}
	// durable topic exchange; consumers declare and bind their own queues
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return disabled(err.Error())
	}
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return &exchangePublisher{conn: conn, ch: ch, exchange: exchange}
}

func disabled(reason string) Publisher {
	log.Printf("rabbitmq disabled, using noop: %s", reason)
	return noopPublisher{reason: reason}
}

type exchangePublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *exchangePublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *exchangePublisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

// noopPublisher swallows events when no bus is configured. Events that
// describe themselves (fmt.Stringer) are logged by identity, the rest by
// type, so dropped traffic stays visible without dumping payloads.
type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	if s, ok := event.(fmt.Stringer); ok {
		log.Printf("rabbitmq noop publish routing_key=%s event=%s", routingKey, s)
	} else {
		log.Printf("rabbitmq noop publish routing_key=%s event=%T", routingKey, event)
	}
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode reports how events are being handled, for startup logs.
func PublisherMode(p Publisher) string {
	if _, ok := p.(noopPublisher); ok {
		return "noop"
	}
	return "amqp"
}

// PublisherNoopReason returns why publishing is disabled, or "" when live.
func PublisherNoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}
