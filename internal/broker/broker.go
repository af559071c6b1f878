package broker

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("broker closed")

// Envelope is the unit of fan-out between server instances. Frame holds the
// exact server frame to forward to sockets; the remaining fields let the
// receiving instance route and filter without re-parsing the frame.
type Envelope struct {
	Type          string          `json:"type"`
	RoomID        string          `json:"room_id,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	ActorName     string          `json:"actor_name,omitempty"`
	SuppressActor bool            `json:"suppress_actor,omitempty"`
	Frame         json.RawMessage `json:"frame"`
}

// Broker distributes envelopes to every instance subscribed to a topic.
// Delivery is at-least-once; consumers dedupe by message id where it matters.
type Broker interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is a live feed of envelopes for one topic.
type Subscription interface {
	Events() <-chan Envelope
	Close() error
}

// RoomTopic names the fan-out channel for a chat room.
func RoomTopic(roomID string) string { return "chat:" + roomID }

// PresenceTopic names the direct channel for one user's presence connections.
func PresenceTopic(userID string) string { return "presence:" + userID }
