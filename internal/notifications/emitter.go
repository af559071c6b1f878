package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"realtime-service/internal/broker"
	"realtime-service/internal/models"
)

// Publisher mirrors notifications onto the event exchange for consumers that
// are not connected right now, e.g. push and email digests.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// ParticipantLister is the one room query the emitter needs.
type ParticipantLister interface {
	Participants(ctx context.Context, roomID string) ([]models.Participant, error)
}

// Frame is the wire form pushed over a recipient's presence channel.
type Frame struct {
	Type    string         `json:"type"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Envelope is the AMQP form of the same notification.
type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	UserID        string         `json:"user_id"`
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload"`
}

// String identifies the envelope in logs without dumping its payload.
func (e Envelope) String() string {
	return fmt.Sprintf("%s/%s user=%s", e.EventType, e.Kind, e.UserID)
}

// Emitter fans user-facing notifications out on both paths: the recipient's
// presence topic for live delivery and the event exchange for everyone else.
type Emitter struct {
	broker      broker.Broker
	rooms       ParticipantLister
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// NewEmitter constructs an Emitter.
func NewEmitter(b broker.Broker, rooms ParticipantLister, publisher Publisher, routingKey, service, environment string) *Emitter {
	return &Emitter{
		broker:      b,
		rooms:       rooms,
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// NewMessage notifies every participant of the room except the sender that a
// message arrived. Failures are logged; message delivery itself already
// happened on the room topic.
func (e *Emitter) NewMessage(ctx context.Context, msg models.Message) {
	if e == nil {
		return
	}
	participants, err := e.rooms.Participants(ctx, msg.RoomID)
	if err != nil {
		log.Printf("notifications: list participants of %s: %v", msg.RoomID, err)
		return
	}

	payload := map[string]any{
		"room_id":         msg.RoomID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
		"sender_username": msg.SenderUsername,
		"message_type":    msg.MessageType,
	}
	for _, p := range participants {
		if p.UserID == msg.SenderID {
			continue
		}
		e.Push(ctx, p.UserID, "new_message", payload)
	}
}

// Push delivers one notification to one user on both paths.
func (e *Emitter) Push(ctx context.Context, userID string, kind string, payload map[string]any) {
	if e == nil {
		return
	}

	frame, err := json.Marshal(Frame{Type: "notification", Kind: kind, Payload: payload})
	if err != nil {
		log.Printf("notifications: marshal %s for %s: %v", kind, userID, err)
		return
	}
	env := broker.Envelope{Type: "notification", ActorID: userID, Frame: frame}
	if err := e.broker.Publish(ctx, broker.PresenceTopic(userID), env); err != nil {
		log.Printf("notifications: push %s to %s: %v", kind, userID, err)
	}

	if e.publisher == nil {
		return
	}
	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     "notification",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Kind:          kind,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("notifications: mirror %s to exchange: %v", kind, err)
	}
}
