package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"realtime-service/internal/broker"
	"realtime-service/internal/models"
)

type participantStub struct {
	participants []models.Participant
	err          error
}

func (s participantStub) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	return s.participants, s.err
}

type recordedEvent struct {
	routingKey string
	event      any
}

type publisherStub struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{routingKey: routingKey, event: event})
	return nil
}

func (p *publisherStub) Close() error { return nil }

func (p *publisherStub) recorded() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedEvent(nil), p.events...)
}

func recvNotification(t *testing.T, sub broker.Subscription) Frame {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed")
		}
		var frame Frame
		if err := json.Unmarshal(env.Frame, &frame); err != nil {
			t.Fatalf("decode notification frame: %v", err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatalf("no notification within 1s")
	}
	return Frame{}
}

func expectNoEnvelope(t *testing.T, sub broker.Subscription) {
	t.Helper()
	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected envelope: %+v", env)
	default:
	}
}

func TestNewMessageNotifiesRecipientsOnly(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	defer b.Close()

	sender, err := b.Subscribe(ctx, broker.PresenceTopic("u1"))
	if err != nil {
		t.Fatalf("subscribe sender: %v", err)
	}
	peer, err := b.Subscribe(ctx, broker.PresenceTopic("u2"))
	if err != nil {
		t.Fatalf("subscribe peer: %v", err)
	}
	third, err := b.Subscribe(ctx, broker.PresenceTopic("u3"))
	if err != nil {
		t.Fatalf("subscribe third: %v", err)
	}

	rooms := participantStub{participants: []models.Participant{
		{RoomID: "r1", UserID: "u1", Username: "ana"},
		{RoomID: "r1", UserID: "u2", Username: "bo"},
		{RoomID: "r1", UserID: "u3", Username: "cy"},
	}}
	pub := &publisherStub{}
	emitter := NewEmitter(b, rooms, pub, "notifications.push", "realtime-service", "test")

	emitter.NewMessage(ctx, models.Message{
		ID:             "m1",
		RoomID:         "r1",
		SenderID:       "u1",
		SenderUsername: "ana",
		MessageType:    models.MessageTypeText,
	})

	for _, sub := range []broker.Subscription{peer, third} {
		frame := recvNotification(t, sub)
		if frame.Type != "notification" || frame.Kind != "new_message" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
		if frame.Payload["room_id"] != "r1" || frame.Payload["message_id"] != "m1" {
			t.Fatalf("payload missing message coordinates: %+v", frame.Payload)
		}
	}

	// Publishes run in participant order, so by the time u3 has received,
	// anything addressed to the sender would already be buffered.
	expectNoEnvelope(t, sender)

	events := pub.recorded()
	if len(events) != 2 {
		t.Fatalf("mirrored %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.routingKey != "notifications.push" {
			t.Fatalf("routing key = %q, want notifications.push", ev.routingKey)
		}
		env, ok := ev.event.(Envelope)
		if !ok {
			t.Fatalf("mirrored event has type %T", ev.event)
		}
		if env.SchemaVersion != 1 || env.EventType != "notification" || env.Kind != "new_message" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
		if env.UserID != "u2" && env.UserID != "u3" {
			t.Fatalf("envelope addressed to %q", env.UserID)
		}
	}
}

func TestNewMessageParticipantLookupError(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, broker.PresenceTopic("u2"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := &publisherStub{}
	emitter := NewEmitter(b, participantStub{err: context.DeadlineExceeded}, pub, "notifications.push", "realtime-service", "test")
	emitter.NewMessage(ctx, models.Message{ID: "m1", RoomID: "r1", SenderID: "u1"})

	expectNoEnvelope(t, sub)
	if got := pub.recorded(); len(got) != 0 {
		t.Fatalf("mirrored %d events on lookup failure, want 0", len(got))
	}
}

func TestPushWithoutMirrorPublisher(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, broker.PresenceTopic("u2"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	emitter := NewEmitter(b, participantStub{}, nil, "notifications.push", "realtime-service", "test")
	emitter.Push(ctx, "u2", "debug", map[string]any{"message": "hello"})

	frame := recvNotification(t, sub)
	if frame.Kind != "debug" || frame.Payload["message"] != "hello" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	e.NewMessage(context.Background(), models.Message{ID: "m1"})
	e.Push(context.Background(), "u1", "debug", nil)
}

func TestEnvelopeString(t *testing.T) {
	env := Envelope{EventType: "notification", Kind: "new_message", UserID: "u2"}
	if got := env.String(); got != "notification/new_message user=u2" {
		t.Fatalf("envelope string = %q", got)
	}
}
