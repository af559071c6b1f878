package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func startRedisBroker(t *testing.T, attempts int) (*miniredis.Miniredis, *RedisBroker) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://"+mr.Addr(), attempts, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new redis broker: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return mr, b
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	_, b := startRedisBroker(t, 1)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, RoomTopic("r1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	sent := Envelope{
		Type:          "typing_indicator",
		RoomID:        "r1",
		ActorID:       "u1",
		ActorName:     "ana",
		SuppressActor: true,
		Frame:         json.RawMessage(`{"type":"typing_indicator","is_typing":true}`),
	}
	if err := b.Publish(ctx, RoomTopic("r1"), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := recvEnvelope(t, sub)
	if got.Type != sent.Type || got.RoomID != sent.RoomID || got.ActorID != sent.ActorID {
		t.Fatalf("envelope fields lost in transit: %+v", got)
	}
	if !got.SuppressActor {
		t.Fatalf("suppress flag lost in transit")
	}
	if string(got.Frame) != string(sent.Frame) {
		t.Fatalf("frame altered in transit: %s", got.Frame)
	}
}

func TestRedisBrokerSkipsMalformedPayload(t *testing.T) {
	mr, b := startRedisBroker(t, 1)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, RoomTopic("r1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// Something that is not an envelope lands on the topic; the pump must
	// drop it and keep the feed alive for the next valid envelope.
	mr.Publish(RoomTopic("r1"), "{not json")
	if err := b.Publish(ctx, RoomTopic("r1"), Envelope{Type: "chat_message", Frame: json.RawMessage(`{"ok":true}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := recvEnvelope(t, sub)
	if got.Type != "chat_message" {
		t.Fatalf("expected the valid envelope, got %+v", got)
	}
}

func TestRedisBrokerPublishErrorAfterRetries(t *testing.T) {
	mr, b := startRedisBroker(t, 2)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.Publish(ctx, RoomTopic("r1"), Envelope{Type: "chat_message"})
	if err == nil {
		t.Fatalf("expected publish to fail once the server is gone")
	}
}

func TestRedisBrokerSubscriptionClose(t *testing.T) {
	_, b := startRedisBroker(t, 1)

	sub, err := b.Subscribe(context.Background(), RoomTopic("r1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	expectClosed(t, sub)
}
