package rabbitmq

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "events")

	if mode := PublisherMode(p); mode != "noop" {
		t.Fatalf("mode = %q, want noop", mode)
	}
	if reason := PublisherNoopReason(p); reason == "" {
		t.Fatalf("expected a reason for the noop fallback")
	}
	if err := p.Publish(context.Background(), "realtime.events", struct{}{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}

func TestPublisherModeOnLivePublisher(t *testing.T) {
	live := &exchangePublisher{}
	if mode := PublisherMode(live); mode != "amqp" {
		t.Fatalf("mode = %q, want amqp", mode)
	}
	if reason := PublisherNoopReason(live); reason != "" {
		t.Fatalf("live publisher reports noop reason %q", reason)
	}
}

type stubEvent struct{}

func (stubEvent) String() string { return "stub-event" }

func TestNoopPublishLogsEventIdentity(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	p := NewPublisher("", "events")
	if err := p.Publish(context.Background(), "realtime.events", stubEvent{}); err != nil {
		t.Fatalf("publish stringer event: %v", err)
	}
	if err := p.Publish(context.Background(), "realtime.events", 42); err != nil {
		t.Fatalf("publish plain event: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "event=stub-event") {
		t.Fatalf("event identity missing from log: %s", logged)
	}
	if !strings.Contains(logged, "event=int") {
		t.Fatalf("event type missing from log: %s", logged)
	}
}
