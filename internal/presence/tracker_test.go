package presence

import (
	"testing"
	"time"
)

func TestTrackerOnlineLifecycle(t *testing.T) {
	tr := NewTracker(90 * time.Second)

	tr.OnConnect("u1", "ana", "c1")
	if !tr.IsOnline("u1") {
		t.Fatalf("connected user should be online")
	}
	if tr.OnlineCount() != 1 {
		t.Fatalf("expected one online user, got %d", tr.OnlineCount())
	}

	tr.OnConnect("u1", "ana", "c2")
	if tr.OnDisconnect("u1", "c1") {
		t.Fatalf("user still holds a connection, no announcement is due")
	}
	if !tr.IsOnline("u1") {
		t.Fatalf("user with a live connection should stay online")
	}

	if !tr.OnDisconnect("u1", "c2") {
		t.Fatalf("dropping the last connection should report the user offline")
	}
	if tr.IsOnline("u1") {
		t.Fatalf("user should be offline after last disconnect")
	}
	if tr.OnlineCount() != 0 {
		t.Fatalf("expected no online users, got %d", tr.OnlineCount())
	}
}

func TestTrackerDisconnectUnknownUser(t *testing.T) {
	tr := NewTracker(time.Minute)
	if tr.OnDisconnect("ghost", "c1") {
		t.Fatalf("unknown user must not trigger an announcement")
	}
}

func TestTrackerHeartbeatMonotonic(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.OnConnect("u1", "ana", "c1")

	now := time.Now()
	if !tr.Heartbeat("u1", now.Add(time.Second)) {
		t.Fatalf("fresh beat rejected")
	}
	if tr.Heartbeat("u1", now.Add(-time.Hour)) {
		t.Fatalf("out of order beat must be ignored")
	}
	if tr.Heartbeat("ghost", now) {
		t.Fatalf("beat for unknown user must be ignored")
	}
}

func TestTrackerSweepAnnouncesOnce(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.OnConnect("u1", "ana", "c1")
	tr.OnConnect("u2", "bo", "c2")

	// u2 keeps beating; u1 lapses.
	future := time.Now().Add(2 * time.Minute)
	tr.Heartbeat("u2", future)

	gone := tr.SweepStale(future)
	if len(gone) != 1 || gone[0].UserID != "u1" || gone[0].Username != "ana" {
		t.Fatalf("unexpected sweep result: %v", gone)
	}

	if again := tr.SweepStale(future.Add(time.Minute)); len(again) != 0 {
		t.Fatalf("lapsed user announced twice: %v", again)
	}

	// The socket teardown that follows the lapse must not announce again.
	if tr.OnDisconnect("u1", "c1") {
		t.Fatalf("swept user reported offline a second time on disconnect")
	}
}

func TestTrackerHeartbeatRearmsAfterSweep(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.OnConnect("u1", "ana", "c1")

	lapse := time.Now().Add(2 * time.Minute)
	if gone := tr.SweepStale(lapse); len(gone) != 1 {
		t.Fatalf("expected initial lapse, got %v", gone)
	}

	// A revival beat starts a new lapse cycle.
	if !tr.Heartbeat("u1", lapse.Add(time.Second)) {
		t.Fatalf("revival beat rejected")
	}
	if gone := tr.SweepStale(lapse.Add(5 * time.Minute)); len(gone) != 1 {
		t.Fatalf("expected a second lapse after revival, got %v", gone)
	}
}

func TestTrackerTouchUnknownUser(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Touch("ghost")
	if tr.IsOnline("ghost") {
		t.Fatalf("touch must not create presence for users without connections")
	}
}

func TestTrackerTyping(t *testing.T) {
	tr := NewTracker(time.Minute)

	tr.SetTyping("u1", "r1")
	tr.SetTyping("u1", "r2")

	if !tr.ClearTyping("u1", "r1") {
		t.Fatalf("expected typing mark in r1")
	}
	if tr.ClearTyping("u1", "r1") {
		t.Fatalf("clearing twice must report nothing to do")
	}
	if !tr.ClearTyping("u1", "r2") {
		t.Fatalf("expected typing mark in r2")
	}
	if tr.ClearTyping("ghost", "r1") {
		t.Fatalf("unknown user cannot be typing")
	}
}
