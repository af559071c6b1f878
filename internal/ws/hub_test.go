package ws

import (
	"sync"
	"testing"
)

func TestHubAddAndRemoveChatClient(t *testing.T) {
	hub := NewHub()
	c := &Client{Kind: KindChat, RoomID: "r1", UserID: "u1"}

	hub.Add(c)
	if got := hub.RoomClients("r1"); len(got) != 1 || got[0] != c {
		t.Fatalf("expected client registered under room r1, got %d clients", len(got))
	}
	if rooms, clients := hub.Counts(); rooms != 1 || clients != 1 {
		t.Fatalf("counts = (%d, %d), want (1, 1)", rooms, clients)
	}

	hub.Remove(c)
	if got := hub.RoomClients("r1"); len(got) != 0 {
		t.Fatalf("expected empty room after remove, got %d clients", len(got))
	}
	if rooms, clients := hub.Counts(); rooms != 0 || clients != 0 {
		t.Fatalf("counts = (%d, %d), want (0, 0)", rooms, clients)
	}
}

func TestHubAddAndRemovePresenceClient(t *testing.T) {
	hub := NewHub()
	c := &Client{Kind: KindPresence, UserID: "u1"}

	hub.Add(c)
	if got := hub.UserClients("u1"); len(got) != 1 || got[0] != c {
		t.Fatalf("expected client registered under user u1, got %d clients", len(got))
	}

	hub.Remove(c)
	if got := hub.UserClients("u1"); len(got) != 0 {
		t.Fatalf("expected user entry gone after remove, got %d clients", len(got))
	}
}

func TestHubMultipleClientsPerRoom(t *testing.T) {
	hub := NewHub()
	a := &Client{Kind: KindChat, RoomID: "r1", UserID: "u1"}
	b := &Client{Kind: KindChat, RoomID: "r1", UserID: "u2"}
	other := &Client{Kind: KindChat, RoomID: "r2", UserID: "u3"}

	hub.Add(a)
	hub.Add(b)
	hub.Add(other)

	if got := hub.RoomClients("r1"); len(got) != 2 {
		t.Fatalf("room r1 has %d clients, want 2", len(got))
	}
	if rooms, clients := hub.Counts(); rooms != 2 || clients != 3 {
		t.Fatalf("counts = (%d, %d), want (2, 3)", rooms, clients)
	}

	hub.Remove(a)
	if got := hub.RoomClients("r1"); len(got) != 1 || got[0] != b {
		t.Fatalf("expected only the second client left in r1")
	}
}

func TestHubMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub()
	phone := &Client{Kind: KindPresence, UserID: "u1"}
	laptop := &Client{Kind: KindPresence, UserID: "u1"}

	hub.Add(phone)
	hub.Add(laptop)
	if got := hub.UserClients("u1"); len(got) != 2 {
		t.Fatalf("user u1 has %d connections, want 2", len(got))
	}

	hub.Remove(phone)
	if got := hub.UserClients("u1"); len(got) != 1 || got[0] != laptop {
		t.Fatalf("expected only the laptop connection left")
	}
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := &Client{Kind: KindChat, RoomID: "r1", UserID: "u1"}

	hub.Add(c)
	hub.Remove(c)
	hub.Remove(c)
	hub.Remove(&Client{Kind: KindChat, RoomID: "never-added"})

	if rooms, clients := hub.Counts(); rooms != 0 || clients != 0 {
		t.Fatalf("counts = (%d, %d), want (0, 0)", rooms, clients)
	}
}

func TestHubSnapshotsAreCopies(t *testing.T) {
	hub := NewHub()
	c := &Client{Kind: KindChat, RoomID: "r1", UserID: "u1"}
	hub.Add(c)

	snap := hub.RoomClients("r1")
	snap[0] = nil
	if got := hub.RoomClients("r1"); len(got) != 1 || got[0] != c {
		t.Fatalf("mutating a snapshot leaked into the registry")
	}
}

func TestHubConcurrentChurn(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chat := &Client{Kind: KindChat, RoomID: "r1", UserID: "u1"}
			pres := &Client{Kind: KindPresence, UserID: "u1"}
			hub.Add(chat)
			hub.Add(pres)
			hub.RoomClients("r1")
			hub.UserClients("u1")
			hub.Remove(chat)
			hub.Remove(pres)
		}()
	}
	wg.Wait()

	if rooms, clients := hub.Counts(); rooms != 0 || clients != 0 {
		t.Fatalf("hub not empty after churn: %d rooms, %d clients", rooms, clients)
	}
}
