package ws

import "sync"

// Hub is the registry of active websocket clients on this instance, keyed by
// room for chat connections and by user for presence connections. It does
// pure in-memory bookkeeping; no I/O ever happens under its lock.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	users map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		users: make(map[string]map[*Client]struct{}),
	}
}

// Add registers a client under its room or user key.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch c.Kind {
	case KindChat:
		set, ok := h.rooms[c.RoomID]
		if !ok {
			set = make(map[*Client]struct{})
			h.rooms[c.RoomID] = set
		}
		set[c] = struct{}{}
	case KindPresence:
		set, ok := h.users[c.UserID]
		if !ok {
			set = make(map[*Client]struct{})
			h.users[c.UserID] = set
		}
		set[c] = struct{}{}
	}
}

// Remove deregisters a client. Removing an absent client is a no-op, so
// concurrent close paths and cleanup sweeps never conflict.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch c.Kind {
	case KindChat:
		if set, ok := h.rooms[c.RoomID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.rooms, c.RoomID)
			}
		}
	case KindPresence:
		if set, ok := h.users[c.UserID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, c.UserID)
			}
		}
	}
}

// RoomClients returns a snapshot of the chat clients joined to the room.
func (h *Hub) RoomClients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.rooms[roomID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// UserClients returns a snapshot of the user's presence clients.
func (h *Hub) UserClients(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.users[userID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// Counts reports active rooms and total clients for diagnostics.
func (h *Hub) Counts() (rooms int, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms = len(h.rooms)
	for _, set := range h.rooms {
		clients += len(set)
	}
	for _, set := range h.users {
		clients += len(set)
	}
	return rooms, clients
}

// CloseAll force-closes every registered client, e.g. on shutdown. Clients
// are snapshotted first so close callbacks can re-enter Remove safely.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.rooms {
		for c := range set {
			all = append(all, c)
		}
	}
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close(code, reason)
	}
}
