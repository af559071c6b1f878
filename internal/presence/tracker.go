package presence

import (
	"sync"
	"time"
)

// Departure identifies a user whose presence lapsed.
type Departure struct {
	UserID   string
	Username string
}

type entry struct {
	username  string
	conns     map[string]struct{}
	lastBeat  time.Time
	announced bool // offline announcement already emitted for this lapse
}

// Tracker maintains online state and heartbeat freshness per user. A user is
// online while at least one presence connection is registered and the latest
// heartbeat falls inside the staleness window. All methods are safe for
// concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	users     map[string]*entry
	typing    map[string]map[string]struct{} // userID -> roomIDs typing in
	staleness time.Duration
}

// NewTracker constructs a Tracker with the given staleness window.
func NewTracker(staleness time.Duration) *Tracker {
	return &Tracker{
		users:     make(map[string]*entry),
		typing:    make(map[string]map[string]struct{}),
		staleness: staleness,
	}
}

// OnConnect records a presence connection for the user and refreshes liveness.
func (t *Tracker) OnConnect(userID string, username string, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		t.users[userID] = e
	}
	if username != "" {
		e.username = username
	}
	e.conns[connID] = struct{}{}
	e.lastBeat = time.Now()
	e.announced = false
}

// OnDisconnect drops the connection and reports whether the user just went
// offline and still needs an announcement. Unknown connections are a no-op.
func (t *Tracker) OnDisconnect(userID string, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		return false
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return false
	}
	wentOffline := !e.announced
	delete(t.users, userID)
	return wentOffline
}

// Heartbeat refreshes the user's liveness. Beats older than the stored one
// are ignored so duplicates and reordering cannot move time backwards.
// Returns whether the beat was applied.
func (t *Tracker) Heartbeat(userID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[userID]
	if !ok {
		return false
	}
	if at.Before(e.lastBeat) {
		return false
	}
	e.lastBeat = at
	e.announced = false
	return true
}

// Touch refreshes liveness from non-heartbeat activity, e.g. chat traffic.
// Users without a presence connection are left alone.
func (t *Tracker) Touch(userID string) {
	t.Heartbeat(userID, time.Now())
}

// IsOnline reports whether the user currently counts as online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.users[userID]
	return ok && len(e.conns) > 0 && time.Since(e.lastBeat) <= t.staleness
}

// OnlineCount returns how many users currently count as online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.users {
		if len(e.conns) > 0 && time.Since(e.lastBeat) <= t.staleness {
			n++
		}
	}
	return n
}

// SetTyping marks the user as typing in the room.
func (t *Tracker) SetTyping(userID string, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms, ok := t.typing[userID]
	if !ok {
		rooms = make(map[string]struct{})
		t.typing[userID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// ClearTyping removes the typing mark and reports whether it was set, so a
// disconnect can tell whether a stop indicator still needs to go out.
func (t *Tracker) ClearTyping(userID string, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms, ok := t.typing[userID]
	if !ok {
		return false
	}
	if _, was := rooms[roomID]; !was {
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(t.typing, userID)
	}
	return true
}

// SweepStale marks users whose heartbeat lapsed as offline and returns each
// one exactly once per lapse. Connections themselves are closed by their own
// read deadlines; the sweep only settles presence state.
func (t *Tracker) SweepStale(now time.Time) []Departure {
	t.mu.Lock()
	defer t.mu.Unlock()
	var gone []Departure
	for userID, e := range t.users {
		if len(e.conns) == 0 || e.announced {
			continue
		}
		if now.Sub(e.lastBeat) <= t.staleness {
			continue
		}
		e.announced = true
		gone = append(gone, Departure{UserID: userID, Username: e.username})
	}
	return gone
}
