package presence

import (
	"context"
	"log"
	"time"
)

// RoomLister names the rooms a user participates in.
type RoomLister interface {
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// AnnounceFunc publishes the offline announcement for one departed user to
// the rooms given. Failures are handled by the callee; the sweep moves on.
type AnnounceFunc func(ctx context.Context, userID string, username string, roomIDs []string)

// Sweeper periodically expires stale presence entries and announces each
// departure to the departed user's rooms.
type Sweeper struct {
	tracker  *Tracker
	rooms    RoomLister
	announce AnnounceFunc
	interval time.Duration
}

// NewSweeper constructs a Sweeper.
func NewSweeper(tracker *Tracker, rooms RoomLister, announce AnnounceFunc, interval time.Duration) *Sweeper {
	return &Sweeper{tracker: tracker, rooms: rooms, announce: announce, interval: interval}
}

// Run blocks, sweeping on the interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, dep := range s.tracker.SweepStale(time.Now()) {
		roomIDs, err := s.rooms.RoomIDsForUser(ctx, dep.UserID)
		if err != nil {
			log.Printf("presence: list rooms for %s: %v", dep.UserID, err)
			continue
		}
		s.announce(ctx, dep.UserID, dep.Username, roomIDs)
	}
}
