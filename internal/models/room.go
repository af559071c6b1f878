package models

import "time"

// Room type discriminators. A private room holds exactly the mentor and the
// talent it was created for; group rooms may hold more.
const (
	RoomTypePrivate = "private"
	RoomTypeGroup   = "group"
)

// Room represents a chat context shared by its participants.
type Room struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name,omitempty"`
	RoomType  string    `db:"room_type" json:"room_type"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
}

// Participant is a user's membership record in a room.
type Participant struct {
	RoomID   string    `db:"room_id" json:"room_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	Username string    `db:"username" json:"username"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
