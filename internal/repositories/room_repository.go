package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	IsParticipant(ctx context.Context, roomID string, userID string) (bool, error)
	Participants(ctx context.Context, roomID string) ([]models.Participant, error)
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
	RoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	TouchRoom(ctx context.Context, roomID string) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetRoom fetches an active room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, room_type, created_by, created_at, updated_at, is_active FROM rooms WHERE id=$1 AND is_active = TRUE`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
        SELECT 1 FROM room_participants rp
        JOIN rooms rm ON rm.id = rp.room_id
        WHERE rp.room_id=$1 AND rp.user_id=$2 AND rm.is_active = TRUE)`, roomID, userID)
	return exists, err
}

// Participants returns everyone enrolled in the room.
func (r *RoomRepo) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.SelectContext(ctx, &participants, `SELECT room_id, user_id, username, role, joined_at
        FROM room_participants WHERE room_id=$1 ORDER BY joined_at ASC`, roomID)
	return participants, err
}

// RoomIDsForUser lists the active rooms a user is a participant of.
func (r *RoomRepo) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT rp.room_id FROM room_participants rp
        JOIN rooms rm ON rm.id = rp.room_id
        WHERE rp.user_id=$1 AND rm.is_active = TRUE
        ORDER BY rm.updated_at DESC`, userID)
	return ids, err
}

// RoomsForUser lists the active rooms a user belongs to, most recently
// active first.
func (r *RoomRepo) RoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT rm.id, rm.name, rm.room_type, rm.created_by, rm.created_at, rm.updated_at, rm.is_active
        FROM rooms rm
        JOIN room_participants rp ON rp.room_id = rm.id
        WHERE rp.user_id=$1 AND rm.is_active = TRUE
        ORDER BY rm.updated_at DESC`, userID)
	return rooms, err
}

// TouchRoom bumps the room's updated_at so recent activity sorts first.
func (r *RoomRepo) TouchRoom(ctx context.Context, roomID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rooms SET updated_at = NOW() WHERE id=$1`, roomID)
	return err
}
