package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotMessageSender = errors.New("user is not the message sender")
)

const messageColumns = `id, room_id, sender_id, sender_username, message_type, encrypted_content, content_hash, reply_to, is_edited, is_deleted, created_at, edited_at`

// MessageRepository defines interactions for room messages and read markers.
// Mutations are scoped to a room so a connection can never reach past the
// room it joined.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	Edit(ctx context.Context, messageID string, roomID string, senderID string, encryptedContent string, contentHash string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID string, roomID string, senderID string) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	RecentHistory(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	HistoryBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID string, roomID string, userID string) error
	SeedDelivered(ctx context.Context, messageID string, roomID string, senderID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a new message and returns the persisted row.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (id, room_id, sender_id, sender_username, message_type, encrypted_content, content_hash, reply_to)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderUsername, msg.MessageType, msg.EncryptedContent, msg.ContentHash, msg.ReplyTo).
		StructScan(&stored)
	return stored, err
}

// Edit replaces the payload of a message. Only the original sender may edit,
// and deleted messages stay closed to edits.
func (r *MessageRepo) Edit(ctx context.Context, messageID string, roomID string, senderID string, encryptedContent string, contentHash string) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET encrypted_content=$4, content_hash=$5, is_edited = TRUE, edited_at = NOW()
        WHERE id=$1 AND room_id=$2 AND sender_id=$3 AND is_deleted = FALSE
        RETURNING `+messageColumns, messageID, roomID, senderID, encryptedContent, contentHash).
		StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, r.classifyMiss(ctx, messageID, roomID)
	}
	return stored, err
}

// SoftDelete tombstones a message and blanks its payload. Only the sender may delete.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID string, roomID string, senderID string) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET is_deleted = TRUE, encrypted_content = '', content_hash = ''
        WHERE id=$1 AND room_id=$2 AND sender_id=$3
        RETURNING `+messageColumns, messageID, roomID, senderID).
		StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, r.classifyMiss(ctx, messageID, roomID)
	}
	return stored, err
}

// GetMessage retrieves a single message by id.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// RecentHistory returns the latest non-deleted messages of a room, oldest first.
func (r *MessageRepo) RecentHistory(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
        SELECT ` + messageColumns + ` FROM messages
        WHERE room_id=$1 AND is_deleted = FALSE
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    ) recent ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}

// HistoryBefore pages backwards through the room's non-deleted messages,
// returning the slice older than the cursor in oldest-first order.
func (r *MessageRepo) HistoryBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
        SELECT ` + messageColumns + ` FROM messages
        WHERE room_id=$1 AND is_deleted = FALSE AND created_at < $2
        ORDER BY created_at DESC, id DESC
        LIMIT $3
    ) recent ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, before, limit)
	return msgs, err
}

// MarkRead upserts a read marker for the user on the message.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID string, roomID string, userID string) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, status)
        SELECT id, $3, $4 FROM messages WHERE id=$1 AND room_id=$2
        ON CONFLICT (message_id, user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`,
		messageID, roomID, userID, models.ReadStatusRead)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SeedDelivered records a delivered marker for every room participant except the sender.
// Existing markers are left alone so a read never regresses to delivered.
func (r *MessageRepo) SeedDelivered(ctx context.Context, messageID string, roomID string, senderID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, status)
        SELECT $1, user_id, $4 FROM room_participants WHERE room_id=$2 AND user_id<>$3
        ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, roomID, senderID, models.ReadStatusDelivered)
	return err
}

// classifyMiss distinguishes a missing message from a sender mismatch after a
// zero-row update. A message outside the room counts as missing.
func (r *MessageRepo) classifyMiss(ctx context.Context, messageID string, roomID string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND room_id=$2)`, messageID, roomID); err != nil {
		return err
	}
	if !exists {
		return ErrMessageNotFound
	}
	return ErrNotMessageSender
}
