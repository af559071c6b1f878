package models

import (
	"database/sql"
	"time"
)

// Message kinds accepted from clients. System messages are server-issued only.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeVideo  = "video"
	MessageTypeAudio  = "audio"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// ValidMessageType reports whether clients may submit the given kind.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Message is a stored chat message. Content is an opaque client-encrypted
// payload; the server never inspects it, only carries it together with the
// client-computed integrity hash.
type Message struct {
	ID               string         `db:"id" json:"message_id"`
	RoomID           string         `db:"room_id" json:"room_id"`
	SenderID         string         `db:"sender_id" json:"sender_id"`
	SenderUsername   string         `db:"sender_username" json:"sender_username"`
	MessageType      string         `db:"message_type" json:"message_type"`
	EncryptedContent string         `db:"encrypted_content" json:"encrypted_content"`
	ContentHash      string         `db:"content_hash" json:"content_hash"`
	ReplyTo          sql.NullString `db:"reply_to" json:"-"`
	IsEdited         bool           `db:"is_edited" json:"is_edited"`
	IsDeleted        bool           `db:"is_deleted" json:"is_deleted"`
	CreatedAt        time.Time      `db:"created_at" json:"timestamp"`
	EditedAt         sql.NullTime   `db:"edited_at" json:"-"`
}

// ReplyToID returns the reply target as a plain string, empty when unset.
func (m Message) ReplyToID() string {
	if m.ReplyTo.Valid {
		return m.ReplyTo.String
	}
	return ""
}

// Read-marker states, mirroring the delivery lifecycle of a message for a
// single recipient. Sent is the schema default before any marker is written.
const (
	ReadStatusSent      = "sent"
	ReadStatusDelivered = "delivered"
	ReadStatusRead      = "read"
)
