package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realtime-service/internal/broker"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
)

// Close codes beyond the RFC 6455 set. 4001 and 4003 are what deployed
// clients already expect on auth and membership rejection.
const (
	CloseAuthFailure   = 4001
	CloseProtocolError = 4002
	CloseNotMember     = 4003
	CloseIdleTimeout   = 4008
)

// Frame type discriminators, client to server.
const (
	TypeChatMessage   = "chat_message"
	TypeTypingStart   = "typing_start"
	TypeTypingStop    = "typing_stop"
	TypeMessageRead   = "message_read"
	TypeMessageEdit   = "message_edit"
	TypeMessageDelete = "message_delete"
	TypeHeartbeat     = "heartbeat"
)

// Frame type discriminators, server to client. TypeChatMessage appears in
// both directions.
const (
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeTypingIndicator = "typing_indicator"
	TypeNotification    = "notification"
	TypeHeartbeatAck    = "heartbeat_ack"
	TypeError           = "error"
)

// Error frame codes.
const (
	ErrCodeValidation  = "validation_failed"
	ErrCodePermission  = "permission_denied"
	ErrCodeStore       = "store_failed"
	ErrCodeDelivery    = "delivery_failed"
	ErrCodeUnsupported = "unsupported_type"
)

// InboundFrame is the superset of fields a client may send; Type selects
// which ones apply.
type InboundFrame struct {
	Type             string `json:"type"`
	EncryptedContent string `json:"encrypted_content"`
	ContentHash      string `json:"content_hash"`
	MessageType      string `json:"message_type"`
	ReplyTo          string `json:"reply_to"`
	MessageID        string `json:"message_id"`
}

// ErrorFrame is sent only to the offending connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(code string, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// MessageFrame carries one stored message. It doubles as the replay format:
// history is replayed as ordinary chat_message frames and clients dedupe by
// message_id.
type MessageFrame struct {
	Type             string    `json:"type"`
	MessageID        string    `json:"message_id"`
	RoomID           string    `json:"room_id"`
	SenderID         string    `json:"sender_id"`
	SenderUsername   string    `json:"sender_username"`
	EncryptedContent string    `json:"encrypted_content"`
	ContentHash      string    `json:"content_hash"`
	MessageType      string    `json:"message_type"`
	Timestamp        time.Time `json:"timestamp"`
	IsEdited         bool      `json:"is_edited"`
	ReplyTo          string    `json:"reply_to,omitempty"`
}

// NewMessageFrame converts a stored message into its wire form.
func NewMessageFrame(msg models.Message) MessageFrame {
	return MessageFrame{
		Type:             TypeChatMessage,
		MessageID:        msg.ID,
		RoomID:           msg.RoomID,
		SenderID:         msg.SenderID,
		SenderUsername:   msg.SenderUsername,
		EncryptedContent: msg.EncryptedContent,
		ContentHash:      msg.ContentHash,
		MessageType:      msg.MessageType,
		Timestamp:        msg.CreatedAt,
		IsEdited:         msg.IsEdited,
		ReplyTo:          msg.ReplyToID(),
	}
}

// MessageEditedFrame wraps the updated message.
type MessageEditedFrame struct {
	Type    string       `json:"type"`
	Message MessageFrame `json:"message"`
}

// MessageDeletedFrame announces a soft delete.
type MessageDeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	DeletedBy string `json:"deleted_by"`
}

// RoomEventFrame announces joins and leaves.
type RoomEventFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TypingFrame broadcasts a typing indicator.
type TypingFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// HeartbeatAckFrame answers a heartbeat.
type HeartbeatAckFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks an inbound chat frame. It returns the error code and
// message for the rejection frame when the shape is invalid.
func (f *InboundFrame) Validate() (code string, reason string, ok bool) {
	switch f.Type {
	case TypeChatMessage:
		if f.EncryptedContent == "" {
			return ErrCodeValidation, "encrypted_content is required", false
		}
		if f.ContentHash == "" {
			return ErrCodeValidation, "content_hash is required", false
		}
		if f.MessageType != "" && !models.ValidMessageType(f.MessageType) {
			return ErrCodeValidation, "unknown message_type", false
		}
		if f.ReplyTo != "" && uuid.Validate(f.ReplyTo) != nil {
			return ErrCodeValidation, "reply_to is not a valid message id", false
		}
	case TypeMessageEdit:
		if uuid.Validate(f.MessageID) != nil {
			return ErrCodeValidation, "message_id is required", false
		}
		if f.EncryptedContent == "" {
			return ErrCodeValidation, "encrypted_content is required", false
		}
		if f.ContentHash == "" {
			return ErrCodeValidation, "content_hash is required", false
		}
	case TypeMessageRead, TypeMessageDelete:
		if uuid.Validate(f.MessageID) != nil {
			return ErrCodeValidation, "message_id is required", false
		}
	case TypeTypingStart, TypeTypingStop:
	default:
		// heartbeat included: it belongs to the presence channel.
		return ErrCodeUnsupported, "unrecognized frame type " + f.Type, false
	}
	return "", "", true
}

// NewEnvelope marshals the frame and wraps it for broker fan-out.
func NewEnvelope(frameType string, roomID string, actorID string, actorName string, suppress bool, frame any) (broker.Envelope, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return broker.Envelope{}, err
	}
	return broker.Envelope{
		Type:          frameType,
		RoomID:        roomID,
		ActorID:       actorID,
		ActorName:     actorName,
		SuppressActor: suppress,
		Frame:         raw,
	}, nil
}

// publishEnvelope sends the envelope and records the outcome.
func publishEnvelope(ctx context.Context, b broker.Broker, topic string, env broker.Envelope) error {
	err := b.Publish(ctx, topic, env)
	observability.IncBrokerPublish(err == nil)
	if err != nil {
		log.Printf("ws: publish %s on %s: %v", env.Type, topic, err)
	}
	return err
}

// AnnounceOffline publishes a user_left to each of the user's rooms after
// their presence lapsed. Shared by presence teardown and the staleness sweep.
func AnnounceOffline(ctx context.Context, b broker.Broker, userID string, username string, roomIDs []string) {
	for _, roomID := range roomIDs {
		frame := RoomEventFrame{Type: TypeUserLeft, RoomID: roomID, UserID: userID, Username: username}
		env, err := NewEnvelope(TypeUserLeft, roomID, userID, username, true, frame)
		if err != nil {
			log.Printf("ws: marshal offline announcement: %v", err)
			return
		}
		_ = publishEnvelope(ctx, b, broker.RoomTopic(roomID), env)
	}
}

// closeCodeForReadErr maps a failed read to the close code the peer gets.
// 1006 is reserved and never written; anything that is not a clean close or
// an idle timeout counts as a protocol failure.
func closeCodeForReadErr(err error) int {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return websocket.CloseNormalClosure
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return CloseIdleTimeout
	}
	return CloseProtocolError
}
