package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-service/internal/auth"
	"realtime-service/internal/broker"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/presence"
	"realtime-service/internal/repositories"
)

// Notifier is told about stored messages so recipients who are not in the
// room right now still hear about them.
type Notifier interface {
	NewMessage(ctx context.Context, msg models.Message)
}

// SessionConfig carries the per-connection tunables shared by both websocket
// endpoints.
type SessionConfig struct {
	IdleTimeout  time.Duration
	SendBuffer   int
	HistoryLimit int
}

// ChatHandler runs the chat websocket protocol: one connection per room per
// client, fan-out through the broker so every server instance serving the
// room delivers the same frames.
type ChatHandler struct {
	hub      *Hub
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	verifier auth.Verifier
	broker   broker.Broker
	tracker  *presence.Tracker
	notifier Notifier
	cfg      SessionConfig
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(hub *Hub, rooms repositories.RoomRepository, messages repositories.MessageRepository, verifier auth.Verifier, b broker.Broker, tracker *presence.Tracker, notifier Notifier, cfg SessionConfig) *ChatHandler {
	return &ChatHandler{hub: hub, rooms: rooms, messages: messages, verifier: verifier, broker: b, tracker: tracker, notifier: notifier, cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, walks it through authentication and
// membership, then runs the session until the peer goes away. Auth and
// membership rejections are close frames so browser clients can read the
// code.
func (h *ChatHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	if uuid.Validate(roomID) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("realtime-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := auth.TokenFromRequest(c.GetHeader("Authorization"), c.Query("token"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		rejectConn(conn, CloseAuthFailure, "authentication failed")
		return
	}

	member, err := h.rooms.IsParticipant(ctx, roomID, identity.UserID)
	if err != nil {
		log.Printf("ws: membership check for %s in %s: %v", identity.UserID, roomID, err)
		rejectConn(conn, websocket.CloseInternalServerErr, "membership check failed")
		return
	}
	if !member {
		rejectConn(conn, CloseNotMember, "not a participant of this room")
		return
	}

	info := ConnInfoFromRequest(c.Request, identity.UserID, identity.Username, span.SpanContext().TraceID().String())
	client := NewClient(KindChat, identity.UserID, identity.Username, roomID, conn, info, h.cfg.IdleTimeout, h.cfg.SendBuffer)
	client.Start()

	h.runSession(client)
}

// rejectConn refuses an upgraded socket before any session state exists.
func rejectConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}

func (h *ChatHandler) runSession(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Add(client)
	observability.IncWSActive(KindChat)
	publishLifecycle(ctx, KindChat, client.RoomID, "ws_connect", client.Info, "")

	closeCode, closeReason := websocket.CloseNormalClosure, ""
	joined := false
	var sub broker.Subscription

	defer func() {
		// Close the socket before the subscription so the relay's own close
		// on a finished feed never beats the real close code to the peer.
		client.Close(closeCode, closeReason)
		if sub != nil {
			_ = sub.Close()
		}
		h.hub.Remove(client)
		if joined {
			if h.tracker.ClearTyping(client.UserID, client.RoomID) {
				h.broadcastTyping(ctx, client, false)
			}
			h.announceLeave(ctx, client)
		}
		observability.DecWSActive(KindChat)
		publishLifecycle(ctx, KindChat, client.RoomID, "ws_disconnect", client.Info, closeReason)
	}()

	sub, err := h.broker.Subscribe(ctx, broker.RoomTopic(client.RoomID))
	if err != nil {
		log.Printf("ws: subscribe room %s: %v", client.RoomID, err)
		closeCode, closeReason = websocket.CloseInternalServerErr, "room subscription unavailable"
		return
	}
	joined = true

	h.announceJoin(ctx, client)

	if err := h.replayHistory(ctx, client); err != nil {
		log.Printf("ws: replay history for %s: %v", client.RoomID, err)
		h.sendError(client, ErrCodeStore, "history unavailable")
	}

	go relayEnvelopes(sub, client)

	for {
		data, err := client.ReadMessage()
		if err != nil {
			closeCode = closeCodeForReadErr(err)
			switch closeCode {
			case CloseIdleTimeout:
				closeReason = "idle timeout"
			case websocket.CloseNormalClosure:
			default:
				closeReason = err.Error()
				publishLifecycle(ctx, KindChat, client.RoomID, "ws_error", client.Info, closeReason)
			}
			return
		}
		client.RefreshDeadline()
		h.tracker.Touch(client.UserID)
		h.dispatch(ctx, client, data)
	}
}

// dispatch routes one inbound frame. Rejections go to the sender only and
// never close the connection.
func (h *ChatHandler) dispatch(ctx context.Context, client *Client, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendError(client, ErrCodeValidation, "malformed frame")
		return
	}
	if code, reason, ok := frame.Validate(); !ok {
		h.sendError(client, code, reason)
		return
	}

	switch frame.Type {
	case TypeChatMessage:
		h.handleSend(ctx, client, frame)
	case TypeMessageEdit:
		h.handleEdit(ctx, client, frame)
	case TypeMessageDelete:
		h.handleDelete(ctx, client, frame)
	case TypeMessageRead:
		h.handleRead(ctx, client, frame)
	case TypeTypingStart:
		h.tracker.SetTyping(client.UserID, client.RoomID)
		h.broadcastTyping(ctx, client, true)
	case TypeTypingStop:
		h.tracker.ClearTyping(client.UserID, client.RoomID)
		h.broadcastTyping(ctx, client, false)
	}
}

func (h *ChatHandler) handleSend(ctx context.Context, client *Client, f InboundFrame) {
	msgType := f.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	msg := models.Message{
		RoomID:           client.RoomID,
		SenderID:         client.UserID,
		SenderUsername:   client.Username,
		MessageType:      msgType,
		EncryptedContent: f.EncryptedContent,
		ContentHash:      f.ContentHash,
	}
	if f.ReplyTo != "" {
		msg.ReplyTo = h.resolveReply(ctx, client.RoomID, f.ReplyTo)
	}

	stored, err := h.messages.Append(ctx, msg)
	if err != nil {
		log.Printf("ws: append message in %s: %v", client.RoomID, err)
		h.sendError(client, ErrCodeStore, "message could not be stored")
		return
	}
	if err := h.messages.SeedDelivered(ctx, stored.ID, client.RoomID, client.UserID); err != nil {
		log.Printf("ws: seed delivered markers for %s: %v", stored.ID, err)
	}
	if err := h.rooms.TouchRoom(ctx, client.RoomID); err != nil {
		log.Printf("ws: touch room %s: %v", client.RoomID, err)
	}

	// The broadcast includes the sender: the echoed frame with the
	// server-assigned id and timestamp is the delivery confirmation.
	if err := h.broadcast(ctx, client, TypeChatMessage, NewMessageFrame(stored), false); err != nil {
		h.sendError(client, ErrCodeDelivery, "message stored but not delivered")
		return
	}

	if h.notifier != nil {
		h.notifier.NewMessage(ctx, stored)
	}
}

// resolveReply keeps a reply reference only when the target message exists in
// the sender's room. Unknown or foreign targets are dropped and the message
// stored without the reference.
func (h *ChatHandler) resolveReply(ctx context.Context, roomID, replyTo string) sql.NullString {
	ref, err := h.messages.GetMessage(ctx, replyTo)
	if err != nil {
		if !errors.Is(err, repositories.ErrMessageNotFound) {
			log.Printf("ws: resolve reply %s: %v", replyTo, err)
		}
		return sql.NullString{}
	}
	if ref.RoomID != roomID {
		return sql.NullString{}
	}
	return sql.NullString{String: replyTo, Valid: true}
}

func (h *ChatHandler) handleEdit(ctx context.Context, client *Client, f InboundFrame) {
	stored, err := h.messages.Edit(ctx, f.MessageID, client.RoomID, client.UserID, f.EncryptedContent, f.ContentHash)
	if err != nil {
		h.sendStoreError(client, err, "edit")
		return
	}
	frame := MessageEditedFrame{Type: TypeMessageEdited, Message: NewMessageFrame(stored)}
	if err := h.broadcast(ctx, client, TypeMessageEdited, frame, false); err != nil {
		h.sendError(client, ErrCodeDelivery, "edit stored but not delivered")
	}
}

func (h *ChatHandler) handleDelete(ctx context.Context, client *Client, f InboundFrame) {
	stored, err := h.messages.SoftDelete(ctx, f.MessageID, client.RoomID, client.UserID)
	if err != nil {
		h.sendStoreError(client, err, "delete")
		return
	}
	frame := MessageDeletedFrame{Type: TypeMessageDeleted, MessageID: stored.ID, RoomID: client.RoomID, DeletedBy: client.UserID}
	if err := h.broadcast(ctx, client, TypeMessageDeleted, frame, false); err != nil {
		h.sendError(client, ErrCodeDelivery, "delete stored but not delivered")
	}
}

func (h *ChatHandler) handleRead(ctx context.Context, client *Client, f InboundFrame) {
	err := h.messages.MarkRead(ctx, f.MessageID, client.RoomID, client.UserID)
	if err != nil {
		h.sendStoreError(client, err, "mark read")
	}
}

func (h *ChatHandler) broadcastTyping(ctx context.Context, client *Client, typing bool) {
	frame := TypingFrame{
		Type:     TypeTypingIndicator,
		RoomID:   client.RoomID,
		UserID:   client.UserID,
		Username: client.Username,
		IsTyping: typing,
	}
	// Typing is ephemeral; a failed publish is logged but not reported back.
	_ = h.broadcast(ctx, client, TypeTypingIndicator, frame, true)
}

func (h *ChatHandler) announceJoin(ctx context.Context, client *Client) {
	frame := RoomEventFrame{Type: TypeUserJoined, RoomID: client.RoomID, UserID: client.UserID, Username: client.Username}
	_ = h.broadcast(ctx, client, TypeUserJoined, frame, true)
}

func (h *ChatHandler) announceLeave(ctx context.Context, client *Client) {
	frame := RoomEventFrame{Type: TypeUserLeft, RoomID: client.RoomID, UserID: client.UserID, Username: client.Username}
	_ = h.broadcast(ctx, client, TypeUserLeft, frame, true)
}

func (h *ChatHandler) broadcast(ctx context.Context, client *Client, frameType string, frame any, suppressActor bool) error {
	env, err := NewEnvelope(frameType, client.RoomID, client.UserID, client.Username, suppressActor, frame)
	if err != nil {
		return err
	}
	return publishEnvelope(ctx, h.broker, broker.RoomTopic(client.RoomID), env)
}

// sendStoreError maps repository errors onto error frames.
func (h *ChatHandler) sendStoreError(client *Client, err error, action string) {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		h.sendError(client, ErrCodeValidation, "unknown message")
	case errors.Is(err, repositories.ErrNotMessageSender):
		h.sendError(client, ErrCodePermission, "only the sender may "+action+" a message")
	default:
		log.Printf("ws: %s failed for %s: %v", action, client.UserID, err)
		h.sendError(client, ErrCodeStore, action+" failed")
	}
}

func (h *ChatHandler) sendError(client *Client, code string, message string) {
	if err := client.SendJSON(NewErrorFrame(code, message)); err != nil {
		log.Printf("ws: send error frame to %s: %v", client.ID, err)
	}
}

func (h *ChatHandler) replayHistory(ctx context.Context, client *Client) error {
	history, err := h.messages.RecentHistory(ctx, client.RoomID, h.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	for _, msg := range history {
		if err := client.SendJSON(NewMessageFrame(msg)); err != nil {
			return err
		}
	}
	return nil
}
