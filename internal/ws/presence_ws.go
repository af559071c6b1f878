package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-service/internal/auth"
	"realtime-service/internal/broker"
	"realtime-service/internal/observability"
	"realtime-service/internal/presence"
	"realtime-service/internal/repositories"
)

// PresenceHandler runs the per-user presence channel: heartbeats in,
// heartbeat acks and relayed notifications out. A user may hold several
// presence connections at once; they stay online until the last one lapses.
type PresenceHandler struct {
	hub      *Hub
	rooms    repositories.RoomRepository
	verifier auth.Verifier
	broker   broker.Broker
	tracker  *presence.Tracker
	cfg      SessionConfig
}

// NewPresenceHandler constructs a PresenceHandler.
func NewPresenceHandler(hub *Hub, rooms repositories.RoomRepository, verifier auth.Verifier, b broker.Broker, tracker *presence.Tracker, cfg SessionConfig) *PresenceHandler {
	return &PresenceHandler{hub: hub, rooms: rooms, verifier: verifier, broker: b, tracker: tracker, cfg: cfg}
}

// Handle upgrades the connection, authenticates it and runs the presence
// session until the peer goes away.
func (h *PresenceHandler) Handle(c *gin.Context) {
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

	info := ConnInfoFromRequest(c.Request, identity.UserID, identity.Username, span.SpanContext().TraceID().String())
	client := NewClient(KindPresence, identity.UserID, identity.Username, "", conn, info, h.cfg.IdleTimeout, h.cfg.SendBuffer)
	client.Start()

	h.runSession(client)
}

func (h *PresenceHandler) runSession(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Add(client)
	h.tracker.OnConnect(client.UserID, client.Username, client.ID)
	observability.IncWSActive(KindPresence)
	observability.SetPresenceOnline(h.tracker.OnlineCount())
	publishLifecycle(ctx, KindPresence, client.UserID, "ws_connect", client.Info, "")

	closeCode, closeReason := websocket.CloseNormalClosure, ""
	var sub broker.Subscription

	defer func() {
		client.Close(closeCode, closeReason)
		if sub != nil {
			_ = sub.Close()
		}
		h.hub.Remove(client)
		if h.tracker.OnDisconnect(client.UserID, client.ID) {
			h.announceOffline(ctx, client)
		}
		observability.DecWSActive(KindPresence)
		observability.SetPresenceOnline(h.tracker.OnlineCount())
		publishLifecycle(ctx, KindPresence, client.UserID, "ws_disconnect", client.Info, closeReason)
	}()

	sub, err := h.broker.Subscribe(ctx, broker.PresenceTopic(client.UserID))
	if err != nil {
		log.Printf("ws: subscribe presence %s: %v", client.UserID, err)
		closeCode, closeReason = websocket.CloseInternalServerErr, "presence subscription unavailable"
		return
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
				publishLifecycle(ctx, KindPresence, client.UserID, "ws_error", client.Info, closeReason)
			}
			return
		}
		client.RefreshDeadline()
		h.handleFrame(client, data)
	}
}

// handleFrame processes one inbound presence frame. The channel tolerates
// noise: anything that is not a heartbeat is dropped without a reply.
func (h *PresenceHandler) handleFrame(client *Client, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Type != TypeHeartbeat {
		return
	}
	now := time.Now()
	h.tracker.Heartbeat(client.UserID, now)
	if err := client.SendJSON(HeartbeatAckFrame{Type: TypeHeartbeatAck, Timestamp: now}); err != nil {
		log.Printf("ws: heartbeat ack to %s: %v", client.ID, err)
	}
}

func (h *PresenceHandler) announceOffline(ctx context.Context, client *Client) {
	roomIDs, err := h.rooms.RoomIDsForUser(ctx, client.UserID)
	if err != nil {
		log.Printf("ws: list rooms for %s: %v", client.UserID, err)
		return
	}
	AnnounceOffline(ctx, h.broker, client.UserID, client.Username, roomIDs)
}
