package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/broker"
	"realtime-service/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds one inbound frame. Content is client-encrypted
	// and base64 inflated, so the ceiling is generous.
	maxMessageSize = 64 << 10
)

// Connection kinds.
const (
	KindChat     = "chat"
	KindPresence = "presence"
)

var ErrClientClosed = errors.New("client connection closed")

// Client is one registered websocket connection. All outbound traffic goes
// through a buffered send channel drained by a single write pump, so any
// goroutine may enqueue frames without racing on the socket.
type Client struct {
	ID       string
	UserID   string
	Username string
	Kind     string
	RoomID   string // chat connections only
	Info     ConnInfo

	conn   *websocket.Conn
	idle   time.Duration
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewClient wraps an upgraded connection. idle bounds how long the peer may
// stay silent (counting pongs) before reads fail; buffer bounds outbound
// backlog before the peer is considered too slow.
func NewClient(kind string, userID string, username string, roomID string, conn *websocket.Conn, info ConnInfo, idle time.Duration, buffer int) *Client {
	c := &Client{
		ID:       info.ConnID,
		UserID:   userID,
		Username: username,
		Kind:     kind,
		RoomID:   roomID,
		Info:     info,
		conn:     conn,
		idle:     idle,
		send:     make(chan []byte, buffer),
		closed:   make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	return c
}

// Start launches the write pump. Call exactly once per client.
func (c *Client) Start() {
	go c.writeLoop()
}

// ReadMessage blocks for the next inbound frame.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// RefreshDeadline pushes the read deadline forward after inbound activity.
func (c *Client) RefreshDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idle))
}

// Send enqueues a raw frame. If the peer is slow and the buffer is full the
// connection is closed to keep backpressure bounded.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	case c.send <- frame:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrClientClosed
	}
}

// SendJSON marshals v and enqueues it.
func (c *Client) SendJSON(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Close terminates the connection and stops the write pump. Safe to call
// more than once; only the first code and reason reach the peer.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// relayEnvelopes forwards broker envelopes to the client until the
// subscription or the client closes, honoring actor echo suppression. A feed
// that ends while the connection is still up takes the connection down with
// it; reconnecting beats sitting on a socket that silently stopped receiving.
func relayEnvelopes(sub broker.Subscription, c *Client) {
	for env := range sub.Events() {
		if env.SuppressActor && env.ActorID == c.UserID {
			continue
		}
		observability.IncRelayedEvent(c.Kind, env.Type)
		if err := c.Send(env.Frame); err != nil {
			return
		}
	}
	c.Close(websocket.CloseGoingAway, "event stream closed")
}
