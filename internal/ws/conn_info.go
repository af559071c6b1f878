package ws

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// ConnInfo is the request metadata pinned to a connection for the lifetime
// of its session, mirrored onto lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// ConnInfoFromRequest captures handshake metadata for a new connection.
func ConnInfoFromRequest(r *http.Request, userID string, username string, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Username:    username,
		DeviceID:    r.Header.Get("X-Device-Id"),
		IP:          clientIP(r),
		RequestID:   r.Header.Get("X-Request-Id"),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
