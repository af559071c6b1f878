package ws

import (
	"context"
	"time"

	"realtime-service/internal/observability"
)

// publishLifecycle mirrors connection lifecycle transitions onto the event
// exchange so downstream analytics see connects, disconnects and errors.
func publishLifecycle(ctx context.Context, kind string, scopeID string, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": scopeID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"username":  info.Username,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(kind, event)
}

func wsRoutingKey(kind string) string {
	if kind == KindPresence {
		return "ws_events.presence"
	}
	return "ws_events.rooms"
}
