package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

// BroadcastEvent implements broadcast.Broadcaster. The envelope type is the
// event type and the payload is the whole event.
func (h *Hub) BroadcastEvent(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal ws event", "type", ev.Type, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    string(ev.Type),
		Payload: json.RawMessage(data),
	})
}
