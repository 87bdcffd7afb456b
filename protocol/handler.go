package protocol

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Smail9/watchparty/domain"
)

type Handler struct {
	registry domain.Registry
	now      func() int64
}

func NewHandler(r domain.Registry) *Handler {
	return &Handler{
		registry: r,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Greeting builds the syncState frame for a joining client. The registry
// delivers it under the room lock, so the client holds the exact join-time
// state before any other member's action echo arrives.
func (h *Handler) Greeting(state domain.PlaybackState) []byte {
	data, err := json.Marshal(domain.Message{Type: "syncState", State: &state})
	if err != nil {
		slog.Warn("marshal error", "error", err)
		return nil
	}
	return data
}

// Handle dispatches one inbound frame. Malformed JSON and unknown types are
// dropped without a reply; the connection stays open.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch msg.Type {
	case "setSource", "play", "pause", "seek":
		if _, ok := h.registry.Update(conn.Room(), func(st *domain.PlaybackState) {
			apply(st, msg, h.now())
		}); !ok {
			return
		}

		echo, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("marshal error", "clientId", conn.ID(), "error", err)
			return
		}
		if msg.Type == "setSource" {
			// The sender gets the echo too, so everyone converges on the
			// post-reset state.
			h.registry.Broadcast(conn.Room(), echo, nil)
		} else {
			h.registry.Broadcast(conn.Room(), echo, conn)
		}
	case "syncRequest":
		if state, ok := h.registry.State(conn.Room()); ok {
			h.sendState(conn, state)
		}
	default:
		slog.Debug("unknown message type", "clientId", conn.ID(), "type", msg.Type)
	}
}

func (h *Handler) sendState(conn domain.Connection, state domain.PlaybackState) {
	frame := h.Greeting(state)
	if frame == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		slog.Debug("sync send dropped", "clientId", conn.ID(), "error", err)
	}
}
