package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Smail9/watchparty/domain"
)

// DefaultTTL is how long an empty room survives before it is removed.
const DefaultTTL = 5 * time.Minute

type room struct {
	clients map[string]domain.Connection
	state   domain.PlaybackState
	closed  bool // set by expire just before the room leaves the map
	mu      sync.RWMutex
}

// Hub is the process-wide room registry. The room map is guarded by h.mu,
// each room's client set and state by the room's own mutex.
type Hub struct {
	rooms map[string]*room
	ttl   time.Duration
	mu    sync.RWMutex
}

func New(ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Hub{
		rooms: make(map[string]*room),
		ttl:   ttl,
	}
}

// Register adds conn to its room, creating the room with the default
// PlaybackState if it does not exist. greeting, when non-nil, builds the
// frame the new client receives; it is invoked and delivered while the room
// lock is still held (Send is a non-blocking handoff), so no concurrent
// action echo can reach the client ahead of its join-time state. If the
// idle-expiry timer closed the room between the two locks, the join retries
// against a fresh map entry instead of landing in the orphaned room.
func (h *Hub) Register(conn domain.Connection, greeting func(domain.PlaybackState) []byte) {
	for {
		h.mu.Lock()
		r, exists := h.rooms[conn.Room()]
		if !exists {
			r = &room{clients: make(map[string]domain.Connection)}
			h.rooms[conn.Room()] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		r.clients[conn.ID()] = conn
		count := len(r.clients)
		if greeting != nil {
			if frame := greeting(r.state); frame != nil {
				if err := conn.Send(frame); err != nil {
					slog.Debug("greeting send dropped", "room", conn.Room(), "clientId", conn.ID(), "error", err)
				}
			}
		}
		r.mu.Unlock()

		slog.Info("client connected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)
		return
	}
}

// Unregister removes conn from its room. When the room empties, removal is
// deferred by the idle TTL: the timer fires unconditionally and the room is
// deleted only if it is still empty then, so a rejoin during the window
// keeps the room alive without any cancellation bookkeeping.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.RLock()
	r, exists := h.rooms[conn.Room()]
	h.mu.RUnlock()

	if !exists {
		return
	}

	r.mu.Lock()
	delete(r.clients, conn.ID())
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client disconnected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)

	if count == 0 {
		roomID := conn.Room()
		time.AfterFunc(h.ttl, func() { h.expire(roomID) })
	}
}

func (h *Hub) expire(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[roomID]
	if !exists {
		return
	}

	// closed is flipped in the same critical section that removes the room
	// from the map, so a Register that already picked up this instance sees
	// the flag and retries.
	r.mu.Lock()
	if len(r.clients) == 0 {
		r.closed = true
		delete(h.rooms, roomID)
		slog.Info("room expired", "room", roomID)
	}
	r.mu.Unlock()
}

// Broadcast fans data out to every client in the room, skipping exclude when
// non-nil. A failed send is dropped; it never aborts delivery to the rest.
func (h *Hub) Broadcast(roomID string, data []byte, exclude domain.Connection) {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, conn := range r.clients {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		if err := conn.Send(data); err != nil {
			slog.Debug("broadcast send dropped", "room", roomID, "clientId", id, "error", err)
		}
	}
}

// State returns a snapshot of the room's PlaybackState.
func (h *Hub) State(roomID string) (domain.PlaybackState, bool) {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return domain.PlaybackState{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, true
}

// Update applies fn to the room's PlaybackState under the room lock and
// returns the post-mutation snapshot.
func (h *Hub) Update(roomID string, fn func(*domain.PlaybackState)) (domain.PlaybackState, bool) {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return domain.PlaybackState{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	return r.state, true
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		clients += len(r.clients)
		r.mu.RUnlock()
	}
	return rooms, clients
}
