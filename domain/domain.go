package domain

// Message is the wire format for both inbound client actions and outbound
// frames. Optional fields are pointers so "absent" and "zero" stay distinct.
type Message struct {
	Type  string         `json:"type"`
	Src   *string        `json:"src,omitempty"`
	Time  *float64       `json:"time,omitempty"`
	State *PlaybackState `json:"state,omitempty"`
}

// PlaybackState is the shared playback record of a room. Exactly one exists
// per room; it is mutated only through Registry.Update.
type PlaybackState struct {
	Playing   bool    `json:"playing"`
	Time      float64 `json:"time"`
	UpdatedAt int64   `json:"updatedAt"`
	Src       *string `json:"src"`
}

type Connection interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

// Registry owns the room map, each room's client set and its PlaybackState.
type Registry interface {
	// Register adds the connection to its room, creating the room if needed.
	// When greeting is non-nil it builds the frame the new client receives;
	// the registry delivers it while still holding the room lock, so the
	// client sees the join-time state before any later action's echo.
	Register(conn Connection, greeting func(PlaybackState) []byte)
	Unregister(conn Connection)
	// Broadcast delivers data to every open client in the room except exclude
	// (nil excludes nobody). Delivery is best-effort.
	Broadcast(roomID string, data []byte, exclude Connection)
	State(roomID string) (PlaybackState, bool)
	Update(roomID string, fn func(*PlaybackState)) (PlaybackState, bool)
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	// Greeting builds the frame a newly joined client receives; Registry
	// delivers it during Register under the room lock.
	Greeting(state PlaybackState) []byte
	Handle(conn Connection, data []byte)
}
