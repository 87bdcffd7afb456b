package protocol

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Smail9/watchparty/domain"
	"github.com/Smail9/watchparty/hub"
)

type mockConn struct {
	id   string
	room string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string   { return m.id }
func (m *mockConn) Room() string { return m.room }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type broadcastCall struct {
	roomID    string
	data      []byte
	excludeID string // "" when exclude was nil
}

type mockRegistry struct {
	states     map[string]*domain.PlaybackState
	broadcasts []broadcastCall
	mu         sync.Mutex
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{states: map[string]*domain.PlaybackState{}}
}

func (m *mockRegistry) Register(conn domain.Connection, greeting func(domain.PlaybackState) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[conn.Room()]
	if !ok {
		st = &domain.PlaybackState{}
		m.states[conn.Room()] = st
	}
	if greeting != nil {
		if frame := greeting(*st); frame != nil {
			conn.Send(frame)
		}
	}
}

func (m *mockRegistry) Unregister(conn domain.Connection) {}

func (m *mockRegistry) Broadcast(roomID string, data []byte, exclude domain.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := broadcastCall{roomID: roomID, data: data}
	if exclude != nil {
		call.excludeID = exclude.ID()
	}
	m.broadcasts = append(m.broadcasts, call)
}

func (m *mockRegistry) State(roomID string) (domain.PlaybackState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[roomID]
	if !ok {
		return domain.PlaybackState{}, false
	}
	return *st, true
}

func (m *mockRegistry) Update(roomID string, fn func(*domain.PlaybackState)) (domain.PlaybackState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[roomID]
	if !ok {
		return domain.PlaybackState{}, false
	}
	fn(st)
	return *st, true
}

func (m *mockRegistry) Stats() (int, int) { return 0, 0 }

func (m *mockRegistry) getBroadcasts() []broadcastCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts
}

func (m *mockRegistry) roomState(t *testing.T, roomID string) domain.PlaybackState {
	t.Helper()
	st, ok := m.State(roomID)
	require.True(t, ok)
	return st
}

func joinedConn(registry *mockRegistry, id, room string) *mockConn {
	conn := &mockConn{id: id, room: room}
	registry.Register(conn, nil)
	return conn
}

func TestHandler_Open(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := &mockConn{id: "client1", room: "room1"}

	registry.Register(conn, handler.Greeting)

	sent := conn.getSent()
	require.Len(t, sent, 1)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(sent[0], &msg))
	assert.Equal(t, "syncState", msg.Type)
	require.NotNil(t, msg.State)
	assert.False(t, msg.State.Playing)
	assert.Equal(t, 0.0, msg.State.Time)
	assert.Nil(t, msg.State.Src)
}

func TestHandler_SetSourceBroadcastsToAll(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte(`{"type":"setSource","src":"http://x/video.mp4"}`))

	st := registry.roomState(t, "room1")
	require.NotNil(t, st.Src)
	assert.Equal(t, "http://x/video.mp4", *st.Src)
	assert.False(t, st.Playing)
	assert.Equal(t, 0.0, st.Time)
	assert.Positive(t, st.UpdatedAt)

	broadcasts := registry.getBroadcasts()
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "room1", broadcasts[0].roomID)
	assert.Empty(t, broadcasts[0].excludeID, "setSource must reach the sender too")

	var echo domain.Message
	require.NoError(t, json.Unmarshal(broadcasts[0].data, &echo))
	assert.Equal(t, "setSource", echo.Type)
	require.NotNil(t, echo.Src)
	assert.Equal(t, "http://x/video.mp4", *echo.Src)
}

func TestHandler_PlayExcludesSender(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte(`{"type":"play","time":12.5}`))

	st := registry.roomState(t, "room1")
	assert.True(t, st.Playing)
	assert.Equal(t, 12.5, st.Time)

	broadcasts := registry.getBroadcasts()
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "client1", broadcasts[0].excludeID)

	var echo domain.Message
	require.NoError(t, json.Unmarshal(broadcasts[0].data, &echo))
	assert.Equal(t, "play", echo.Type)
	require.NotNil(t, echo.Time)
	assert.Equal(t, 12.5, *echo.Time)
}

func TestHandler_PauseAndSeekExcludeSender(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte(`{"type":"pause","time":3}`))
	handler.Handle(conn, []byte(`{"type":"seek","time":45}`))

	st := registry.roomState(t, "room1")
	assert.False(t, st.Playing)
	assert.Equal(t, 45.0, st.Time)

	broadcasts := registry.getBroadcasts()
	require.Len(t, broadcasts, 2)
	for _, call := range broadcasts {
		assert.Equal(t, "client1", call.excludeID)
	}
}

func TestHandler_SyncRequestRepliesToSenderOnly(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte(`{"type":"play","time":12.5}`))
	handler.Handle(conn, []byte(`{"type":"syncRequest"}`))

	sent := conn.getSent()
	require.Len(t, sent, 1)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(sent[0], &msg))
	assert.Equal(t, "syncState", msg.Type)
	require.NotNil(t, msg.State)
	assert.True(t, msg.State.Playing)
	assert.Equal(t, 12.5, msg.State.Time)

	// The play broadcast is the only fan-out; syncRequest adds none.
	assert.Len(t, registry.getBroadcasts(), 1)
}

func TestHandler_InvalidJSON(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte("not json"))

	st := registry.roomState(t, "room1")
	assert.Equal(t, domain.PlaybackState{}, st)
	assert.Empty(t, conn.getSent())
	assert.Empty(t, registry.getBroadcasts())
}

func TestHandler_UnknownType(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	conn := joinedConn(registry, "client1", "room1")

	handler.Handle(conn, []byte(`{"type":"shuffle"}`))

	assert.Equal(t, domain.PlaybackState{}, registry.roomState(t, "room1"))
	assert.Empty(t, conn.getSent())
	assert.Empty(t, registry.getBroadcasts())
}

func TestHandler_JoinSyncPrecedesActions(t *testing.T) {
	// Against the real registry: a client joining mid-session must get the
	// join-time syncState strictly before any other member's action echo.
	registry := hub.New(hub.DefaultTTL)
	handler := NewHandler(registry)

	a := &mockConn{id: "a", room: "r1"}
	registry.Register(a, handler.Greeting)
	handler.Handle(a, []byte(`{"type":"setSource","src":"http://x/video.mp4"}`))

	b := &mockConn{id: "b", room: "r1"}
	registry.Register(b, handler.Greeting)
	handler.Handle(a, []byte(`{"type":"play","time":12.5}`))

	frames := b.getSent()
	require.Len(t, frames, 2)

	var first domain.Message
	require.NoError(t, json.Unmarshal(frames[0], &first))
	require.Equal(t, "syncState", first.Type, "join state must arrive before any action echo")
	require.NotNil(t, first.State)
	assert.False(t, first.State.Playing)
	assert.Equal(t, 0.0, first.State.Time)
	require.NotNil(t, first.State.Src)
	assert.Equal(t, "http://x/video.mp4", *first.State.Src)

	var second domain.Message
	require.NoError(t, json.Unmarshal(frames[1], &second))
	assert.Equal(t, "play", second.Type)
	require.NotNil(t, second.Time)
	assert.Equal(t, 12.5, *second.Time)
}

func TestHandler_ActionForVanishedRoom(t *testing.T) {
	registry := newMockRegistry()
	handler := NewHandler(registry)
	// Never registered: the room does not exist, so the action is dropped.
	conn := &mockConn{id: "client1", room: "gone"}

	handler.Handle(conn, []byte(`{"type":"play","time":1}`))

	assert.Empty(t, registry.getBroadcasts())
}
