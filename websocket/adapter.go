package websocket

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Smail9/watchparty/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultReadLimit = 4096
)

type Conn struct {
	id        string
	room      string
	ws        *websocket.Conn
	send      chan []byte
	readLimit int64
	registry  domain.Registry
	handler   domain.MessageHandler
}

func NewConn(id, room string, ws *websocket.Conn, readLimit int64, reg domain.Registry, h domain.MessageHandler) *Conn {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Conn{
		id:        id,
		room:      room,
		ws:        ws,
		send:      make(chan []byte, 256),
		readLimit: readLimit,
		registry:  reg,
		handler:   h,
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() string { return c.room }

// Send enqueues data for the write pump. A full buffer counts as a failed
// best-effort delivery.
func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Start registers the connection with its room and begins pumping. The
// initial syncState is built and enqueued inside Register under the room
// lock, so it always lands in the send channel ahead of any action echo.
func (c *Conn) Start() {
	go c.writePump()
	c.registry.Register(c, c.handler.Greeting)
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
