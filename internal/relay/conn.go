package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hari1098/snaptalks/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Conn is one participant's websocket connection to the relay.
type Conn struct {
	ID   string
	hub  *Hub
	ws   *websocket.Conn
	send chan *signaling.Message
	log  *slog.Logger

	// Owned by the hub goroutine.
	roomID string
	role   signaling.Role
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	return &Conn{
		ID:   id,
		hub:  hub,
		ws:   ws,
		send: make(chan *signaling.Message, sendBuffer),
		log:  hub.log.With("conn", id, "remote", ws.RemoteAddr().String()),
	}
}

type inbound struct {
	conn *Conn
	msg  *signaling.Message
}

// readPump forwards messages from the websocket to the hub until the
// connection fails, then unregisters.
func (c *Conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg signaling.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		select {
		case c.hub.inbound <- inbound{conn: c, msg: &msg}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump writes queued messages and pings. It exits when the hub closes send.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Warn("write failed", "type", msg.Type, "error", err)
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
