package services

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB
)

// Conn is one realtime session, bound to a single authenticated identity for
// its entire lifetime.
type Conn struct {
	relay    *Relay
	ws       *websocket.Conn
	send     chan []byte
	identity Identity
}

func NewConn(relay *Relay, ws *websocket.Conn, identity Identity) *Conn {
	return &Conn{
		relay:    relay,
		ws:       ws,
		send:     make(chan []byte, 256),
		identity: identity,
	}
}

func (c *Conn) Identity() Identity {
	return c.identity
}

// ReadPump pumps inbound frames from the websocket to the relay. Exits on
// any read error; the deferred Unregister cleans up every group membership.
func (c *Conn) ReadPump() {
	defer func() {
		c.relay.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("websocket error: %v", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Errorf("malformed frame from %s: %v", c.identity.UserID, err)
			continue
		}

		switch env.Event {
		case EventJoinProject:
			var jl JoinLeave
			if err := json.Unmarshal(env.Data, &jl); err != nil || jl.ProjectID == "" {
				log.Errorf("malformed %s from %s", env.Event, c.identity.UserID)
				continue
			}
			c.relay.Join(c, jl.ProjectID)
		case EventLeaveProject:
			var jl JoinLeave
			if err := json.Unmarshal(env.Data, &jl); err != nil || jl.ProjectID == "" {
				log.Errorf("malformed %s from %s", env.Event, c.identity.UserID)
				continue
			}
			c.relay.Leave(c, jl.ProjectID)
		case EventCursorMove:
			var move CursorMove
			if err := json.Unmarshal(env.Data, &move); err != nil || move.ProjectID == "" {
				log.Errorf("malformed %s from %s", env.Event, c.identity.UserID)
				continue
			}
			c.relay.relayCursor(c, move)
		default:
			log.Debugf("ignoring unknown event %q from %s", env.Event, c.identity.UserID)
		}
	}
}

// WritePump pumps frames from the relay to the websocket, one frame per
// message, and keeps the connection alive with pings.
func (c *Conn) WritePump() {
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
				// The relay closed the channel
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
