package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskboard/database"
	"taskboard/services"
)

// Connect establishes the realtime connection for the current session and
// starts merging broadcasts into the local cache. One connection per login;
// reconnecting replaces the previous one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	old := c.ws
	c.mu.Unlock()
	if token == "" {
		return ErrSessionExpired
	}
	if old != nil {
		old.Close()
	}

	wsURL, err := c.websocketURL(token)
	if err != nil {
		return err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// The gate refused the credential: treat as session expiry.
			c.expireSession()
			return ErrSessionExpired
		}
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

// Connected reports whether a realtime connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// JoinProject subscribes this connection to a project's broadcast group.
func (c *Client) JoinProject(projectID string) error {
	return c.send(services.EventJoinProject, services.JoinLeave{ProjectID: projectID})
}

// LeaveProject unsubscribes from a project's broadcast group.
func (c *Client) LeaveProject(projectID string) error {
	return c.send(services.EventLeaveProject, services.JoinLeave{ProjectID: projectID})
}

// SendCursor emits the local pointer position to other viewers of the
// project. Throttled: at most one emission per 50ms window, excess samples
// are dropped without error.
func (c *Client) SendCursor(projectID string, x, y float64, name string) error {
	if !c.limiter.Allow() {
		return nil
	}
	return c.send(services.EventCursorMove, services.CursorMove{
		ProjectID: projectID,
		X:         x,
		Y:         y,
		Name:      name,
	})
}

func (c *Client) send(event string, data any) error {
	frame, err := services.Encode(event, data)
	if err != nil {
		return err
	}

	// gorilla/websocket allows a single concurrent writer
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				c.expireSession()
			}
			c.mu.Lock()
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			return
		}
		c.apply(frame)
	}
}

// apply merges one relay frame into the local cache. Mutation payloads are
// complete documents, so merging is replacement by id.
func (c *Client) apply(frame []byte) {
	var env services.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Errorf("malformed frame from server: %v", err)
		return
	}

	switch env.Event {
	case services.EventProjectCreated, services.EventProjectUpdated,
		services.EventTaskAdded, services.EventTaskUpdated,
		services.EventTaskDeleted, services.EventTaskMoved:
		var p database.Project
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ID == "" {
			log.Errorf("malformed %s payload: %v", env.Event, err)
			return
		}
		c.mu.Lock()
		c.projects[p.ID] = &p
		c.mu.Unlock()
	case services.EventProjectDeleted:
		var ref services.ProjectRef
		if err := json.Unmarshal(env.Data, &ref); err != nil || ref.ID == "" {
			log.Errorf("malformed %s payload: %v", env.Event, err)
			return
		}
		c.mu.Lock()
		delete(c.projects, ref.ID)
		c.mu.Unlock()
	case services.EventCursorUpdate:
		var cu services.CursorUpdate
		if err := json.Unmarshal(env.Data, &cu); err != nil || cu.UserID == "" {
			log.Errorf("malformed %s payload: %v", env.Event, err)
			return
		}
		// Last write wins per sender identity.
		c.mu.Lock()
		c.cursors[cu.UserID] = cu
		c.mu.Unlock()
	default:
		log.Debugf("ignoring unknown event %q", env.Event)
	}
}

func (c *Client) websocketURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
