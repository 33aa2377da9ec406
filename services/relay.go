package services

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Relay owns the per-project broadcast groups. One instance is constructed
// per process and injected into the handlers that notify it; it never
// persists anything and never mutates the documents it forwards.
type Relay struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}
}

func NewRelay() *Relay {
	return &Relay{
		conns: make(map[*Conn]struct{}),
		rooms: make(map[string]map[*Conn]struct{}),
	}
}

// Register admits an authenticated connection. Until it joins a project it
// only receives project-created events.
func (r *Relay) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = struct{}{}
	log.Debugf("connection registered: %s", c.identity.UserID)
}

// Unregister removes a connection from every group it belonged to and closes
// its send channel. Safe to call more than once.
func (r *Relay) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(c)
}

// drop removes c everywhere. Caller holds r.mu.
func (r *Relay) drop(c *Conn) {
	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	for projectID, room := range r.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, projectID)
		}
	}
	close(c.send)
	log.Debugf("connection unregistered: %s", c.identity.UserID)
}

// Join adds the connection to a project's broadcast group. Idempotent, and
// additive: joining a second project does not leave the first.
func (r *Relay) Join(c *Conn, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return
	}
	room := r.rooms[projectID]
	if room == nil {
		room = make(map[*Conn]struct{})
		r.rooms[projectID] = room
	}
	room[c] = struct{}{}
}

// Leave removes the connection from a project's broadcast group. Idempotent.
func (r *Relay) Leave(c *Conn, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[projectID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, projectID)
	}
}

// Broadcast fans an event out to every member of the project's group except
// connections bound to excludeUserID (the identity that issued the mutation
// already holds the authoritative result). Best-effort: failures are logged
// and never reported to the caller.
func (r *Relay) Broadcast(projectID, event string, data any, excludeUserID string) {
	frame, err := Encode(event, data)
	if err != nil {
		log.Errorf("broadcast dropped: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOut(r.rooms[projectID], frame, excludeUserID, nil)
}

// BroadcastAll fans an event out to every live connection. Used for
// project-created, which precedes any possible group membership.
func (r *Relay) BroadcastAll(event string, data any, excludeUserID string) {
	frame, err := Encode(event, data)
	if err != nil {
		log.Errorf("broadcast dropped: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOut(r.conns, frame, excludeUserID, nil)
}

// relayCursor forwards a pointer position to every other member of the
// project's group, stamped with the sender's bound identity. The sender
// connection itself is excluded, not its identity: another session of the
// same user still sees the cursor.
func (r *Relay) relayCursor(sender *Conn, move CursorMove) {
	frame, err := Encode(EventCursorUpdate, CursorUpdate{
		UserID: sender.identity.UserID,
		X:      move.X,
		Y:      move.Y,
		Name:   move.Name,
	})
	if err != nil {
		log.Errorf("cursor relay dropped: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanOut(r.rooms[move.ProjectID], frame, "", sender)
}

// fanOut delivers one frame to a membership snapshot. At-most-once: a member
// whose send buffer is full is assumed dead and dropped on the spot.
// Caller holds r.mu.
func (r *Relay) fanOut(targets map[*Conn]struct{}, frame []byte, excludeUserID string, excludeConn *Conn) {
	var dead []*Conn
	for c := range targets {
		if c == excludeConn {
			continue
		}
		if excludeUserID != "" && c.identity.UserID == excludeUserID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			log.Errorf("send buffer full, dropping connection: %s", c.identity.UserID)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		r.drop(c)
	}
}

// joined reports group membership; used by tests.
func (r *Relay) joined(c *Conn, projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[projectID][c]
	return ok
}
