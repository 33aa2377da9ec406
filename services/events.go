package services

import (
	"encoding/json"
	"fmt"
)

// Server → client events. Every mutation event except project-deleted
// carries the complete post-mutation project document.
const (
	EventProjectCreated = "project-created"
	EventProjectUpdated = "project-updated"
	EventProjectDeleted = "project-deleted"
	EventTaskAdded      = "task-added"
	EventTaskUpdated    = "task-updated"
	EventTaskDeleted    = "task-deleted"
	EventTaskMoved      = "task-moved"
	EventCursorUpdate   = "cursor-update"
)

// Client → server events.
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventCursorMove   = "cursor-move"
)

// Envelope frames every message on the realtime channel: one JSON object per
// websocket text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinLeave is the payload of join-project and leave-project.
type JoinLeave struct {
	ProjectID string `json:"projectId"`
}

// CursorMove is the client-sent pointer position, scoped to one project.
type CursorMove struct {
	ProjectID string  `json:"projectId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Name      string  `json:"name"`
}

// CursorUpdate is the relayed pointer position, stamped with the sender's
// bound identity. Receivers keep only the latest per user.
type CursorUpdate struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Name   string  `json:"name"`
}

// ProjectRef is the payload of project-deleted.
type ProjectRef struct {
	ID string `json:"id"`
}

// Encode marshals an event and payload into a wire frame.
func Encode(event string, data any) ([]byte, error) {
	frame, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return frame, nil
}
