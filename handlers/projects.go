package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"taskboard/database"
	"taskboard/services"
)

// ProjectHandler translates board commands into store mutations and notifies
// the relay after each durable write. Persistence is the correctness
// boundary: a failed broadcast never affects the response.
type ProjectHandler struct {
	projects *database.ProjectStore
	relay    *services.Relay
}

func NewProjectHandler(projects *database.ProjectStore, relay *services.Relay) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		relay:    relay,
	}
}

// List returns every project.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List()
	if err != nil {
		log.Errorf("failed to list projects: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// Create makes a new board with the fixed column set. The creation event
// goes to every live connection: no one can have joined a project that did
// not exist yet.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "project name required")
		return
	}

	project, err := h.projects.Create(req.Name)
	if err != nil {
		log.Errorf("failed to create project: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	h.relay.BroadcastAll(services.EventProjectCreated, project, identity.UserID)
	writeJSON(w, http.StatusCreated, project)
}

// Update renames a project.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	id := mux.Vars(r)["id"]

	var req struct {
		Name *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	project, err := h.projects.Get(id)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "project name required")
			return
		}
		project.Name = *req.Name
	}

	if err := h.projects.Save(project); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(project.ID, services.EventProjectUpdated, project, identity.UserID)
	writeJSON(w, http.StatusOK, project)
}

// Delete removes a project. The deletion event carries the id alone.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.projects.Delete(id); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(id, services.EventProjectDeleted, services.ProjectRef{ID: id}, identity.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Project deleted"})
}

// AddTask appends a new task to a column.
func (h *ProjectHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	projectID := mux.Vars(r)["projectId"]

	var req struct {
		ColumnID string        `json:"columnId"`
		Task     database.Task `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if req.Task.Title == "" {
		writeError(w, http.StatusBadRequest, "task title required")
		return
	}

	project, err := h.projects.Get(projectID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if _, err := project.AddTask(req.ColumnID, req.Task); err != nil {
		h.storeError(w, err)
		return
	}

	if err := h.projects.Save(project); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(project.ID, services.EventTaskAdded, project, identity.UserID)
	writeJSON(w, http.StatusOK, project)
}

// UpdateTask merges an edit into a task wherever it lives.
func (h *ProjectHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	vars := mux.Vars(r)
	projectID, taskID := vars["projectId"], vars["taskId"]

	var updates database.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if updates.Title != nil && *updates.Title == "" {
		writeError(w, http.StatusBadRequest, "task title required")
		return
	}

	project, err := h.projects.Get(projectID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if err := project.UpdateTask(taskID, updates); err != nil {
		h.storeError(w, err)
		return
	}

	if err := h.projects.Save(project); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(project.ID, services.EventTaskUpdated, project, identity.UserID)
	writeJSON(w, http.StatusOK, project)
}

// DeleteTask removes a task from the board.
func (h *ProjectHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	vars := mux.Vars(r)
	projectID, taskID := vars["projectId"], vars["taskId"]

	project, err := h.projects.Get(projectID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if err := project.RemoveTask(taskID); err != nil {
		h.storeError(w, err)
		return
	}

	if err := h.projects.Save(project); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(project.ID, services.EventTaskDeleted, project, identity.UserID)
	writeJSON(w, http.StatusOK, project)
}

// MoveTask transfers a task between columns. Subscribers only ever see the
// pre-move or post-move document, never a torn state.
func (h *ProjectHandler) MoveTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	projectID := mux.Vars(r)["projectId"]

	var req struct {
		TaskID       string `json:"taskId"`
		FromColumnID string `json:"fromColumnId"`
		ToColumnID   string `json:"toColumnId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	project, err := h.projects.Get(projectID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	if err := project.MoveTask(req.TaskID, req.FromColumnID, req.ToColumnID); err != nil {
		h.storeError(w, err)
		return
	}

	if err := h.projects.Save(project); err != nil {
		h.storeError(w, err)
		return
	}

	h.relay.Broadcast(project.ID, services.EventTaskMoved, project, identity.UserID)
	writeJSON(w, http.StatusOK, project)
}

// storeError maps store and model errors onto status codes.
func (h *ProjectHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, database.ErrColumnNotFound):
		writeError(w, http.StatusNotFound, "Column not found")
	case errors.Is(err, database.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	default:
		log.Errorf("store error: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
