package database

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Task is a unit of work living in exactly one column of a project.
// Deadline is an ISO date string; empty means no deadline.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

// Column is a fixed-identity workflow stage. Task order is display order.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Project is the board document persisted as a whole; the relay only ever
// forwards complete copies of it.
type Project struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// User is an account record. PasswordHash is a bcrypt hash, never exposed.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
}

// TaskUpdate carries a partial task edit; nil fields are left untouched.
type TaskUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Deadline    *string `json:"deadline"`
}

// NewProject creates a board with the fixed four-stage workflow. There is no
// column add/remove path anywhere else.
func NewProject(name string) *Project {
	return &Project{
		ID:   uuid.NewString(),
		Name: name,
		Columns: []Column{
			{ID: "backlog", Title: "Backlog", Tasks: []Task{}},
			{ID: "todo", Title: "To Do", Tasks: []Task{}},
			{ID: "in-progress", Title: "In Progress", Tasks: []Task{}},
			{ID: "done", Title: "Done", Tasks: []Task{}},
		},
	}
}

func (p *Project) column(id string) *Column {
	for i := range p.Columns {
		if p.Columns[i].ID == id {
			return &p.Columns[i]
		}
	}
	return nil
}

// AddTask assigns the task a fresh id and appends it to the named column.
func (p *Project) AddTask(columnID string, task Task) (Task, error) {
	col := p.column(columnID)
	if col == nil {
		return Task{}, ErrColumnNotFound
	}

	task.ID = uuid.NewString()
	col.Tasks = append(col.Tasks, task)
	return task, nil
}

// UpdateTask merges the non-nil fields of updates into the task, wherever it
// currently lives.
func (p *Project) UpdateTask(taskID string, updates TaskUpdate) error {
	for ci := range p.Columns {
		tasks := p.Columns[ci].Tasks
		for ti := range tasks {
			if tasks[ti].ID != taskID {
				continue
			}
			if updates.Title != nil {
				tasks[ti].Title = *updates.Title
			}
			if updates.Description != nil {
				tasks[ti].Description = *updates.Description
			}
			if updates.Deadline != nil {
				tasks[ti].Deadline = *updates.Deadline
			}
			return nil
		}
	}
	return ErrTaskNotFound
}

// RemoveTask deletes the task from whichever column holds it.
func (p *Project) RemoveTask(taskID string) error {
	for ci := range p.Columns {
		tasks := p.Columns[ci].Tasks
		for ti := range tasks {
			if tasks[ti].ID == taskID {
				p.Columns[ci].Tasks = append(tasks[:ti], tasks[ti+1:]...)
				return nil
			}
		}
	}
	return ErrTaskNotFound
}

// MoveTask splices the task out of the source column and appends it to the
// destination. The document never holds the task in two columns at once.
func (p *Project) MoveTask(taskID, fromColumnID, toColumnID string) error {
	from := p.column(fromColumnID)
	to := p.column(toColumnID)
	if from == nil || to == nil {
		return ErrColumnNotFound
	}

	for i := range from.Tasks {
		if from.Tasks[i].ID == taskID {
			task := from.Tasks[i]
			from.Tasks = append(from.Tasks[:i], from.Tasks[i+1:]...)
			to.Tasks = append(to.Tasks, task)
			return nil
		}
	}
	return ErrTaskNotFound
}

// FindTask returns the task and the id of the column holding it.
func (p *Project) FindTask(taskID string) (Task, string, bool) {
	for ci := range p.Columns {
		for _, t := range p.Columns[ci].Tasks {
			if t.ID == taskID {
				return t, p.Columns[ci].ID, true
			}
		}
	}
	return Task{}, "", false
}
