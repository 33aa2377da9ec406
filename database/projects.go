package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ProjectStore persists project documents in sqlite, one JSON blob per row.
type ProjectStore struct {
	db *sql.DB
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// List returns every project in creation order.
func (s *ProjectStore) List() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT data FROM projects ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		var p Project
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode project document: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read project rows: %w", err)
	}

	return projects, nil
}

// Get loads a single project document by id.
func (s *ProjectStore) Get(id string) (*Project, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM projects WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	var p Project
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to decode project document: %w", err)
	}
	return &p, nil
}

// Create inserts a new board with the fixed column set and returns it.
func (s *ProjectStore) Create(name string) (*Project, error) {
	p := NewProject(name)
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode project document: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO projects (id, data) VALUES (?, ?)`, p.ID, string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return p, nil
}

// Save rewrites an existing project document.
func (s *ProjectStore) Save(p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project document: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE projects SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(data), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// Delete removes a project document by id.
func (s *ProjectStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProjectNotFound
	}
	return nil
}
