// Package client is a Go client for the taskboard server: it issues REST
// commands, keeps an in-memory cache of project documents, and merges
// relay broadcasts into that cache over a single realtime connection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"taskboard/database"
	"taskboard/services"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrNotFound       = errors.New("not found")
	ErrNotConnected   = errors.New("not connected")
)

// cursorInterval bounds outgoing cursor traffic to 20 events per second;
// samples inside a window are discarded, not queued.
const cursorInterval = 20

// User mirrors the account object the login endpoint returns.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Client holds one login session: a bearer token, the cached board
// documents, the latest cursor per collaborator, and at most one realtime
// connection.
type Client struct {
	baseURL string
	hc      *http.Client

	mu       sync.Mutex
	token    string
	projects map[string]*database.Project
	cursors  map[string]services.CursorUpdate
	ws       *websocket.Conn
	limiter  *rate.Limiter

	// OnSessionExpired fires once when the server refuses this session's
	// credential; local state is already cleared when it runs.
	OnSessionExpired func()
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:  baseURL,
		hc:       http.DefaultClient,
		projects: make(map[string]*database.Project),
		cursors:  make(map[string]services.CursorUpdate),
		limiter:  rate.NewLimiter(rate.Limit(cursorInterval), 1),
	}
}

// Login authenticates (registering the email on first use) and stores the
// returned token for every subsequent call.
func (c *Client) Login(ctx context.Context, email, password, name string) (*User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password, "name": name}, &resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return &resp.User, nil
}

// Logout tears down the realtime connection and clears all local state.
func (c *Client) Logout(ctx context.Context) {
	// Best-effort; the token is stateless server-side.
	c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.reset()
}

func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// LoadProjects fetches every project and replaces the cache wholesale.
func (c *Client) LoadProjects(ctx context.Context) ([]*database.Project, error) {
	var projects []*database.Project
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.projects = make(map[string]*database.Project, len(projects))
	for _, p := range projects {
		c.projects[p.ID] = p
	}
	c.mu.Unlock()
	return projects, nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (*database.Project, error) {
	if name == "" {
		return nil, errors.New("project name required")
	}
	var p database.Project
	err := c.do(ctx, http.MethodPost, "/api/projects", map[string]string{"name": name}, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

func (c *Client) RenameProject(ctx context.Context, id, name string) (*database.Project, error) {
	var p database.Project
	err := c.do(ctx, http.MethodPut, "/api/projects/"+id, map[string]string{"name": name}, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/projects/"+id, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.projects, id)
	c.mu.Unlock()
	return nil
}

// AddTask creates a task in a column. Empty titles are refused locally,
// mirroring the server-side check.
func (c *Client) AddTask(ctx context.Context, projectID, columnID string, task database.Task) (*database.Project, error) {
	if task.Title == "" {
		return nil, errors.New("task title required")
	}
	var p database.Project
	err := c.do(ctx, http.MethodPost, "/api/projects/"+projectID+"/tasks",
		map[string]any{"columnId": columnID, "task": task}, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, updates database.TaskUpdate) (*database.Project, error) {
	var p database.Project
	err := c.do(ctx, http.MethodPut, "/api/projects/"+projectID+"/tasks/"+taskID, updates, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) (*database.Project, error) {
	var p database.Project
	err := c.do(ctx, http.MethodDelete, "/api/projects/"+projectID+"/tasks/"+taskID, nil, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

func (c *Client) MoveTask(ctx context.Context, projectID, taskID, fromColumnID, toColumnID string) (*database.Project, error) {
	var p database.Project
	err := c.do(ctx, http.MethodPost, "/api/projects/"+projectID+"/move-task",
		map[string]string{"taskId": taskID, "fromColumnId": fromColumnID, "toColumnId": toColumnID}, &p)
	if err != nil {
		return nil, err
	}
	c.cacheProject(&p)
	return &p, nil
}

// Project returns the cached document for an id, if any.
func (c *Client) Project(id string) (*database.Project, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projects[id]
	return p, ok
}

// Projects returns a snapshot of the cached documents.
func (c *Client) Projects() []*database.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*database.Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p)
	}
	return out
}

// Cursors returns the latest known cursor per collaborator.
func (c *Client) Cursors() map[string]services.CursorUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]services.CursorUpdate, len(c.cursors))
	for id, cu := range c.cursors {
		out[id] = cu
	}
	return out
}

func (c *Client) cacheProject(p *database.Project) {
	c.mu.Lock()
	c.projects[p.ID] = p
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.expireSession()
		return ErrSessionExpired
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		var e struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// expireSession clears everything and fires the callback, once.
func (c *Client) expireSession() {
	cb := c.OnSessionExpired
	expired := c.reset()
	if expired && cb != nil {
		cb()
	}
}

// reset clears session state; reports whether a session was actually live.
func (c *Client) reset() bool {
	c.mu.Lock()
	hadSession := c.token != ""
	c.token = ""
	c.projects = make(map[string]*database.Project)
	c.cursors = make(map[string]services.CursorUpdate)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	return hadSession
}
