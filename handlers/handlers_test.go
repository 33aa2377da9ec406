package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/database"
	"taskboard/handlers"
	"taskboard/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	projects := database.NewProjectStore(db)
	users := database.NewUserStore(db)
	auth := services.NewAuthService(users, "test-secret", time.Hour)
	relay := services.NewRelay()

	r := mux.NewRouter()
	handlers.Register(r, auth, projects, relay)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func login(t *testing.T, srv *httptest.Server, email, name string) (token, userID string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "",
		map[string]string{"email": email, "password": "pw", "name": name})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	return out.Token, out.User.ID
}

func createProject(t *testing.T, srv *httptest.Server, token, name string) *database.Project {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/projects", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var p database.Project
	require.NoError(t, json.Unmarshal(body, &p))
	return &p
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := services.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, ws *websocket.Conn) services.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err, "expected an event")
	var env services.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

// assertNoEvent poisons the connection's read state on timeout, so call it
// only as the final read on a connection.
func assertNoEvent(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, frame, err := ws.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected event: %s", frame)
	}
}

// joinAndSync joins both connections to the project and proves, via cursor
// round-trips, that the server has processed both memberships.
func joinAndSync(t *testing.T, projectID string, a, b *websocket.Conn) {
	t.Helper()
	sendEvent(t, a, services.EventJoinProject, services.JoinLeave{ProjectID: projectID})
	sendEvent(t, b, services.EventJoinProject, services.JoinLeave{ProjectID: projectID})

	sendEvent(t, a, services.EventCursorMove, services.CursorMove{ProjectID: projectID, X: 1, Y: 1, Name: "sync"})
	require.Equal(t, services.EventCursorUpdate, readEvent(t, b).Event)
	sendEvent(t, b, services.EventCursorMove, services.CursorMove{ProjectID: projectID, X: 1, Y: 1, Name: "sync"})
	require.Equal(t, services.EventCursorUpdate, readEvent(t, a).Event)
}

func TestConnectionGate(t *testing.T) {
	srv := newTestServer(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"

	for name, url := range map[string]string{
		"missing token": base,
		"garbage token": base + "?token=garbage",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, name)
		require.NotNil(t, resp, name)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
	}

	token, _ := login(t, srv, "alice@example.com", "Alice")
	ws := dialWS(t, srv, token)
	ws.Close()
}

func TestExpiredTokenRefusedAtConnect(t *testing.T) {
	srv := newTestServer(t)

	// token signed with the right secret but already expired
	expired := services.NewAuthService(nil, "test-secret", -time.Minute)
	token, err := expired.CreateToken(services.Identity{UserID: "u1"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRESTRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/projects", "bad-token", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTaskAddedBroadcast(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := login(t, srv, "alice@example.com", "Alice")
	bobToken, _ := login(t, srv, "bob@example.com", "Bob")

	project := createProject(t, srv, aliceToken, "P1")

	aliceWS := dialWS(t, srv, aliceToken)
	bobWS := dialWS(t, srv, bobToken)
	joinAndSync(t, project.ID, aliceWS, bobWS)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/tasks", aliceToken,
		map[string]any{"columnId": "todo", "task": map[string]string{"title": "Write spec"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	env := readEvent(t, bobWS)
	assert.Equal(t, services.EventTaskAdded, env.Event)
	var doc database.Project
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	require.Len(t, doc.Columns[1].Tasks, 1)
	assert.Equal(t, "todo", doc.Columns[1].ID)
	assert.Equal(t, "Write spec", doc.Columns[1].Tasks[0].Title)

	// the originator never receives its own mutation
	assertNoEvent(t, aliceWS)
}

func TestLeaveStopsBroadcasts(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := login(t, srv, "alice@example.com", "Alice")
	carolToken, _ := login(t, srv, "carol@example.com", "Carol")

	project := createProject(t, srv, carolToken, "P1")

	aliceWS := dialWS(t, srv, aliceToken)
	carolWS := dialWS(t, srv, carolToken)
	joinAndSync(t, project.ID, aliceWS, carolWS)

	// leave, then prove the leave was processed before mutating
	sendEvent(t, aliceWS, services.EventLeaveProject, services.JoinLeave{ProjectID: project.ID})
	sendEvent(t, aliceWS, services.EventCursorMove, services.CursorMove{ProjectID: project.ID, X: 2, Y: 2, Name: "sync"})
	require.Equal(t, services.EventCursorUpdate, readEvent(t, carolWS).Event)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/projects/"+project.ID, carolToken,
		map[string]string{"name": "renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assertNoEvent(t, aliceWS)
}

func TestProjectCreatedReachesAllConnections(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := login(t, srv, "alice@example.com", "Alice")
	bobToken, _ := login(t, srv, "bob@example.com", "Bob")

	aliceWS := dialWS(t, srv, aliceToken)
	bobWS := dialWS(t, srv, bobToken)
	// round-trip through a lobby room to be sure both registrations landed
	joinAndSync(t, "lobby", aliceWS, bobWS)

	project := createProject(t, srv, aliceToken, "Fresh board")

	env := readEvent(t, bobWS)
	assert.Equal(t, services.EventProjectCreated, env.Event)
	var doc database.Project
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, project.ID, doc.ID)
	assert.Equal(t, "Fresh board", doc.Name)

	assertNoEvent(t, aliceWS)
}

func TestProjectDeletedBroadcastCarriesIDOnly(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := login(t, srv, "alice@example.com", "Alice")
	bobToken, _ := login(t, srv, "bob@example.com", "Bob")

	project := createProject(t, srv, aliceToken, "P1")

	aliceWS := dialWS(t, srv, aliceToken)
	bobWS := dialWS(t, srv, bobToken)
	joinAndSync(t, project.ID, aliceWS, bobWS)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/projects/"+project.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := readEvent(t, bobWS)
	assert.Equal(t, services.EventProjectDeleted, env.Event)
	var ref services.ProjectRef
	require.NoError(t, json.Unmarshal(env.Data, &ref))
	assert.Equal(t, project.ID, ref.ID)
}

func TestCursorRelay(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, aliceID := login(t, srv, "alice@example.com", "Alice")
	bobToken, _ := login(t, srv, "bob@example.com", "Bob")

	project := createProject(t, srv, aliceToken, "P1")

	aliceWS := dialWS(t, srv, aliceToken)
	bobWS := dialWS(t, srv, bobToken)
	joinAndSync(t, project.ID, aliceWS, bobWS)

	for i := 1; i <= 3; i++ {
		sendEvent(t, aliceWS, services.EventCursorMove, services.CursorMove{
			ProjectID: project.ID, X: float64(i * 10), Y: float64(i * 20), Name: "Alice",
		})
	}

	var last services.CursorUpdate
	for i := 0; i < 3; i++ {
		env := readEvent(t, bobWS)
		require.Equal(t, services.EventCursorUpdate, env.Event)
		require.NoError(t, json.Unmarshal(env.Data, &last))
	}
	assert.Equal(t, aliceID, last.UserID)
	assert.Equal(t, 30.0, last.X)
	assert.Equal(t, 60.0, last.Y)
	assert.Equal(t, "Alice", last.Name)

	// sender gets nothing back
	assertNoEvent(t, aliceWS)
}

func TestMoveTaskEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "alice@example.com", "Alice")
	project := createProject(t, srv, token, "P1")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/tasks", token,
		map[string]any{"columnId": "todo", "task": map[string]string{"title": "Ship"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc database.Project
	require.NoError(t, json.Unmarshal(body, &doc))
	taskID := doc.Columns[1].Tasks[0].ID

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/projects/"+project.ID+"/move-task", token,
		map[string]string{"taskId": taskID, "fromColumnId": "todo", "toColumnId": "done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &doc))

	// the moved task shows up in exactly one column
	seen := 0
	for _, col := range doc.Columns {
		for _, task := range col.Tasks {
			if task.ID == taskID {
				seen++
				assert.Equal(t, "done", col.ID)
			}
		}
	}
	assert.Equal(t, 1, seen)
}

func TestMutationErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "alice@example.com", "Alice")
	project := createProject(t, srv, token, "P1")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"update missing project", http.MethodPut, "/api/projects/missing", map[string]string{"name": "x"}, http.StatusNotFound},
		{"delete missing project", http.MethodDelete, "/api/projects/missing", nil, http.StatusNotFound},
		{"add task to missing project", http.MethodPost, "/api/projects/missing/tasks",
			map[string]any{"columnId": "todo", "task": map[string]string{"title": "x"}}, http.StatusNotFound},
		{"add task to missing column", http.MethodPost, "/api/projects/" + project.ID + "/tasks",
			map[string]any{"columnId": "archive", "task": map[string]string{"title": "x"}}, http.StatusNotFound},
		{"add task without title", http.MethodPost, "/api/projects/" + project.ID + "/tasks",
			map[string]any{"columnId": "todo", "task": map[string]string{}}, http.StatusBadRequest},
		{"update missing task", http.MethodPut, "/api/projects/" + project.ID + "/tasks/missing",
			map[string]string{"title": "x"}, http.StatusNotFound},
		{"delete missing task", http.MethodDelete, "/api/projects/" + project.ID + "/tasks/missing", nil, http.StatusNotFound},
		{"move missing task", http.MethodPost, "/api/projects/" + project.ID + "/move-task",
			map[string]string{"taskId": "missing", "fromColumnId": "todo", "toColumnId": "done"}, http.StatusNotFound},
		{"create project without name", http.MethodPost, "/api/projects", map[string]string{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, tc.method, srv.URL+tc.path, token, tc.body)
		assert.Equal(t, tc.status, resp.StatusCode, fmt.Sprintf("%s: %s", tc.name, body))
	}
}

func TestListProjects(t *testing.T) {
	srv := newTestServer(t)
	token, _ := login(t, srv, "alice@example.com", "Alice")

	createProject(t, srv, token, "one")
	createProject(t, srv, token, "two")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/projects", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var projects []database.Project
	require.NoError(t, json.Unmarshal(body, &projects))
	require.Len(t, projects, 2)
	assert.Equal(t, "one", projects[0].Name)
	assert.Equal(t, "two", projects[1].Name)
}

func TestVerifyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token, userID := login(t, srv, "alice@example.com", "Alice")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, userID, out["userId"])
	assert.Equal(t, "Alice", out["name"])
	assert.Equal(t, "valid", out["status"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/auth/verify", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv, "alice@example.com", "Alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "",
		map[string]string{"email": "alice@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
