package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"testing"

	"crewdesk/internal/config"
	"crewdesk/internal/db"
	"crewdesk/internal/engine"
	"crewdesk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			handler.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

func createProject(t *testing.T, srv *testServer, owner string) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name": "Apollo",
	}, asUser(owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func TestProjectTaskLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "u1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "Ship feature",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "todo" {
		t.Fatalf("task status = %q, want todo", task.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID+"/tasks/"+task.ID, map[string]any{
		"status": "done",
	}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID, nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}
	var got ProjectResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.TasksCount != 1 {
		t.Fatalf("tasks count = %d, want 1", got.TasksCount)
	}
}

func TestTaskPaginationWalkReturnsEveryRow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "u1")
	want := map[string]bool{}
	for _, title := range []string{"first", "second", "third"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
			"title": title,
		}, asUser("u1"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
		}
		var task TaskResponse
		if err := json.Unmarshal(data, &task); err != nil {
			t.Fatalf("unmarshal task: %v", err)
		}
		want[task.ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatalf("pagination did not terminate")
		}
		url := srv.URL + "/v0/projects/" + p.ID + "/tasks?limit=2"
		if cursor != "" {
			url += "&cursor=" + neturl.QueryEscape(cursor)
		}
		res, data := doJSON(t, client, http.MethodGet, url, nil, asUser("u1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
		}
		var page paginatedTasks
		if err := json.Unmarshal(data, &page); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("task %s returned twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != len(want) {
		t.Fatalf("paginated listing returned %d distinct tasks, want %d", len(seen), len(want))
	}
}

func TestPermissionMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "u1")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/members", map[string]any{
		"user_id": "u2", "name": "Bea",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	// plain member may not create tasks -> 403 with the error envelope
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "nope",
	}, asUser("u2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("member create task status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("error code = %q, want forbidden", envelope.Error.Code)
	}

	// strangers cannot even see the project
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID, nil, asUser("u9"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger get project status %d", res.StatusCode)
	}

	// unknown project -> 404
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/missing", nil, asUser("u1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project status %d", res.StatusCode)
	}

	// bad status value -> 400
	res, _ = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID, map[string]any{
		"status": "archived",
	}, asUser("u1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status code %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "u1")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/members", map[string]any{
		"user_id": "u2", "name": "Bea",
	}, asUser("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	// invite produced a team_invite notification for u2
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, asUser("u2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list notifications status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedNotifications
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "team_invite" {
		t.Fatalf("notifications = %+v, want one team_invite", page.Items)
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/read-all", nil, asUser("u2"))
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("read-all status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications/unread-count", nil, asUser("u2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread-count status %d", res.StatusCode)
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		t.Fatalf("unmarshal counts: %v", err)
	}
	if counts["unread"] != 0 {
		t.Fatalf("unread = %d, want 0", counts["unread"])
	}
}

func TestActivityFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "u1")
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/activity", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("no activity recorded for project create")
	}
	if page.Items[0].Type != "project" {
		t.Fatalf("event type = %q, want project", page.Items[0].Type)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me/preferences", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get preferences status %d: %s", res.StatusCode, string(data))
	}
	var prefs map[string]any
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if prefs["task_reminders"] != true {
		t.Fatalf("default task_reminders = %v, want true", prefs["task_reminders"])
	}

	res, _ = doJSON(t, client, http.MethodPut, srv.URL+"/v0/me/preferences", map[string]any{
		"email_notifications": true,
		"push_notifications":  true,
		"weekly_digest":       false,
		"project_updates":     true,
		"task_reminders":      false,
		"team_invites":        true,
	}, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put preferences status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me/preferences", nil, asUser("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get preferences status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if prefs["task_reminders"] != false {
		t.Fatalf("task_reminders = %v, want false", prefs["task_reminders"])
	}
}
