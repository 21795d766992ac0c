package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskflare/internal/config"
	"taskflare/internal/db"
	"taskflare/internal/engine"
	"taskflare/internal/migrate"
	"taskflare/internal/notify"
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
	cfg := config.Default("taskflare")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := notify.NewHub()
	e := engine.New(conn, cfg, hub)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "Taskflare", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{Engine: e, Hub: hub, BasePath: "/v0", Auth: AuthConfig{DevMode: true}})
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
	req.Header.Set("X-User-ID", "tester")
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

func TestTaskEditRunsAutomations(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "taskflare"
	client := srv.Client()

	ruleRes, ruleBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/automations", map[string]any{
		"name":    "badge done",
		"trigger": map[string]any{"kind": "status_change", "condition": "Done"},
		"action":  map[string]any{"kind": "add_badge", "params": "complete"},
	}, nil)
	if ruleRes.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", ruleRes.StatusCode, string(ruleBody))
	}

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/tasks", map[string]any{
		"title": "Ship feature",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", createRes.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.ID, map[string]any{
		"status": "Done",
	}, nil)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var updated TaskResponse
	if err := json.Unmarshal(patchBody, &updated); err != nil {
		t.Fatalf("unmarshal updated: %v", err)
	}
	if updated.Status != "Done" {
		t.Fatalf("status = %q", updated.Status)
	}
	if len(updated.Badges) != 1 || updated.Badges[0] != "complete" {
		t.Fatalf("badges = %v: edit response must include automation effects", updated.Badges)
	}
}

func TestNotificationFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "taskflare"
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/automations", map[string]any{
		"name":    "welcome",
		"trigger": map[string]any{"kind": "assignee_change", "condition": "worker"},
		"action":  map[string]any{"kind": "send_notification", "params": "new task for you"},
	}, nil)
	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/tasks", map[string]any{
		"title": "Handoff",
	}, nil)
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.ID, map[string]any{
		"assignee_id": "worker",
	}, nil)

	feedRes, feedBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, map[string]string{"X-User-ID": "worker"})
	if feedRes.StatusCode != http.StatusOK {
		t.Fatalf("feed status %d: %s", feedRes.StatusCode, string(feedBody))
	}
	var feed []NotificationResponse
	if err := json.Unmarshal(feedBody, &feed); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	if len(feed) != 1 || feed[0].Message != "new task for you" || feed[0].TaskID != created.ID {
		t.Fatalf("feed = %+v", feed)
	}

	// Another user's feed stays empty.
	otherRes, otherBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, map[string]string{"X-User-ID": "bystander"})
	if otherRes.StatusCode != http.StatusOK {
		t.Fatalf("other feed status %d", otherRes.StatusCode)
	}
	var other []NotificationResponse
	_ = json.Unmarshal(otherBody, &other)
	if len(other) != 0 {
		t.Fatalf("bystander feed = %+v", other)
	}
}

func TestAutomationValidationError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/taskflare/automations", map[string]any{
		"name":    "bad",
		"trigger": map[string]any{"kind": "status_change", "condition": "Backlog"},
		"action":  map[string]any{"kind": "add_badge", "params": "x"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" || envelope.Error.Message == "" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/no-such-task", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", res.StatusCode)
	}
}

func TestRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/notifications", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}
