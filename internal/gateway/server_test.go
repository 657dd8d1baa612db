package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/orchestrator"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/task"
)

func newTestServer(t *testing.T) (*Server, *session.MemoryService) {
	t.Helper()
	svc := session.NewMemoryService()
	shadow := task.NewShadowStore(filepath.Join(t.TempDir(), "tasks.json"))
	orc := orchestrator.New(svc, svc, svc, shadow, orchestrator.DefaultConfig())
	t.Cleanup(orc.Stop)
	return NewServer(orc, "127.0.0.1", 0), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLaunchAndGet(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"audit deps","prompt":"audit the dependencies","agent":"general"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != task.StatusRunning {
		t.Errorf("expected running, got %s", created.Status)
	}
	if created.SessionID == "" {
		t.Fatal("expected a session id")
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/"+created.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Description != "audit deps" {
		t.Errorf("expected description preserved, got %q", got.Description)
	}
}

func TestLaunchMissingAgent(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"x","prompt":"y","agent":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/ses_nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelTwiceConflicts(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"x","prompt":"y","agent":"general"}`)
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/tasks/"+created.SessionID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var cancelled task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &cancelled); err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != task.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/tasks/"+created.SessionID+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestListStatusFilter(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"a","prompt":"p","agent":"general"}`)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks?status=running", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 running task, got %d", len(list))
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/tasks?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rec.Code)
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"a","prompt":"p","agent":"general"}`)
	doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"b","prompt":"p","agent":"general"}`)

	rec := doJSON(t, s.Handler(), http.MethodDelete, "/api/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["cancelled"] != 2 {
		t.Errorf("expected 2 cancelled, got %d", out["cancelled"])
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/tasks", "")
	var list []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty registry after clear, got %d", len(list))
	}
}

func TestBatchProgress(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"a","prompt":"p","agent":"general"}`)
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	doJSON(t, s.Handler(), http.MethodPost, "/api/tasks",
		`{"description":"b","prompt":"p","agent":"general"}`)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/batches/"+created.BatchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bp orchestrator.BatchProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &bp); err != nil {
		t.Fatal(err)
	}
	if bp.Total != 2 || bp.Running != 2 {
		t.Errorf("expected 2 running of 2, got %+v", bp)
	}
}

func TestGetPersistedDoesNotRehydrate(t *testing.T) {
	svc := session.NewMemoryService()
	shadow := task.NewShadowStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err := shadow.SaveOne("ses_archived1", task.Persisted{
		Description:     "archived run",
		Agent:           "general",
		ParentSessionID: "ses_parent",
		CreatedAt:       time.Now(),
		Status:          task.StatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	orc := orchestrator.New(svc, svc, svc, shadow, orchestrator.DefaultConfig())
	t.Cleanup(orc.Stop)
	s := NewServer(orc, "127.0.0.1", 0)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/tasks/ses_archived1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Description != "archived run" {
		t.Errorf("expected shadow fields in the response, got %+v", got)
	}

	// Reading a shadow-only task must not pull it into the live registry.
	if _, ok := orc.Get("ses_archived1"); ok {
		t.Error("read rehydrated the task into the registry")
	}
}
