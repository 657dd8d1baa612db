package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["parentID"] != "ses_parent" {
			t.Errorf("expected parentID forwarded, got %q", req["parentID"])
		}
		if req["title"] != "Background: audit" {
			t.Errorf("expected title forwarded, got %q", req["title"])
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ses_child"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.Create(context.Background(), "ses_parent", "Background: audit")
	if err != nil {
		t.Fatal(err)
	}
	if id != "ses_child" {
		t.Errorf("expected ses_child, got %q", id)
	}
}

func TestClientPromptAsyncSendsGate(t *testing.T) {
	var got promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/ses_x/prompt_async" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	gate := map[string]bool{"background_task": false}
	if err := c.PromptAsync(context.Background(), "ses_x", "general", "do it", gate); err != nil {
		t.Fatal(err)
	}
	if got.Agent != "general" {
		t.Errorf("expected agent general, got %q", got.Agent)
	}
	if len(got.Parts) != 1 || got.Parts[0].Text != "do it" {
		t.Errorf("unexpected parts %+v", got.Parts)
	}
	if v, ok := got.Tools["background_task"]; !ok || v {
		t.Errorf("expected tool gate forwarded, got %+v", got.Tools)
	}
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]SessionStatus{
			"ses_a": {Type: StatusIdle},
			"ses_b": {Type: StatusBusy},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	statuses, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if statuses["ses_a"].Type != StatusIdle || statuses["ses_b"].Type != StatusBusy {
		t.Errorf("unexpected statuses %+v", statuses)
	}
}

func TestClientExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/ses_live":
			json.NewEncoder(w).Encode(map[string]string{"id": "ses_live"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ok, err := c.Exists(context.Background(), "ses_live")
	if err != nil || !ok {
		t.Errorf("expected live session, got ok=%v err=%v", ok, err)
	}
	ok, err = c.Exists(context.Background(), "ses_gone")
	if err != nil || ok {
		t.Errorf("expected 404 to mean not found without error, got ok=%v err=%v", ok, err)
	}
}

func TestClientErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"agent.name is undefined"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.PromptAsync(context.Background(), "ses_x", "nope", "hi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "agent.name") {
		t.Errorf("expected error to carry body, got %q", err.Error())
	}
}
