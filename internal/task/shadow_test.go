package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *ShadowStore {
	t.Helper()
	return NewShadowStore(filepath.Join(t.TempDir(), "nested", "tasks.json"))
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	tasks, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty map, got %d entries", len(tasks))
	}
}

func TestSaveOneAndGet(t *testing.T) {
	s := newTestStore(t)

	rec := Persisted{Description: "scan repo", Agent: "general", CreatedAt: time.Now(), Status: StatusRunning}
	if err := s.SaveOne("ses_one", rec); err != nil {
		t.Fatalf("SaveOne: %v", err)
	}

	got, ok, err := s.Get("ses_one")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Description != "scan repo" || got.Status != StatusRunning {
		t.Errorf("unexpected record %+v", got)
	}

	// Upsert preserves other entries
	if err := s.SaveOne("ses_two", Persisted{Description: "other"}); err != nil {
		t.Fatalf("SaveOne: %v", err)
	}
	tasks, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("expected 2 entries, got %d", len(tasks))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveOne("ses_del", Persisted{Description: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("ses_del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("ses_del"); ok {
		t.Error("expected record gone after delete")
	}

	// Deleting an absent ID is a no-op
	if err := s.Delete("ses_absent"); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewShadowStore(path)
	if _, err := s.Load(); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestNoTmpFileLeftBehind(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveOne("ses_tmp", Persisted{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected tmp file to be renamed away")
	}
}

func TestMatchPersisted(t *testing.T) {
	now := time.Now()
	persisted := map[string]Persisted{
		"ses_abc111xyz": {Description: "older", CreatedAt: now.Add(-time.Hour)},
		"ses_abc222xyz": {Description: "newer", CreatedAt: now},
	}

	// Exact match wins even when it is the older record.
	id, ok := MatchPersisted(persisted, "ses_abc111xyz")
	if !ok || id != "ses_abc111xyz" {
		t.Errorf("exact match: got %q, %v", id, ok)
	}

	// Ambiguous prefixes resolve to the most recently created match, and
	// short prefixes are allowed.
	id, ok = MatchPersisted(persisted, "ses_")
	if !ok || id != "ses_abc222xyz" {
		t.Errorf("prefix recency tie-break: got %q, %v", id, ok)
	}

	if _, ok := MatchPersisted(persisted, "ses_zzz"); ok {
		t.Error("expected no match for an unknown prefix")
	}
}
