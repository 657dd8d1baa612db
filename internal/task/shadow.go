package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ShadowStore mirrors task metadata to a single JSON file keyed by session ID.
// It survives process restarts independently of the in-memory registry; a
// missing file reads as an empty map.
type ShadowStore struct {
	mu   sync.Mutex
	path string
}

// NewShadowStore creates a store backed by the given file path.
func NewShadowStore(path string) *ShadowStore {
	return &ShadowStore{path: path}
}

// Load reads all persisted tasks. A missing file is not an error.
func (s *ShadowStore) Load() (map[string]Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Save rewrites the whole file atomically.
func (s *ShadowStore) Save(tasks map[string]Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(tasks)
}

// SaveOne upserts a single record (read-modify-write).
func (s *ShadowStore) SaveOne(sessionID string, rec Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	tasks[sessionID] = rec
	return s.save(tasks)
}

// Get returns a single persisted record if present.
func (s *ShadowStore) Get(sessionID string) (Persisted, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return Persisted{}, false, err
	}
	rec, ok := tasks[sessionID]
	return rec, ok, nil
}

// Delete removes a single record. Deleting an absent ID is a no-op.
func (s *ShadowStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := tasks[sessionID]; !ok {
		return nil
	}
	delete(tasks, sessionID)
	return s.save(tasks)
}

// MatchPersisted resolves an exact ID or prefix against a persisted set,
// tie-breaking prefix matches by creation time (newest wins).
func MatchPersisted(persisted map[string]Persisted, idOrPrefix string) (string, bool) {
	if _, ok := persisted[idOrPrefix]; ok {
		return idOrPrefix, true
	}

	var (
		bestID string
		bestAt time.Time
	)
	for id, rec := range persisted {
		if !strings.HasPrefix(id, idOrPrefix) {
			continue
		}
		if bestID == "" || rec.CreatedAt.After(bestAt) {
			bestID, bestAt = id, rec.CreatedAt
		}
	}
	return bestID, bestID != ""
}

func (s *ShadowStore) load() (map[string]Persisted, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Persisted{}, nil
		}
		return nil, fmt.Errorf("read shadow store: %w", err)
	}

	tasks := map[string]Persisted{}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal shadow store: %w", err)
	}
	return tasks, nil
}

func (s *ShadowStore) save(tasks map[string]Persisted) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create shadow dir: %w", err)
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shadow store: %w", err)
	}

	// Atomic write: tmp + rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write shadow store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename shadow store: %w", err)
	}
	return nil
}
