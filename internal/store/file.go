package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileEntry struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FileStore implements KV as a single JSON file guarded by a mutex. It is the
// fallback backend for standalone runs without Redis. Expired entries are
// filtered on read and dropped on the next write.
type FileStore struct {
	path string
	mu   sync.RWMutex
	data map[string]fileEntry
	now  func() time.Time
}

// NewFileStore creates a file-backed KV at path, loading any existing state.
// An empty path keeps the store purely in memory (used by tests and by
// contexts where no durable storage is available).
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string]fileEntry),
		now:  time.Now,
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	if e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := fileEntry{Value: value}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		e.ExpiresAt = &exp
	}
	s.data[key] = e
	return s.persistLocked()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persistLocked()
}

// persistLocked writes the full map to disk via a temp-file rename so a crash
// mid-write never corrupts the store. Caller must hold s.mu.
func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	// Drop expired entries before writing.
	for k, e := range s.data {
		if e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt) {
			delete(s.data, k)
		}
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
