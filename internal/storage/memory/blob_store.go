// Package memory keeps artifacts in-memory for tests and dry runs.
package memory

import (
	"fmt"
	"io"
	"sync"
)

// ArtifactStore stores artifacts in a map and returns pseudo paths. A write
// becomes visible only once the reader is fully consumed.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{data: make(map[string][]byte)}
}

// Path returns the pseudo path for key.
func (s *ArtifactStore) Path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is required")
	}
	return "memory://" + key + ".pdf", nil
}

// Exists reports whether key has been written.
func (s *ArtifactStore) Exists(key string) (string, int64, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	return path, int64(len(data)), ok, nil
}

// Write reads r to completion and stores the bytes under key.
func (s *ArtifactStore) Write(key string, r io.Reader) (string, int64, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", int64(len(data)), fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return path, int64(len(data)), nil
}

// Get returns a copy of the stored bytes.
func (s *ArtifactStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
