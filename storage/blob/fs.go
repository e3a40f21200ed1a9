package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidURI is returned when a uri contains a path separator in its
// filename component or would resolve outside the backend's base path.
var ErrInvalidURI = errors.New("blob: invalid uri")

// FSStore persists blobs as files under a base directory, named by their
// content address. It is the default backend for local/dev deployments
// (spec.md §4.7 FS backend, env var BLOB_STORAGE_PATH).
type FSStore struct {
	baseDir string

	mu        sync.Mutex
	connected bool
}

// NewFSStore returns an FS-backed blob store rooted at baseDir. baseDir must
// already exist; Connect verifies it.
func NewFSStore(baseDir string) *FSStore {
	return &FSStore{baseDir: baseDir}
}

func (s *FSStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return &StorageError{Op: "connect", URI: s.baseDir, Wrapped: err}
	}
	if !info.IsDir() {
		return &StorageError{Op: "connect", URI: s.baseDir, Wrapped: fmt.Errorf("not a directory")}
	}
	s.connected = true
	return nil
}

func (s *FSStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *FSStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *FSStore) Save(ctx context.Context, content []byte) (string, error) {
	key := ContentAddress(content)
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return key, nil // identical content already saved; content-addressed, no rewrite
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &StorageError{Op: "save", URI: key, Wrapped: err}
	}
	return key, nil
}

func (s *FSStore) Load(ctx context.Context, uri string) ([]byte, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "load", URI: uri, Wrapped: err}
	}
	return data, nil
}

// resolve validates uri is a bare filename (no path separators, no "..")
// and returns its path inside baseDir. This is the boundary spec.md §4.7
// calls out: "validates that uris resolve inside the base path and rejects
// any with path separators in the filename".
func (s *FSStore) resolve(uri string) (string, error) {
	if uri == "" || strings.ContainsAny(uri, "/\\") || uri == "." || uri == ".." {
		return "", &StorageError{Op: "resolve", URI: uri, Wrapped: ErrInvalidURI}
	}
	full := filepath.Join(s.baseDir, uri)
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", &StorageError{Op: "resolve", URI: uri, Wrapped: ErrInvalidURI}
	}
	return full, nil
}
