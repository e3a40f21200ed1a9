package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore persists blobs as objects in a Google Cloud Storage bucket, named
// by their content address (spec.md §4.7 GCS backend, env var GCS_BUCKET).
type GCSStore struct {
	client *storage.Client
	bucket string

	mu        sync.Mutex
	connected bool
}

// NewGCSStore wraps an already-constructed client pointed at bucket.
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (s *GCSStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return &StorageError{Op: "connect", URI: s.bucket, Wrapped: err}
	}
	s.connected = true
	return nil
}

func (s *GCSStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.client.Close()
}

func (s *GCSStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *GCSStore) Save(ctx context.Context, content []byte) (string, error) {
	key := ContentAddress(content)
	obj := s.client.Bucket(s.bucket).Object(key)

	if _, err := obj.Attrs(ctx); err == nil {
		return key, nil // content-addressed: identical bytes already stored
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", &StorageError{Op: "save", URI: key, Wrapped: err}
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", &StorageError{Op: "save", URI: key, Wrapped: err}
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		// a precondition-failed close means a concurrent writer raced us to
		// the same content-addressed key; the bytes are identical either way.
		if !(errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed) {
			return "", &StorageError{Op: "save", URI: key, Wrapped: err}
		}
	}
	return key, nil
}

func (s *GCSStore) Load(ctx context.Context, uri string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(uri).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &StorageError{Op: "load", URI: uri, Wrapped: fmt.Errorf("not found")}
		}
		return nil, &StorageError{Op: "load", URI: uri, Wrapped: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &StorageError{Op: "load", URI: uri, Wrapped: err}
	}
	return data, nil
}
