package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by backends when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStorage is the content store the engine writes raw uploads to.
// Paths are opaque keys; failures are returned as *domain.StorageError.
type ObjectStorage interface {
	// Put writes data at path, replacing any existing object
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get reads the whole object at path
	Get(ctx context.Context, path string) ([]byte, error)

	// SignedURL returns a time-limited reference to the object at path
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Delete removes the object at path
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, path string) (bool, error)
}
