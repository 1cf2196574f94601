package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/timmy/batchmigrate/internal/domain"
)

// MemoryStorage keeps objects in process memory. It backs local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewMemoryStorage creates an empty in-memory store whose signed URLs point at baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStorage{
		objects: make(map[string][]byte),
		baseURL: baseURL,
		secret:  []byte("batchmigrate-memory"),
		now:     time.Now,
	}
}

// Put stores a copy of data.
func (s *MemoryStorage) Put(_ context.Context, path string, data []byte, _ string) error {
	s.mu.Lock()
	s.objects[path] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored object.
func (s *MemoryStorage) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.StorageError{Op: "get", Path: path, Cause: ErrNotFound}
	}
	return append([]byte(nil), data...), nil
}

// SignedURL returns an HMAC-signed reference that expires after ttl.
func (s *MemoryStorage) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return "", &domain.StorageError{Op: "sign", Path: path, Cause: ErrNotFound}
	}

	expires := s.now().Add(ttl).Unix()
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", path, expires)

	q := url.Values{}
	q.Set("expires", fmt.Sprint(expires))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, url.PathEscape(path), q.Encode()), nil
}

// Delete removes the object; deleting a missing object is not an error.
func (s *MemoryStorage) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

// Exists reports whether path is stored.
func (s *MemoryStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
