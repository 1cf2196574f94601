package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/batchmigrate/internal/cache"
	"github.com/timmy/batchmigrate/internal/logger"
)

// ExpiringSigner signs URLs and reports when each one stops working.
type ExpiringSigner interface {
	SignedURLExpiry(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error)
}

// SignedURLCache reuses signed URLs until shortly before they expire.
// Every other call passes straight through to the wrapped store.
type SignedURLCache struct {
	ObjectStorage
	cache  cache.Cache
	margin time.Duration
	now    func() time.Time
}

// NewSignedURLCache wraps store. Cached URLs are dropped margin before their expiry.
func NewSignedURLCache(store ObjectStorage, c cache.Cache, margin time.Duration) *SignedURLCache {
	return &SignedURLCache{ObjectStorage: store, cache: c, margin: margin, now: time.Now}
}

// SignedURL returns a cached URL when one with enough remaining life exists.
func (s *SignedURLCache) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, _, err := s.SignedURLExpiry(ctx, path, ttl)
	return u, err
}

// SignedURLExpiry is SignedURL plus the expiry of the returned URL, which
// is earlier than now+ttl when the URL came from the cache.
func (s *SignedURLCache) SignedURLExpiry(ctx context.Context, path string, ttl time.Duration) (string, time.Time, error) {
	key := "signed:" + ttl.String() + ":" + path
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if u, exp, ok := decodeSigned(cached); ok {
			return u, exp, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.CtxWarn(ctx, "Signed URL cache read failed: path=%s, error=%v", path, err)
	}

	issued := s.now().UTC()
	u, err := s.ObjectStorage.SignedURL(ctx, path, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := issued.Add(ttl)

	if keep := ttl - s.margin; keep > 0 {
		if err := s.cache.Set(ctx, key, encodeSigned(u, expires), keep); err != nil {
			logger.CtxWarn(ctx, "Signed URL cache write failed: path=%s, error=%v", path, err)
		}
	}
	return u, expires, nil
}

// cached entries are "<unix nanos> <url>"
func encodeSigned(u string, expires time.Time) []byte {
	return []byte(strconv.FormatInt(expires.UnixNano(), 10) + " " + u)
}

func decodeSigned(b []byte) (string, time.Time, bool) {
	ts, u, ok := strings.Cut(string(b), " ")
	if !ok {
		return "", time.Time{}, false
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return u, time.Unix(0, n).UTC(), true
}
