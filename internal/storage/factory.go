package storage

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a storage backend.
type Config struct {
	Type      StorageType
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	// EnsureBucket creates the bucket on startup when missing.
	EnsureBucket bool
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// NewStorage creates an ObjectStorage instance based on the configuration.
func NewStorage(ctx context.Context, cfg *Config) (ObjectStorage, error) {
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}

	var (
		store ObjectStorage
		err   error
	)
	switch cfg.Type {
	case StorageTypeMemory:
		return NewMemoryStorage(""), nil
	case StorageTypeMinIO:
		store, err = NewMinIOStorage(&MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
		})
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		store, err = NewS3Storage(ctx, &S3Config{
			Type:      cfg.Type,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EnsureBucket {
		if b, ok := store.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeMemory
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
