package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is the object store used for covers and offloaded videos.
type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	GetURL(key string) string
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string // r2 | s3 | local | none

	R2 R2Config

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	LocalPath string
	LocalURL  string
}

// New builds the configured backend. Driver "none" (or empty) returns nil
// so callers can skip uploads entirely.
func New(cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "r2":
		return NewR2Storage(cfg.R2)
	case "s3":
		return NewS3Storage(cfg)
	case "local":
		return NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
