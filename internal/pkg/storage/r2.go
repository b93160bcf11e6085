package storage

import (
	"fmt"
	"strings"
)

// R2Config holds R2 connection configuration
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	PublicURL       string // CDN URL, e.g. https://media.clipcraft.app
}

// NewR2Storage creates a Cloudflare R2 backed store.
func NewR2Storage(cfg R2Config) (*S3Storage, error) {
	if cfg.AccountID == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("r2 storage requires account id and bucket name")
	}

	client, err := newS3Client(s3Options{
		endpoint:  fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID),
		region:    "auto",
		accessKey: cfg.AccessKeyID,
		secretKey: cfg.AccessKeySecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	// Fallback to direct R2 URL (requires public bucket)
	publicURL := fmt.Sprintf("https://%s.r2.dev", cfg.BucketName)
	if cfg.PublicURL != "" {
		publicURL = strings.TrimRight(cfg.PublicURL, "/")
	}

	return &S3Storage{
		client:    client,
		bucket:    cfg.BucketName,
		publicURL: publicURL,
		label:     "R2",
	}, nil
}
