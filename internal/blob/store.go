// Package blob stores attachment payloads on the local filesystem or in an S3 compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("blob object not found")
	ErrForeignURL     = errors.New("blob url does not belong to this store")
)

// Object describes a stored payload.
type Object struct {
	URL  string
	Size int64
}

// Store puts payloads under keys and addresses them by URL afterwards.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (Object, error)
	Get(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

type Config struct {
	Backend string
	FSRoot  string
	// PublicBaseURL replaces the backend's default URL prefix.
	PublicBaseURL     string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool
}

func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "filesystem"
	}

	switch backend {
	case "filesystem", "fs", "local":
		return NewFilesystemStore(cfg.FSRoot, cfg.PublicBaseURL)
	case "s3", "r2", "minio":
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", backend)
	}
}

// urlPrefix addresses keys below a base URL.
type urlPrefix string

func newURLPrefix(base string) urlPrefix {
	return urlPrefix(strings.TrimRight(strings.TrimSpace(base), "/"))
}

func (p urlPrefix) url(key string) string {
	return string(p) + "/" + key
}

func (p urlPrefix) key(url string) (string, error) {
	key, ok := strings.CutPrefix(strings.TrimSpace(url), string(p)+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return key, nil
}
