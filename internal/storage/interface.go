package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the interface for object storage operations. The
// ingest pipeline uploads original image bytes here and records the
// resulting URL as the image's source_url.
type ObjectStorage interface {
	// Upload uploads an object to storage.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object.
	GetURL(key string) string

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureBucket creates the backing bucket when missing.
	EnsureBucket(ctx context.Context) error
}
