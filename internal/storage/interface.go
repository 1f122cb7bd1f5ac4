package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload writes an object, replacing any existing object at key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading from its first byte.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFrom opens an object for reading starting at offset.
	DownloadFrom(ctx context.Context, key string, offset int64) (io.ReadCloser, error)

	// Size returns the object's length in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// Delete deletes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureBucket prepares the backing bucket or directory.
	EnsureBucket(ctx context.Context) error
}
