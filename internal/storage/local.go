package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps objects as files under a root directory. Keys use
// forward slashes and map onto subdirectories.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a local storage rooted at dir.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage dir: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// EnsureBucket creates the root directory.
func (s *LocalStorage) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	return nil
}

// Upload writes to a temp file and renames it over key, so readers never see
// a partial object and the last writer wins.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: reader}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Download opens an object from its first byte.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.DownloadFrom(ctx, key, 0)
}

// DownloadFrom opens an object positioned at offset.
func (s *LocalStorage) DownloadFrom(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek object: %w", err)
		}
	}
	return f, nil
}

// Size returns the file length.
func (s *LocalStorage) Size(ctx context.Context, key string) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return 0, fmt.Errorf("failed to stat object: %w", err)
	}
	return info.Size(), nil
}

// Delete removes the file. Missing files are ignored.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	// Drop the parent directory once it is empty; failure just leaves it behind.
	if dir := filepath.Dir(p); dir != s.root {
		_ = os.Remove(dir)
	}
	return nil
}

// Exists checks if the file exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
