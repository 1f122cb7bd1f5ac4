package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/timmy/assetingest/internal/storage"
)

func partKey(uploadID string, partNumber int) string {
	return fmt.Sprintf("uploads/%s/part_%06d.bin", uploadID, partNumber)
}

func rawKey(datasetID, ext string) string {
	return fmt.Sprintf("datasets/%s/original%s", datasetID, ext)
}

// partReader streams part objects back to back, opening each one lazily.
// The first close failure is kept and reported by Close.
type partReader struct {
	ctx      context.Context
	store    storage.ObjectStorage
	keys     []string
	cur      io.ReadCloser
	closeErr error
}

func newPartReader(ctx context.Context, store storage.ObjectStorage, keys []string) *partReader {
	return &partReader{ctx: ctx, store: store, keys: keys}
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			rc, err := r.store.Download(r.ctx, r.keys[0])
			if err != nil {
				return 0, fmt.Errorf("open %s: %w", r.keys[0], err)
			}
			r.cur = rc
			r.keys = r.keys[1:]
		}

		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.closeCurrent()
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partReader) closeCurrent() {
	if err := r.cur.Close(); err != nil && r.closeErr == nil {
		r.closeErr = err
	}
	r.cur = nil
}

func (r *partReader) Close() error {
	if r.cur != nil {
		r.closeCurrent()
	}
	return r.closeErr
}

// countingReader counts bytes read and fails once more than limit bytes
// have passed through. A limit of zero disables the check.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

var errPartTooLarge = errors.New("part exceeds maximum upload size")

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, errPartTooLarge
	}
	return n, err
}
