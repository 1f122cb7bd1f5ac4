package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/logger"
	"golang.org/x/sync/errgroup"
)

// UploadProgress is reported after each acknowledged part.
type UploadProgress struct {
	PartsDone  int
	PartsTotal int
	BytesSent  int64
	BytesTotal int64
}

// UploadFile uploads the file at path in parts and finalizes it. Parts are
// sent concurrently; each part is retried on transport errors and 5xx.
func (c *Client) UploadFile(ctx context.Context, path string, onProgress func(UploadProgress)) (*domain.FinalizeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	filename := filepath.Base(path)
	return c.Upload(ctx, filename, f, info.Size(), onProgress)
}

// Upload sends size bytes from src as filename. An empty file is sent as a
// single empty part.
func (c *Client) Upload(ctx context.Context, filename string, src io.ReaderAt, size int64, onProgress func(UploadProgress)) (*domain.FinalizeResult, error) {
	start := time.Now()
	session, err := c.Init(ctx, filename, size)
	if err != nil {
		return nil, err
	}

	log := c.logger.WithFields(logger.Fields{
		logger.FieldDatasetID: session.DatasetID,
		logger.FieldUploadID:  session.UploadID,
	})

	parts := int((size + c.partSize - 1) / c.partSize)
	if parts == 0 {
		parts = 1
	}

	var (
		done int32
		sent int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for part := 0; part < parts; part++ {
		g.Go(func() error {
			off := int64(part) * c.partSize
			n := c.partSize
			if off+n > size {
				n = size - off
			}
			buf := make([]byte, n)
			if _, err := src.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read part %d: %w", part, err)
			}
			if err := c.sendPart(gctx, session, part, buf); err != nil {
				return err
			}

			d := atomic.AddInt32(&done, 1)
			s := atomic.AddInt64(&sent, n)
			if onProgress != nil {
				onProgress(UploadProgress{PartsDone: int(d), PartsTotal: parts, BytesSent: s, BytesTotal: size})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res, err := c.Finalize(ctx, session.UploadID, session.DatasetID, filename)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		logger.FieldCount:      parts,
		logger.FieldSize:       size,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Upload complete")
	return res, nil
}

// sendPart sends one part, re-sending it with a fresh reader after
// retryable failures. Re-sending a part is idempotent on the server.
func (c *Client) sendPart(ctx context.Context, session *domain.UploadInit, part int, data []byte) error {
	var err error
	for attempt := 0; attempt <= c.partRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithError(err).WithField("part_number", part).Warnf("Retrying part (attempt %d)", attempt+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryWait * time.Duration(attempt)):
			}
		}
		_, err = c.Chunk(ctx, session.UploadID, session.DatasetID, part, bytes.NewReader(data))
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("part %d: %w", part, err)
}

// retryable reports whether re-sending may succeed. Caller errors never do.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !domain.IsStructural(err)
}
