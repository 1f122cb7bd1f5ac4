package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	if err := s.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	return s
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	if err := s.Upload(ctx, "datasets/a/original.csv", strings.NewReader("hello world"), 11, "text/csv"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "datasets/a/original.csv")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := readAll(t, rc); got != "hello world" {
		t.Errorf("Download = %q", got)
	}

	rc, err = s.DownloadFrom(ctx, "datasets/a/original.csv", 6)
	if err != nil {
		t.Fatalf("DownloadFrom: %v", err)
	}
	if got := readAll(t, rc); got != "world" {
		t.Errorf("DownloadFrom = %q", got)
	}

	size, err := s.Size(ctx, "datasets/a/original.csv")
	if err != nil || size != 11 {
		t.Errorf("Size = %d, %v", size, err)
	}
}

func TestLocalStorageOverwriteIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	for _, body := range []string{"first", "second"} {
		if err := s.Upload(ctx, "uploads/u/part_000000.bin", strings.NewReader(body), int64(len(body)), ""); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	}
	rc, err := s.Download(ctx, "uploads/u/part_000000.bin")
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, rc); got != "second" {
		t.Errorf("expected last write to win, got %q", got)
	}
}

func TestLocalStorageMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	if _, err := s.Download(ctx, "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if ok, err := s.Exists(ctx, "nope"); ok || err != nil {
		t.Errorf("Exists = %v, %v", ok, err)
	}

	if err := s.Upload(ctx, "k/v", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k/v"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k/v"); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if ok, _ := s.Exists(ctx, "k/v"); ok {
		t.Error("object still exists after delete")
	}
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s := newLocal(t)
	if err := s.Upload(context.Background(), "../escape", strings.NewReader("x"), 1, ""); err == nil {
		t.Error("expected error for key escaping the root")
	}
}

func TestDetectStorageType(t *testing.T) {
	testCases := map[string]StorageType{
		"https://abc.r2.cloudflarestorage.com": StorageTypeR2,
		"s3.us-east-1.amazonaws.com":           StorageTypeS3,
		"localhost:9000":                       StorageTypeS3Compatible,
	}
	for endpoint, want := range testCases {
		if got := detectStorageType(endpoint); got != want {
			t.Errorf("detectStorageType(%q) = %q, want %q", endpoint, got, want)
		}
	}
	if got := normalizeEndpoint("https://minio.local:9000/bucket/"); got != "minio.local:9000" {
		t.Errorf("normalizeEndpoint = %q", got)
	}
}
