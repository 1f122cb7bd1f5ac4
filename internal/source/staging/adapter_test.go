package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanDirListsCSVFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.csv"), "id\n")
	write(t, filepath.Join(dir, "a.CSV"), "id\n")
	write(t, filepath.Join(dir, "notes.txt"), "skip")

	a := NewAdapter(dir)
	items, next, err := a.FetchBatch(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if next != "" {
		t.Errorf("next cursor = %q, want empty", next)
	}
	if len(items) != 2 || items[0].SourceID != "a" || items[1].SourceID != "b" {
		t.Fatalf("items = %+v, want a then b", items)
	}
}

func TestManifestPaging(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, FilesDir, "one.csv"), "id\n")
	write(t, filepath.Join(dir, FilesDir, "two.csv"), "id\n")
	write(t, filepath.Join(dir, FilesDir, "three.csv"), "id\n")
	write(t, filepath.Join(dir, ManifestFileName), `{"id":"x1","filename":"one.csv","name":"First","mapping":{"asset_id_col":"id"}}

{"filename":"missing.csv"}
{"filename":"two.csv"}
{"filename":"three.csv"}
`)

	a := NewAdapter(dir)
	ctx := context.Background()
	batch, next, err := a.FetchBatch(ctx, "", 2)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if len(batch) != 2 || next != "2" {
		t.Fatalf("first batch = %+v, next = %q", batch, next)
	}
	if batch[0].SourceID != "x1" || batch[0].Name != "First" || batch[0].Mapping["asset_id_col"] != "id" {
		t.Errorf("first item = %+v", batch[0])
	}
	if batch[1].SourceID != "two" {
		t.Errorf("second item id = %q, want two", batch[1].SourceID)
	}

	batch, next, err = a.FetchBatch(ctx, next, 2)
	if err != nil {
		t.Fatalf("FetchBatch(2) error = %v", err)
	}
	if len(batch) != 1 || batch[0].SourceID != "three" || next != "" {
		t.Errorf("second batch = %+v, next = %q", batch, next)
	}

	if _, _, err := a.FetchBatch(ctx, "x", 2); err == nil {
		t.Error("FetchBatch(bad cursor) succeeded")
	}
}

func TestManifestRejectsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, ManifestFileName), "{not json}\n")

	if _, _, err := NewAdapter(dir).FetchBatch(context.Background(), "", 10); err == nil {
		t.Error("FetchBatch() with malformed manifest succeeded")
	}
}
