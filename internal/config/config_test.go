package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Upload.ChunkSizeMB != 8 {
		t.Errorf("chunk size = %d, want 8", cfg.Upload.ChunkSizeMB)
	}
	if cfg.Ingest.DefaultChunkRows != 5000 {
		t.Errorf("default chunk rows = %d, want 5000", cfg.Ingest.DefaultChunkRows)
	}
	if cfg.Ingest.PumpInterval != 1500*time.Millisecond {
		t.Errorf("pump interval = %v", cfg.Ingest.PumpInterval)
	}
	if !cfg.Storage.IsLocal() {
		t.Errorf("expected local storage by default, got %q", cfg.Storage.Type)
	}
}

func TestStorageValidate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     StorageConfig
		wantErr bool
	}{
		{name: "local ok", cfg: StorageConfig{Type: "local", LocalDir: "./data"}},
		{name: "local without dir", cfg: StorageConfig{Type: "local"}, wantErr: true},
		{name: "s3 ok", cfg: StorageConfig{Type: "s3", Endpoint: "s3.amazonaws.com", Bucket: "b", AccessKey: "a", SecretKey: "s"}},
		{name: "s3 missing creds", cfg: StorageConfig{Type: "s3", Endpoint: "s3.amazonaws.com", Bucket: "b"}, wantErr: true},
		{name: "unknown type", cfg: StorageConfig{Type: "ftp"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStorageResolveEnvVars(t *testing.T) {
	t.Setenv("TEST_STORAGE_SECRET", "from-env")
	cfg := StorageConfig{SecretKeyEnv: "TEST_STORAGE_SECRET", AccessKey: "direct", AccessKeyEnv: "UNUSED"}
	cfg.ResolveEnvVars()
	if cfg.SecretKey != "from-env" {
		t.Errorf("secret = %q", cfg.SecretKey)
	}
	if cfg.AccessKey != "direct" {
		t.Errorf("access key = %q, direct value should win", cfg.AccessKey)
	}
}
