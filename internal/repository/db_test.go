package repository

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timmy/assetingest/internal/config"
	applog "github.com/timmy/assetingest/internal/logger"
)

func TestInitDBLogsDriverField(t *testing.T) {
	var buf bytes.Buffer
	prev := applog.GetDefault()
	applog.SetDefaultLogger(applog.New(&applog.Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"}))
	t.Cleanup(func() { applog.SetDefaultLogger(prev) })

	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "log.db"),
		AutoMigrate: false,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected init and migrate log lines, got %q", buf.String())
	}
	for _, raw := range lines {
		var line map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("expected json log line, got %q: %v", raw, err)
		}
		msg, _ := line["message"].(string)
		if strings.Contains(msg, "%") {
			t.Errorf("message has unexpanded directive: %q", msg)
		}
		if line["driver"] != "sqlite" {
			t.Errorf("driver field = %v, want sqlite", line["driver"])
		}
	}
}
