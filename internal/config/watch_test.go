package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnProjectConfigWrite(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "user")
	projectDir := filepath.Join(dir, "project")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(projectDir, ".beach"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := NewManager()
	if err := m.Load(userDir, projectDir); err != nil {
		t.Fatalf("initial Load: %v", err)
	}

	changed := make(chan *HostConfig, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stop, err := m.Watch(userDir, projectDir, func(cfg *HostConfig) {
		changed <- cfg
	}, logger)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	path := filepath.Join(projectDir, ".beach", "config.yaml")
	if err := os.WriteFile(path, []byte("heartbeat_ms: 750\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.HeartbeatMs != 750 {
			t.Errorf("expected reloaded heartbeat_ms 750, got %d", cfg.HeartbeatMs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}
}
