package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerAppliesDocumentedDefaults(t *testing.T) {
	m := NewManager()
	cfg := m.Get()
	if cfg.HeartbeatMs != 1000 {
		t.Errorf("expected default heartbeat_ms 1000, got %d", cfg.HeartbeatMs)
	}
	if len(cfg.SnapshotBudgets) != 3 {
		t.Fatalf("expected 3 default lane budgets, got %d", len(cfg.SnapshotBudgets))
	}
	if cfg.AuthMode != "passkey" {
		t.Errorf("expected default auth_mode passkey, got %q", cfg.AuthMode)
	}
}

func TestLoadMergesProjectOverUser(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "user")
	projectDir := filepath.Join(dir, "project")
	if err := os.MkdirAll(filepath.Join(projectDir, ".beach"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	userYAML := "heartbeat_ms: 2000\nauth_mode: device_token\n"
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userYAML), 0644); err != nil {
		t.Fatalf("write user config: %v", err)
	}
	projectYAML := "heartbeat_ms: 500\n"
	if err := os.WriteFile(filepath.Join(projectDir, ".beach", "config.yaml"), []byte(projectYAML), 0644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	m := NewManager()
	if err := m.Load(userDir, projectDir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()
	if cfg.HeartbeatMs != 500 {
		t.Errorf("expected project override heartbeat_ms 500, got %d", cfg.HeartbeatMs)
	}
	if cfg.AuthMode != "device_token" {
		t.Errorf("expected user-set auth_mode to survive merge, got %q", cfg.AuthMode)
	}
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	if err := m.Load(filepath.Join(dir, "nope-user"), filepath.Join(dir, "nope-project")); err != nil {
		t.Fatalf("expected no error for missing config files, got %v", err)
	}
}

func TestToWireSyncConfigTranslatesLaneStrings(t *testing.T) {
	cfg := &HostConfig{
		SnapshotBudgets: []SnapshotBudget{
			{Lane: "foreground", MaxUpdates: 10},
			{Lane: "recent", MaxUpdates: 20},
			{Lane: "history", MaxUpdates: 30},
		},
		DeltaBudget:          64,
		HeartbeatMs:          1000,
		InitialSnapshotLines: 50,
	}
	wireCfg := cfg.ToWireSyncConfig()
	if len(wireCfg.SnapshotBudgets) != 3 {
		t.Fatalf("expected 3 budgets, got %d", len(wireCfg.SnapshotBudgets))
	}
	if wireCfg.SnapshotBudgets[1].MaxUpdates != 20 {
		t.Errorf("expected recent lane budget 20, got %d", wireCfg.SnapshotBudgets[1].MaxUpdates)
	}
	if wireCfg.DeltaBudget != 64 || wireCfg.HeartbeatMs != 1000 || wireCfg.InitialSnapshotLines != 50 {
		t.Errorf("unexpected scalar field translation: %+v", wireCfg)
	}
}

func TestSaveAndReloadUserConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "user")

	m := NewManager()
	m.userConfig.HeartbeatMs = 1500
	if err := m.SaveUserConfig(userDir); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}

	reloaded := NewManager()
	if err := reloaded.Load(userDir, filepath.Join(dir, "project")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Get().HeartbeatMs != 1500 {
		t.Errorf("expected saved heartbeat_ms to survive reload, got %d", reloaded.Get().HeartbeatMs)
	}
}
