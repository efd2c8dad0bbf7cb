package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/beach/internal/wire"
	"gopkg.in/yaml.v3"
)

// SnapshotBudget mirrors wire.SnapshotBudget for YAML round-tripping
// (lane budgets are authored in config.yaml, then translated into the
// wire type advertised at Hello).
type SnapshotBudget struct {
	Lane       string `yaml:"lane"`
	MaxUpdates uint32 `yaml:"max_updates"`
}

// HostConfig holds everything a beachhost process needs beyond
// command-line flags, merged from `~/.beach/config.yaml` (user) and
// `.beach/config.yaml` (project), project overriding user — the same
// precedence a layered user/project config manager typically uses, generalized from
// JSON agent settings to this spec's sync/PTY/auth settings and from
// JSON to YAML so the nested lane-budget list reads cleanly.
type HostConfig struct {
	// PTY process
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Cols    int      `yaml:"cols,omitempty"`
	Rows    int      `yaml:"rows,omitempty"`

	// Sync tuning (spec.md §6.1 SyncConfig)
	SnapshotBudgets      []SnapshotBudget `yaml:"snapshot_budgets,omitempty"`
	DeltaBudget          uint32           `yaml:"delta_budget,omitempty"`
	HeartbeatMs          uint64           `yaml:"heartbeat_ms,omitempty"`
	InitialSnapshotLines uint32           `yaml:"initial_snapshot_lines,omitempty"`

	// Prediction tuning: loaded and merged, but nothing reads it;
	// internal/prediction always uses its built-in ack grace.
	PredictionAckGraceMs int `yaml:"prediction_ack_grace_ms,omitempty"`

	// Auth
	AuthMode     string   `yaml:"auth_mode,omitempty"` // "passkey" | "device_token"
	AllowKeys    []string `yaml:"allow_keys,omitempty"` // base64 raw P-256 points, passkey mode
	DeviceTokenTTLMs int64 `yaml:"device_token_ttl_ms,omitempty"`

	// Logging
	LogLevel string `yaml:"log_level,omitempty"`

	// Transport
	ICEServers []ICEServer `yaml:"ice_servers,omitempty"`
	RelayURL   string      `yaml:"relay_url,omitempty"` // signaling + relay-fallback rendezvous websocket
}

// ICEServer is a STUN/TURN server entry for the host's WebRTC transport,
// kept verbatim from the layered config file's established shape.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// ToWireSyncConfig translates the YAML-authored tuning knobs into the
// wire.SyncConfig advertised at Hello.
func (c *HostConfig) ToWireSyncConfig() wire.SyncConfig {
	budgets := make([]wire.SnapshotBudget, 0, len(c.SnapshotBudgets))
	for _, b := range c.SnapshotBudgets {
		budgets = append(budgets, wire.SnapshotBudget{Lane: laneFromString(b.Lane), MaxUpdates: b.MaxUpdates})
	}
	return wire.SyncConfig{
		SnapshotBudgets:      budgets,
		DeltaBudget:          c.DeltaBudget,
		HeartbeatMs:          c.HeartbeatMs,
		InitialSnapshotLines: c.InitialSnapshotLines,
	}
}

func laneFromString(s string) wire.Lane {
	switch s {
	case "recent":
		return wire.LaneRecent
	case "history":
		return wire.LaneHistory
	default:
		return wire.LaneForeground
	}
}

// defaultHostConfig fills in SyncConfig tuning the spec names as sane
// defaults (spec.md §8's reference numbers) when config.yaml omits them.
func defaultHostConfig() *HostConfig {
	return &HostConfig{
		Command: os.Getenv("SHELL"),
		Cols:    80,
		Rows:    24,
		SnapshotBudgets: []SnapshotBudget{
			{Lane: "foreground", MaxUpdates: 4096},
			{Lane: "recent", MaxUpdates: 2048},
			{Lane: "history", MaxUpdates: 1024},
		},
		DeltaBudget:          2048,
		HeartbeatMs:          1000,
		InitialSnapshotLines: 0,
		AuthMode:             "passkey",
		DeviceTokenTTLMs:     int64(30 * 24 * time.Hour / time.Millisecond),
		LogLevel:             "info",
		RelayURL:             "ws://127.0.0.1:8787/relay",
	}
}

// Manager loads and merges HostConfig from the user and project config
// directories, and can watch both for changes (see watch.go).
type Manager struct {
	userConfig    *HostConfig
	projectConfig *HostConfig
	merged        *HostConfig
}

// NewManager creates a Manager seeded with SPEC_FULL.md's documented
// defaults.
func NewManager() *Manager {
	return &Manager{
		userConfig:    &HostConfig{},
		projectConfig: &HostConfig{},
		merged:        defaultHostConfig(),
	}
}

// Load reads `<userConfigDir>/config.yaml` and
// `<projectDir>/.beach/config.yaml`, then merges them (project overrides
// user overrides defaults).
func (m *Manager) Load(userConfigDir, projectDir string) error {
	if err := m.loadConfig(filepath.Join(userConfigDir, "config.yaml"), m.userConfig); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := m.loadConfig(filepath.Join(projectDir, ".beach", "config.yaml"), m.projectConfig); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}
	m.mergeConfigs()
	return nil
}

func (m *Manager) loadConfig(path string, cfg *HostConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) mergeConfigs() {
	merged := defaultHostConfig()
	for _, layer := range []*HostConfig{m.userConfig, m.projectConfig} {
		mergeInto(merged, layer)
	}
	m.merged = merged
}

// mergeInto overlays non-zero fields of layer onto base.
func mergeInto(base *HostConfig, layer *HostConfig) {
	if layer.Command != "" {
		base.Command = layer.Command
	}
	if len(layer.Args) > 0 {
		base.Args = layer.Args
	}
	if layer.Cols != 0 {
		base.Cols = layer.Cols
	}
	if layer.Rows != 0 {
		base.Rows = layer.Rows
	}
	if len(layer.SnapshotBudgets) > 0 {
		base.SnapshotBudgets = layer.SnapshotBudgets
	}
	if layer.DeltaBudget != 0 {
		base.DeltaBudget = layer.DeltaBudget
	}
	if layer.HeartbeatMs != 0 {
		base.HeartbeatMs = layer.HeartbeatMs
	}
	if layer.InitialSnapshotLines != 0 {
		base.InitialSnapshotLines = layer.InitialSnapshotLines
	}
	if layer.PredictionAckGraceMs != 0 {
		base.PredictionAckGraceMs = layer.PredictionAckGraceMs
	}
	if layer.AuthMode != "" {
		base.AuthMode = layer.AuthMode
	}
	if len(layer.AllowKeys) > 0 {
		base.AllowKeys = layer.AllowKeys
	}
	if layer.DeviceTokenTTLMs != 0 {
		base.DeviceTokenTTLMs = layer.DeviceTokenTTLMs
	}
	if layer.LogLevel != "" {
		base.LogLevel = layer.LogLevel
	}
	if len(layer.ICEServers) > 0 {
		base.ICEServers = layer.ICEServers
	}
	if layer.RelayURL != "" {
		base.RelayURL = layer.RelayURL
	}
}

// Get returns the merged HostConfig.
func (m *Manager) Get() *HostConfig {
	return m.merged
}

// SaveUserConfig writes the in-memory user-layer config to
// `<userConfigDir>/config.yaml`.
func (m *Manager) SaveUserConfig(userConfigDir string) error {
	if err := os.MkdirAll(userConfigDir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.userConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(userConfigDir, "config.yaml"), data, 0644)
}

// SaveProjectConfig writes the in-memory project-layer config to
// `<projectDir>/.beach/config.yaml`.
func (m *Manager) SaveProjectConfig(projectDir string) error {
	beachDir := filepath.Join(projectDir, ".beach")
	if err := os.MkdirAll(beachDir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.projectConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(beachDir, "config.yaml"), data, 0644)
}
