package main

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/ehrlich-b/beach/internal/auth"
	"github.com/ehrlich-b/beach/internal/config"
)

func TestApplyFlagOverridesLeavesConfigAloneWhenFlagsUnset(t *testing.T) {
	cfg := &config.HostConfig{Command: "/bin/bash", Cols: 80, Rows: 24, AuthMode: "passkey"}
	applyFlagOverrides(cfg, hostOptions{})
	if cfg.Command != "/bin/bash" || cfg.Cols != 80 || cfg.Rows != 24 || cfg.AuthMode != "passkey" {
		t.Fatalf("zero-value opts mutated config: %+v", cfg)
	}
}

func TestApplyFlagOverridesOverlaysSetFlags(t *testing.T) {
	cfg := &config.HostConfig{Command: "/bin/bash", Cols: 80, Rows: 24, AuthMode: "passkey", LogLevel: "info"}
	applyFlagOverrides(cfg, hostOptions{
		command:   "/bin/zsh",
		cols:      120,
		authMode:  "device_token",
		allowKeys: []string{"abc"},
		logLevel:  "debug",
	})
	if cfg.Command != "/bin/zsh" {
		t.Fatalf("command not overridden: %q", cfg.Command)
	}
	if cfg.Cols != 120 {
		t.Fatalf("cols not overridden: %d", cfg.Cols)
	}
	if cfg.Rows != 24 {
		t.Fatalf("rows should be left at config default, got %d", cfg.Rows)
	}
	if cfg.AuthMode != "device_token" {
		t.Fatalf("auth mode not overridden: %q", cfg.AuthMode)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not overridden: %q", cfg.LogLevel)
	}
	if len(cfg.AllowKeys) != 1 || cfg.AllowKeys[0] != "abc" {
		t.Fatalf("allow keys not overridden: %v", cfg.AllowKeys)
	}
}

func TestBuildChallengerDeviceTokenMode(t *testing.T) {
	pub, priv, err := auth.EnsureSigningKeyPair(t.TempDir())
	if err != nil {
		t.Fatalf("ensure signing key pair: %v", err)
	}
	issuer := auth.NewTokenIssuer(priv, pub)
	cfg := &config.HostConfig{AuthMode: "device_token", DeviceTokenTTLMs: int64(time.Hour / time.Millisecond)}
	challenger, err := buildChallenger(cfg, issuer)
	if err != nil {
		t.Fatalf("buildChallenger: %v", err)
	}
	token, err := issuer.Issue("device-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	decision := challenger.ChallengeDeviceToken(token)
	if !decision.Granted {
		t.Fatalf("expected grant, got denial: %s", decision.Reason)
	}
}

func TestBuildChallengerPasskeyModeRejectsInvalidAllowKey(t *testing.T) {
	cfg := &config.HostConfig{AuthMode: "passkey", AllowKeys: []string{base64.StdEncoding.EncodeToString([]byte("not a point"))}}
	if _, err := buildChallenger(cfg, nil); err == nil {
		t.Fatal("expected error for malformed allow_keys entry")
	}
}

func TestBuildChallengerUnknownModeErrors(t *testing.T) {
	cfg := &config.HostConfig{AuthMode: "carrier-pigeon"}
	if _, err := buildChallenger(cfg, nil); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}
}

func TestBuildICEServersMapsFields(t *testing.T) {
	servers := []config.ICEServer{
		{URLs: []string{"stun:stun.example.com:19302"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	}
	out := buildICEServers(servers)
	if len(out) != 2 {
		t.Fatalf("expected 2 ICE servers, got %d", len(out))
	}
	if out[1].Username != "u" || out[1].Credential != "p" {
		t.Fatalf("credentials not mapped: %+v", out[1])
	}
}
