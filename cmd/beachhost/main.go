// Command beachhost owns a PTY and streams its terminal grid to remote
// beachclient processes over WebRTC (falling back to a relay websocket),
// mirroring a PTY-owning daemon's typical wiring shape: cobra for the CLI
// surface, internal/config for layered YAML settings, internal/logger for
// structured output, and a signal-driven graceful shutdown.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/beach/internal/auth"
	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/config"
	"github.com/ehrlich-b/beach/internal/grid"
	"github.com/ehrlich-b/beach/internal/hostio"
	"github.com/ehrlich-b/beach/internal/logger"
	"github.com/ehrlich-b/beach/internal/signaling"
	"github.com/ehrlich-b/beach/internal/syncserver"
	"github.com/ehrlich-b/beach/internal/timeline"
	"github.com/ehrlich-b/beach/internal/transport"
	"github.com/ehrlich-b/beach/internal/vt"
	"github.com/ehrlich-b/beach/internal/wire"
)

func main() {
	var (
		commandFlag  string
		colsFlag     int
		rowsFlag     int
		relayURLFlag string
		authModeFlag string
		allowKeysFlag []string
		logLevelFlag string
		logFileFlag  string
	)

	root := &cobra.Command{
		Use:   "beachhost",
		Short: "Share a terminal session with remote beachclient viewers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := hostOptions{
				command:   commandFlag,
				cols:      colsFlag,
				rows:      rowsFlag,
				relayURL:  relayURLFlag,
				authMode:  authModeFlag,
				allowKeys: allowKeysFlag,
				logLevel:  logLevelFlag,
				logFile:   logFileFlag,
			}
			return runHost(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&commandFlag, "command", "", "Command to run under the shared PTY (defaults to $SHELL)")
	root.Flags().IntVar(&colsFlag, "cols", 0, "Initial PTY column count (defaults to config)")
	root.Flags().IntVar(&rowsFlag, "rows", 0, "Initial PTY row count (defaults to config)")
	root.Flags().StringVar(&relayURLFlag, "relay-url", "", "Relay websocket URL for signaling and fallback transport")
	root.Flags().StringVar(&authModeFlag, "auth-mode", "", "passkey or device_token")
	root.Flags().StringArrayVar(&allowKeysFlag, "allow-key", nil, "base64 raw P-256 point allow-listed for passkey approval (repeatable)")
	root.Flags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn, or error")
	root.Flags().StringVar(&logFileFlag, "log-file", "", "Also write logs to this file (in addition to stdout)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "beachhost:", err)
		os.Exit(1)
	}
}

type hostOptions struct {
	command   string
	cols      int
	rows      int
	relayURL  string
	authMode  string
	allowKeys []string
	logLevel  string
	logFile   string
}

func runHost(ctx context.Context, opts hostOptions) error {
	userConfigDir, err := config.GetUserConfigDir()
	if err != nil {
		return fmt.Errorf("resolve user config dir: %w", err)
	}
	projectDir, err := config.GetProjectDir()
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.EnsureConfigDirs(userConfigDir, projectDir); err != nil {
		return fmt.Errorf("ensure config dirs: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(userConfigDir, projectDir); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	applyFlagOverrides(cfg, opts)

	if err := logger.Init(cfg.LogLevel, opts.logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pub, priv, err := auth.EnsureSigningKeyPair(userConfigDir)
	if err != nil {
		return fmt.Errorf("ensure signing key pair: %w", err)
	}
	issuer := auth.NewTokenIssuer(priv, pub)
	challenger, err := buildChallenger(cfg, issuer)
	if err != nil {
		return fmt.Errorf("build challenger: %w", err)
	}

	styles := cellmodel.NewStyleTable()
	var synchronizer *syncserver.Synchronizer
	g := grid.New(cfg.Rows, cfg.Cols, styles, func(u grid.CacheUpdate) {
		if synchronizer != nil {
			synchronizer.OnGridUpdate(u)
		}
	})
	tl := timeline.New(16384)
	synchronizer = syncserver.New(g, tl, cfg.ToWireSyncConfig())

	bridge := vt.New(g)
	h, err := hostio.Start(hostio.Config{
		Command: cfg.Command,
		Args:    cfg.Args,
		Cols:    cfg.Cols,
		Rows:    cfg.Rows,
	}, bridge)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}

	stopWatch, err := mgr.Watch(userConfigDir, projectDir, func(updated *config.HostConfig) {
		synchronizer.UpdateConfig(updated.ToWireSyncConfig())
		logger.Info("config reloaded")
	}, logger.Log)
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
	} else {
		defer stopWatch()
	}

	go acceptSessions(ctx, cfg, synchronizer, h, challenger)

	select {
	case <-h.Done():
	case <-ctx.Done():
		_ = h.Shutdown(context.Background(), 3*time.Second)
	}

	code := h.ExitCode()
	logger.Info("host exiting", "exit_code", code)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func applyFlagOverrides(cfg *config.HostConfig, opts hostOptions) {
	if opts.command != "" {
		cfg.Command = opts.command
	}
	if opts.cols != 0 {
		cfg.Cols = opts.cols
	}
	if opts.rows != 0 {
		cfg.Rows = opts.rows
	}
	if opts.relayURL != "" {
		cfg.RelayURL = opts.relayURL
	}
	if opts.authMode != "" {
		cfg.AuthMode = opts.authMode
	}
	if len(opts.allowKeys) > 0 {
		cfg.AllowKeys = opts.allowKeys
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
}

func buildChallenger(cfg *config.HostConfig, issuer *auth.TokenIssuer) (*auth.Challenger, error) {
	switch cfg.AuthMode {
	case "device_token":
		ttl := time.Duration(cfg.DeviceTokenTTLMs) * time.Millisecond
		return auth.NewDeviceTokenChallenger(issuer, ttl), nil
	case "passkey", "":
		keys := make([][]byte, 0, len(cfg.AllowKeys))
		for _, encoded := range cfg.AllowKeys {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("decode allow_keys entry: %w", err)
			}
			if !auth.IsValidP256Point(raw) {
				return nil, fmt.Errorf("allow_keys entry is not a valid P-256 point")
			}
			keys = append(keys, raw)
		}
		return auth.NewPasskeyChallenger(keys), nil
	default:
		return nil, fmt.Errorf("unknown auth_mode %q", cfg.AuthMode)
	}
}

func buildICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// acceptSessions repeatedly mints a fresh session code, advertises it, and
// blocks waiting for one client to join it over the relay before minting
// the next — the relay server (out of SPEC_FULL.md's scope per §4.12)
// pairs a host and client connection that present the same session code.
func acceptSessions(ctx context.Context, cfg *config.HostConfig, synchronizer *syncserver.Synchronizer, h *hostio.Host, challenger *auth.Challenger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sessionID := uuid.New().String()
		fmt.Fprintf(os.Stderr, "beach: share this session code with a client: %s\n", sessionID)

		if err := acceptOneSession(ctx, cfg, sessionID, synchronizer, h, challenger); err != nil {
			logger.Warn("session ended", "session", sessionID, "error", err)
		}
	}
}

func acceptOneSession(ctx context.Context, cfg *config.HostConfig, sessionID string, synchronizer *syncserver.Synchronizer, h *hostio.Host, challenger *auth.Challenger) error {
	wsURL := cfg.RelayURL + "?session=" + sessionID + "&role=host"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	rc := transport.NewRelayConn(conn)
	rc.Start(ctx)
	defer rc.Close()

	session, offerSDP, err := signaling.AwaitOffer(ctx, rc.Signaling())
	if err != nil {
		return fmt.Errorf("await offer: %w", err)
	}

	decision := challengeClient(ctx, rc.Data(), challenger)
	if err := sendSentinel(ctx, rc.Data(), decision); err != nil {
		return fmt.Errorf("send approval sentinel: %w", err)
	}
	if !decision.Granted {
		logger.Info("client denied", "session", session, "reason", decision.Reason)
		return nil
	}

	wt, answerSDP, err := transport.NewWebRTCHostTransport(ctx, buildICEServers(cfg.ICEServers), offerSDP)
	if err != nil {
		return fmt.Errorf("negotiate webrtc: %w", err)
	}
	if err := signaling.SendAnswer(ctx, rc.Signaling(), session, answerSDP); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	active := transport.NewSwappable(rc.Data())
	if err := active.Migrate(wt); err != nil {
		logger.Warn("migrate to p2p failed, staying on relay", "error", err)
	}
	defer active.Close()

	sub, err := synchronizer.AddSubscriber(func(f wire.HostFrame) error {
		return sendHostFrame(ctx, active, f)
	})
	if err != nil {
		return fmt.Errorf("add subscriber: %w", err)
	}
	defer synchronizer.RemoveSubscriber(sub.ID)

	if err := synchronizer.SendHandshakeSnapshots(sub); err != nil {
		return fmt.Errorf("send handshake snapshots: %w", err)
	}

	backfillTicker := time.NewTicker(50 * time.Millisecond)
	defer backfillTicker.Stop()
	heartbeatInterval := time.Duration(cfg.HeartbeatMs) * time.Millisecond
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Second
	}
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-backfillTicker.C:
				if !sub.Active() {
					return
				}
				synchronizer.TickBackfill(sub)
			case <-heartbeatTicker.C:
				if !sub.Active() {
					return
				}
				synchronizer.SendHeartbeat(sub, uint64(time.Now().UnixMilli()))
			}
		}
	}()

	for sub.Active() {
		f, err := recvClientFrame(ctx, active)
		if err != nil {
			return fmt.Errorf("recv client frame: %w", err)
		}
		switch f.Type {
		case wire.FrameInput:
			if _, err := h.Write(f.InputData); err != nil {
				logger.Warn("pty write failed", "error", err)
			}
		case wire.FrameResize:
			if err := h.Resize(int(f.ResizeCols), int(f.ResizeRows)); err != nil {
				logger.Warn("pty resize failed", "error", err)
			}
		case wire.FrameRequestBackfill:
			synchronizer.RequestBackfill(sub, f.RequestID, f.StartRow, f.Count)
		}
	}
	return nil
}

// credentialMessage is the out-of-band, pre-Hello JSON exchange SPEC_FULL.md
// §4.13 calls "a new transport connection is in state Connecting" — sent
// raw over the Transport (not wire-enveloped) before either side starts
// speaking HostFrame/ClientFrame.
type credentialMessage struct {
	Mode              string `json:"mode"`
	Challenge         string `json:"challenge,omitempty"`
	AuthenticatorData string `json:"authenticator_data,omitempty"`
	ClientDataJSON    string `json:"client_data_json,omitempty"`
	Signature         string `json:"signature,omitempty"`
	Token             string `json:"token,omitempty"`
}

func challengeClient(ctx context.Context, t transport.Transport, challenger *auth.Challenger) auth.Decision {
	raw, err := t.Recv(ctx)
	if err != nil {
		return auth.Decision{Granted: false, Reason: "no credential received"}
	}
	var cred credentialMessage
	if err := json.Unmarshal(raw, &cred); err != nil {
		return auth.Decision{Granted: false, Reason: "malformed credential"}
	}
	switch cred.Mode {
	case "device_token":
		return challenger.ChallengeDeviceToken(cred.Token)
	case "passkey":
		challenge, _ := base64.StdEncoding.DecodeString(cred.Challenge)
		authData, _ := base64.StdEncoding.DecodeString(cred.AuthenticatorData)
		clientData, _ := base64.StdEncoding.DecodeString(cred.ClientDataJSON)
		sig, _ := base64.StdEncoding.DecodeString(cred.Signature)
		return challenger.ChallengePasskey(challenge, authData, clientData, sig)
	default:
		return auth.Decision{Granted: false, Reason: "unknown credential mode"}
	}
}

func sendSentinel(ctx context.Context, t transport.Transport, decision auth.Decision) error {
	return t.Send(ctx, []byte(decision.Sentinel()))
}

func sendHostFrame(ctx context.Context, t transport.Transport, f wire.HostFrame) error {
	var buf bytes.Buffer
	if err := wire.WriteEnvelope(&buf, wire.EncodeHostFrame(f)); err != nil {
		return err
	}
	return t.Send(ctx, buf.Bytes())
}

func recvClientFrame(ctx context.Context, t transport.Transport) (wire.ClientFrame, error) {
	raw, err := t.Recv(ctx)
	if err != nil {
		return wire.ClientFrame{}, err
	}
	payload, err := wire.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return wire.ClientFrame{}, err
	}
	return wire.DecodeClientFrame(payload)
}
