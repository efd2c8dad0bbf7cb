// Command beachclient attaches to a beachhost session, reconciling the
// remote terminal grid locally and rendering it with mosh-style predictive
// local echo, mirroring a raw-terminal attach loop
// (term.MakeRaw, SIGWINCH resize, a dedicated stdin-reader goroutine).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/beach/internal/auth"
	"github.com/ehrlich-b/beach/internal/clipboard"
	"github.com/ehrlich-b/beach/internal/config"
	"github.com/ehrlich-b/beach/internal/reconciler"
	"github.com/ehrlich-b/beach/internal/signaling"
	"github.com/ehrlich-b/beach/internal/transport"
	"github.com/ehrlich-b/beach/internal/wire"
)

func main() {
	var (
		relayURLFlag string
		sessionFlag  string
		authModeFlag string
		deviceIDFlag string
	)

	root := &cobra.Command{
		Use:   "beachclient",
		Short: "Attach to a shared beachhost terminal session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionFlag == "" {
				return fmt.Errorf("--session is required")
			}
			opts := clientOptions{
				relayURL: relayURLFlag,
				session:  sessionFlag,
				authMode: authModeFlag,
				deviceID: deviceIDFlag,
			}
			return runClient(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&relayURLFlag, "relay-url", "ws://127.0.0.1:8787/relay", "Relay websocket URL for signaling and fallback transport")
	root.Flags().StringVar(&sessionFlag, "session", "", "Session code printed by beachhost")
	root.Flags().StringVar(&authModeFlag, "auth-mode", "device_token", "passkey or device_token")
	root.Flags().StringVar(&deviceIDFlag, "device-id", "", "Device identity to request a token under (device_token mode)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "beachclient:", err)
		os.Exit(1)
	}
}

type clientOptions struct {
	relayURL string
	session  string
	authMode string
	deviceID string
}

func runClient(ctx context.Context, opts clientOptions) error {
	wsURL := opts.relayURL + "?session=" + opts.session + "&role=client"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	rc := transport.NewRelayConn(conn)
	rc.Start(ctx)
	defer rc.Close()

	if err := sendCredential(ctx, rc.Data(), opts); err != nil {
		return fmt.Errorf("send credential: %w", err)
	}

	wt, offerSDP, err := transport.NewWebRTCClientTransport(ctx, nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := signaling.SendOffer(ctx, rc.Signaling(), opts.session, offerSDP); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	sentinel, err := rc.Data().Recv(ctx)
	if err != nil {
		return fmt.Errorf("await approval: %w", err)
	}
	if strings.HasPrefix(string(sentinel), auth.SentinelApprovalDenied) {
		fmt.Fprintln(os.Stderr, "Disconnected before approval.")
		return nil
	}

	answerSDP, err := signaling.AwaitAnswer(ctx, rc.Signaling(), opts.session)
	if err != nil {
		return fmt.Errorf("await answer: %w", err)
	}
	if err := wt.SetAnswer(ctx, answerSDP); err != nil {
		return fmt.Errorf("complete webrtc handshake: %w", err)
	}

	active := transport.NewSwappable(rc.Data())
	if err := active.Migrate(wt); err != nil {
		fmt.Fprintln(os.Stderr, "beachclient: staying on relay fallback:", err)
	}
	defer active.Close()

	return attachTerminal(ctx, active)
}

type credentialMessage struct {
	Mode              string `json:"mode"`
	Challenge         string `json:"challenge,omitempty"`
	AuthenticatorData string `json:"authenticator_data,omitempty"`
	ClientDataJSON    string `json:"client_data_json,omitempty"`
	Signature         string `json:"signature,omitempty"`
	Token             string `json:"token,omitempty"`
}

func sendCredential(ctx context.Context, t transport.Transport, opts clientOptions) error {
	switch opts.authMode {
	case "device_token":
		userConfigDir, err := config.GetUserConfigDir()
		if err != nil {
			return err
		}
		store := auth.NewTokenStore(userConfigDir)
		token, err := store.Load()
		if err != nil {
			return err
		}
		if token == nil || !store.IsValid(token) {
			return fmt.Errorf("no valid cached device token; enroll with beachhost first")
		}
		raw, err := json.Marshal(credentialMessage{Mode: "device_token", Token: token.Token})
		if err != nil {
			return err
		}
		return t.Send(ctx, raw)
	case "passkey":
		return fmt.Errorf("passkey approval requires a platform authenticator ceremony outside this CLI; use --auth-mode device_token")
	default:
		return fmt.Errorf("unknown auth mode %q", opts.authMode)
	}
}

// attachTerminal puts the local terminal into raw mode, drives the
// Reconciler from inbound HostFrames, forwards keystrokes as ClientFrame
// Input, and redraws the viewport on every reconciled change.
func attachTerminal(ctx context.Context, t transport.Transport) error {
	fd := int(os.Stdin.Fd())
	var following atomic.Bool
	following.Store(true)

	rec := reconciler.New(func() bool { return following.Load() })
	renderer := newRenderer(os.Stdout)
	clip := clipboard.NewScanner(func(selection string, data []byte) {
		// Headless CLI: nothing owns the OS clipboard here, so proposed
		// writes are surfaced as a status line rather than silently
		// dropped or guessed at with a platform-specific clipboard lib.
		fmt.Fprintf(os.Stderr, "\r\n[beach] remote clipboard set (%s, %d bytes)\r\n", selection, len(data))
	})

	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}
	if _, h, err := term.GetSize(fd); err == nil {
		renderer.setRows(h)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	var inputSeq uint64
	stdinErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				seq := atomic.AddUint64(&inputSeq, 1)
				data := append([]byte(nil), buf[:n]...)
				rec.Predictions().RegisterInput(seq, data, rec.Cols())
				if sendErr := sendClientFrame(ctx, t, wire.ClientFrame{Type: wire.FrameInput, InputSeq: seq, InputData: data}); sendErr != nil {
					stdinErrCh <- sendErr
					return
				}
			}
			if err != nil {
				stdinErrCh <- err
				return
			}
		}
	}()

	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				renderer.setRows(h)
				sendClientFrame(ctx, t, wire.ClientFrame{Type: wire.FrameResize, ResizeCols: uint16(w), ResizeRows: uint16(h)})
			}
		}
	}()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-stdinErrCh:
			return err
		case <-tick.C:
			if req := rec.Tick(time.Now()); req != nil {
				sendClientFrame(ctx, t, wire.ClientFrame{
					Type:      wire.FrameRequestBackfill,
					RequestID: req.ID,
					StartRow:  req.Start,
					Count:     uint32(req.End - req.Start),
				})
			}
			rec.Predictions().Sweep(time.Now())
			renderer.draw(rec)
		default:
			f, err := recvHostFrame(ctx, t)
			if err != nil {
				return err
			}
			renderer.observeUpdates(f.Updates)
			rec.HandleFrame(f, time.Now())
			if f.Type == wire.FrameInputAck {
				rec.Predictions().Ack(f.AckSeq, time.Now())
			}
			scanTouchedRows(rec, f, clip)
			renderer.draw(rec)
		}
	}
}

func scanTouchedRows(rec *reconciler.Reconciler, f wire.HostFrame, clip *clipboard.Scanner) {
	rows := make(map[uint64]bool)
	for _, u := range f.Updates {
		rows[uint64(u.Row)] = true
	}
	for row := range rows {
		r := rec.Row(row)
		if r == nil || r.Cells == nil {
			continue
		}
		var sb strings.Builder
		for _, c := range r.Cells {
			sb.WriteRune(c.Rune())
		}
		clip.ScanLine(sb.String())
	}
}

func sendClientFrame(ctx context.Context, t transport.Transport, f wire.ClientFrame) error {
	var buf bytes.Buffer
	if err := wire.WriteEnvelope(&buf, wire.EncodeClientFrame(f)); err != nil {
		return err
	}
	return t.Send(ctx, buf.Bytes())
}

func recvHostFrame(ctx context.Context, t transport.Transport) (wire.HostFrame, error) {
	raw, err := t.Recv(ctx)
	if err != nil {
		return wire.HostFrame{}, err
	}
	payload, err := wire.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return wire.HostFrame{}, err
	}
	return wire.DecodeHostFrame(payload)
}
