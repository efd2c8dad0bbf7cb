// Package hostio spawns the shared PTY process and pumps its output into a
// vt.Bridge (which in turn writes into the Grid), generalizing the prior
// internal/egg/server.go's PTY lifecycle — minus the gRPC control plane,
// sandboxing, and per-agent profiles, none of which this spec's core needs;
// those concerns stay out-of-scope per SPEC_FULL.md.
package hostio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/ehrlich-b/beach/internal/vt"
)

// Config describes the command to spawn under a PTY.
type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Cols    int
	Rows    int
}

// Host owns the PTY process and the vt.Bridge it feeds.
type Host struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	bridge *vt.Bridge

	startedAt time.Time

	mu           sync.Mutex
	bytesWritten uint64
	bytesRead    uint64
	exitCode     int
	done         chan struct{}
}

// Start spawns cfg.Command under a PTY of the given size and begins pumping
// its output into bridge.
func Start(cfg Config, bridge *vt.Bridge) (*Host, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Cols: uint16(cfg.Cols), Rows: uint16(cfg.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &Host{
		cmd:       cmd,
		ptmx:      ptmx,
		bridge:    bridge,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go h.readLoop()
	go h.waitLoop()

	return h, nil
}

// Write sends client input to the PTY.
func (h *Host) Write(p []byte) (int, error) {
	n, err := h.ptmx.Write(p)
	h.mu.Lock()
	h.bytesWritten += uint64(n)
	h.mu.Unlock()
	return n, err
}

// Resize changes the PTY window size and the bridge's viewport.
func (h *Host) Resize(cols, rows int) error {
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return err
	}
	h.bridge.Resize(cols, rows)
	return nil
}

// Signal delivers a signal to the child process.
func (h *Host) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(sig)
}

// Done is closed once the child process has exited.
func (h *Host) Done() <-chan struct{} { return h.done }

// ExitCode returns the child's exit code; only meaningful after Done closes.
func (h *Host) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *Host) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.bytesRead += uint64(n)
			h.mu.Unlock()
			h.bridge.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (h *Host) waitLoop() {
	exitCode := 0
	if err := h.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	h.mu.Lock()
	h.exitCode = exitCode
	h.mu.Unlock()
	h.ptmx.Close()
	h.bridge.Close()
	close(h.done)
}

// Shutdown requests graceful termination, escalating to SIGKILL if the
// process hasn't exited within the grace period.
func (h *Host) Shutdown(ctx context.Context, grace time.Duration) error {
	h.Signal(syscall.SIGTERM)
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		h.Signal(syscall.SIGKILL)
	case <-ctx.Done():
		h.Signal(syscall.SIGKILL)
		return ctx.Err()
	}
	<-h.done
	return nil
}

// Compile-time check that Host satisfies io.Writer, for callers wiring Host
// into other interfaces without importing os directly.
var _ io.Writer = (*Host)(nil)
