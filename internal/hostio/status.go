package hostio

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is a human-readable summary of a running Host. Nothing in
// cmd/beachhost calls Snapshot or prints a Status.
type Status struct {
	Uptime       time.Duration
	BytesRead    uint64
	BytesWritten uint64
}

// Snapshot reports the Host's current byte counters and uptime.
func (h *Host) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Uptime:       time.Since(h.startedAt).Round(time.Second),
		BytesRead:    h.bytesRead,
		BytesWritten: h.bytesWritten,
	}
}

// String renders the status as one line, e.g.
// "up 4m12s, 1.2 MB from pty, 340 B to pty".
func (s Status) String() string {
	return fmt.Sprintf("up %s, %s from pty, %s to pty",
		s.Uptime,
		humanize.Bytes(s.BytesRead),
		humanize.Bytes(s.BytesWritten),
	)
}
