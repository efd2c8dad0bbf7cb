// Package syncserver implements ServerSynchronizer and BackfillEngine:
// per-subscriber Hello/Grid/snapshot/delta scheduling over priority lanes,
// chunked framing, and history backfill fulfillment (spec.md §4.4, §4.5).
// The fan-out shape — one owning goroutine per subscriber, commands and
// wakeups delivered over channels rather than shared mutable state — follows
// the teacher's per-subscriber sink pattern in its relay/pty_relay.go and
// vibetunnel's termsocket/manager.go subscriber-channel fan-out.
package syncserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/beach/internal/cache"
	"github.com/ehrlich-b/beach/internal/wire"
)

// Sender delivers an encoded HostFrame to one subscriber's transport. It is
// supplied by internal/transport; syncserver never imports transport
// directly, keeping the dependency direction the way spec.md §5 describes
// ("Outbound per-subscriber send order is guaranteed by sending through a
// single owner task per transport").
type Sender func(wire.HostFrame) error

type backfillJob struct {
	requestID uint64
	nextRow   uint64
	endRow    uint64
}

// Subscriber is per-subscriber synchronizer state: the TransmitterCache
// mirror, delta watermark, handshake progress per lane, and the backfill
// FIFO. Owned by exactly one forwarder goroutine — the mutex here guards
// only against the rare case of a concurrent RemoveTransport racing a send,
// not against the steady-state single-owner path.
type Subscriber struct {
	ID uint64

	mu                sync.Mutex
	cache             *cache.Cache
	lastSeq           uint64
	handshakeComplete bool
	laneClosed        [3]bool
	backfillQueue     []backfillJob
	limiter           *rate.Limiter
	active            bool

	send Sender
}

func newSubscriber(id uint64, cols int, send Sender) *Subscriber {
	return &Subscriber{
		ID:      id,
		cache:   cache.New(cols),
		send:    send,
		active:  true,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

// LastSeq returns the subscriber's current delta watermark.
func (s *Subscriber) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// HandshakeComplete reports whether every lane's snapshot has finished.
func (s *Subscriber) HandshakeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeComplete
}

// Active reports whether the subscriber's transport is still considered
// live (false after a transport-fatal error, per spec.md §7 kind 1).
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MarkInactive flags the subscriber inactive and drops its backfill queue,
// per spec.md §5 "Backpressure": a distinct RemoveTransport command removes
// it from the forwarder elsewhere; this only stops further sends.
func (s *Subscriber) MarkInactive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.backfillQueue = nil
	s.handshakeComplete = false
}
