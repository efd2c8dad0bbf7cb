// Package transport provides the ordered, reliable, encrypted byte-stream
// abstraction ServerSynchronizer and ClientReconciler are carried over.
// SPEC_FULL.md treats the concrete WebRTC/relay stack as an external,
// already-solved boundary; this package adapts the prior
// internal/webrtc peer/transport wiring (SwappableWriter's relay↔P2P
// migration, PeerManager's offer/answer handling) to carry this spec's
// binary wire.Envelope frames instead of JSON pty messages.
package transport

import "context"

// Transport is a bidirectional, ordered channel of already-framed bytes
// (each Send/Recv call moves exactly one wire.Envelope). Implementations:
// webrtcTransport (DataChannel, peer-to-peer) and relayTransport
// (coder/websocket, server-relayed) — selected the same way a comparable daemon
// migrates a session from relay to P2P mid-connection.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Swappable wraps a Transport and allows atomically migrating the active
// implementation, e.g. from a relay fallback to a newly-established P2P
// DataChannel, mirroring a SwappableWriter-style relay/P2P migration.
type Swappable struct {
	current chan Transport
}

// NewSwappable creates a Swappable seeded with an initial Transport (most
// often a relayTransport, while a P2P DataChannel negotiates in the
// background).
func NewSwappable(initial Transport) *Swappable {
	s := &Swappable{current: make(chan Transport, 1)}
	s.current <- initial
	return s
}

// Send delivers frame via whichever Transport is currently active.
func (s *Swappable) Send(ctx context.Context, frame []byte) error {
	t := s.peek()
	return t.Send(ctx, frame)
}

// Recv reads the next frame from whichever Transport is currently active.
func (s *Swappable) Recv(ctx context.Context) ([]byte, error) {
	t := s.peek()
	return t.Recv(ctx)
}

// Migrate atomically swaps the active Transport, closing the previous one.
// Safe to call concurrently with Send/Recv: in-flight calls finish against
// whichever Transport they already grabbed.
func (s *Swappable) Migrate(next Transport) error {
	prev := <-s.current
	s.current <- next
	return prev.Close()
}

// Close closes the currently active Transport.
func (s *Swappable) Close() error {
	t := s.peek()
	return t.Close()
}

func (s *Swappable) peek() Transport {
	t := <-s.current
	s.current <- t
	return t
}
