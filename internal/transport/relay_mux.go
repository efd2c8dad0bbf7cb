package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/beach/internal/signaling"
)

// RelayConn demultiplexes one relay WebSocket connection into the two
// logical channels a host/client pair shares over it: JSON signaling
// envelopes (text frames, internal/signaling) used to negotiate a
// webrtcTransport, and binary wire.Envelope frames (relayTransport's
// fallback/permanent data path) — so establishing P2P never requires a
// second socket, mirroring a single relay-connection design where
// SwappableWriter's relay mode and the signaling tunnel already shared one
// WebSocket.
type RelayConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	started bool

	textIn  chan []byte
	binIn   chan []byte
	readErr chan error
	closed  chan struct{}
}

// NewRelayConn wraps an already-established relay WebSocket connection.
// Call Start once before using Signaling()/Data().
func NewRelayConn(conn *websocket.Conn) *RelayConn {
	return &RelayConn{
		conn:    conn,
		textIn:  make(chan []byte, 16),
		binIn:   make(chan []byte, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Start begins the single reader goroutine demultiplexing incoming
// messages by frame type. Safe to call only once.
func (m *RelayConn) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		for {
			typ, data, err := m.conn.Read(ctx)
			if err != nil {
				select {
				case m.readErr <- err:
				default:
				}
				close(m.closed)
				return
			}
			var dst chan []byte
			if typ == websocket.MessageText {
				dst = m.textIn
			} else {
				dst = m.binIn
			}
			select {
			case dst <- data:
			case <-m.closed:
				return
			}
		}
	}()
}

// Signaling returns a signaling.Conn view over this connection's text
// frames.
func (m *RelayConn) Signaling() signaling.Conn { return relayMuxSignalingConn{m} }

// Data returns a Transport view over this connection's binary frames, for
// use as the relay-fallback (or permanent relay-mode) data path.
func (m *RelayConn) Data() Transport { return relayMuxTransport{m} }

// Close closes the underlying WebSocket connection.
func (m *RelayConn) Close() error {
	return m.conn.Close(websocket.StatusNormalClosure, "done")
}

type relayMuxSignalingConn struct{ m *RelayConn }

func (c relayMuxSignalingConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.m.textIn:
		return data, nil
	case err := <-c.m.readErr:
		return nil, err
	case <-c.m.closed:
		return nil, errors.New("relay connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c relayMuxSignalingConn) Write(ctx context.Context, data []byte) error {
	return c.m.conn.Write(ctx, websocket.MessageText, data)
}

type relayMuxTransport struct{ m *RelayConn }

func (t relayMuxTransport) Send(ctx context.Context, frame []byte) error {
	return t.m.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (t relayMuxTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.m.binIn:
		return data, nil
	case err := <-t.m.readErr:
		return nil, err
	case <-t.m.closed:
		return nil, errors.New("relay connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t relayMuxTransport) Close() error { return t.m.Close() }
