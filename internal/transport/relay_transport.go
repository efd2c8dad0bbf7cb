package transport

import (
	"context"

	"github.com/coder/websocket"
)

// relayTransport carries frames over a coder/websocket connection to a
// relay server, used as the fallback path while a direct webrtcTransport
// negotiates (or permanently, when NAT traversal fails), grounded on
// a relay WS server and SwappableWriter's relay mode.
type relayTransport struct {
	conn *websocket.Conn
}

// DialRelay opens a relay connection for frame exchange.
func DialRelay(ctx context.Context, url string) (*relayTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &relayTransport{conn: conn}, nil
}

// NewRelayTransport wraps an already-accepted server-side connection (e.g.
// from websocket.Accept in an http.Handler).
func NewRelayTransport(conn *websocket.Conn) *relayTransport {
	return &relayTransport{conn: conn}
}

func (t *relayTransport) Send(ctx context.Context, frame []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (t *relayTransport) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *relayTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "done")
}
