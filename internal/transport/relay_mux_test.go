package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newRelayPair(t *testing.T) (client, server *RelayConn, cleanup func()) {
	t.Helper()
	var serverConn *websocket.Conn
	accepted := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		serverConn = c
		close(accepted)
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	ctx := context.Background()
	clientConn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted

	client = NewRelayConn(clientConn)
	server = NewRelayConn(serverConn)
	client.Start(ctx)
	server.Start(ctx)

	return client, server, func() {
		clientConn.Close(websocket.StatusNormalClosure, "")
		serverConn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
	}
}

func TestRelayConnRoutesTextToSignaling(t *testing.T) {
	client, server, cleanup := newRelayPair(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Signaling().Write(ctx, []byte(`{"type":"signal.offer"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := server.Signaling().Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"signal.offer"}` {
		t.Errorf("unexpected payload: %s", data)
	}
}

func TestRelayConnRoutesBinaryToData(t *testing.T) {
	client, server, cleanup := newRelayPair(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Data().Send(ctx, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("send: %v", err)
	}
	data, err := server.Data().Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(data) != 3 || data[0] != 0x01 {
		t.Errorf("unexpected frame: %v", data)
	}
}

func TestRelayConnKeepsSignalingAndDataIndependent(t *testing.T) {
	client, server, cleanup := newRelayPair(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Signaling().Write(ctx, []byte(`{"type":"signal.answer"}`)); err != nil {
		t.Fatalf("write signaling: %v", err)
	}
	if err := client.Data().Send(ctx, []byte{0xAA}); err != nil {
		t.Fatalf("send data: %v", err)
	}

	sig, err := server.Signaling().Read(ctx)
	if err != nil {
		t.Fatalf("read signaling: %v", err)
	}
	if string(sig) != `{"type":"signal.answer"}` {
		t.Errorf("unexpected signaling payload: %s", sig)
	}

	frame, err := server.Data().Recv(ctx)
	if err != nil {
		t.Fatalf("recv data: %v", err)
	}
	if len(frame) != 1 || frame[0] != 0xAA {
		t.Errorf("unexpected data frame: %v", frame)
	}
}
