package signaling

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeConn struct {
	inbox chan []byte
	sent  [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 8)}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.inbox <- data
}

func TestPeekTypeReadsTypeFieldOnly(t *testing.T) {
	data, _ := json.Marshal(NewOffer("sess-1", "v=0..."))
	typ, err := PeekType(data)
	if err != nil {
		t.Fatalf("PeekType: %v", err)
	}
	if typ != TypeOffer {
		t.Fatalf("expected %q, got %q", TypeOffer, typ)
	}
}

func TestSendOfferWritesMarshaledEnvelope(t *testing.T) {
	conn := newFakeConn()
	if err := SendOffer(context.Background(), conn, "sess-1", "v=0..."); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(conn.sent))
	}
	var offer Offer
	if err := json.Unmarshal(conn.sent[0], &offer); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if offer.Type != TypeOffer || offer.Session != "sess-1" || offer.SDP != "v=0..." {
		t.Fatalf("unexpected offer contents: %+v", offer)
	}
}

func TestAwaitAnswerSkipsUnrelatedMessagesAndMatchesSession(t *testing.T) {
	conn := newFakeConn()
	conn.push(t, Candidate{Type: TypeCandidate, Session: "sess-1", Candidate: "candidate:1"})
	conn.push(t, NewAnswer("sess-other", "wrong-session-sdp"))
	conn.push(t, NewAnswer("sess-1", "v=0-answer"))

	sdp, err := AwaitAnswer(context.Background(), conn, "sess-1")
	if err != nil {
		t.Fatalf("AwaitAnswer: %v", err)
	}
	if sdp != "v=0-answer" {
		t.Fatalf("expected matching-session answer SDP, got %q", sdp)
	}
}

func TestAwaitAnswerReturnsErrorMessageForMatchingSession(t *testing.T) {
	conn := newFakeConn()
	conn.push(t, NewError("sess-other", "ignored, wrong session"))
	conn.push(t, NewError("sess-1", "offer rejected: unknown session"))

	_, err := AwaitAnswer(context.Background(), conn, "sess-1")
	if err == nil {
		t.Fatal("expected error from AwaitAnswer")
	}
}

func TestAwaitOfferReturnsSessionAndSDP(t *testing.T) {
	conn := newFakeConn()
	conn.push(t, Candidate{Type: TypeCandidate, Session: "sess-2", Candidate: "candidate:1"})
	conn.push(t, NewOffer("sess-2", "v=0-offer"))

	session, sdp, err := AwaitOffer(context.Background(), conn)
	if err != nil {
		t.Fatalf("AwaitOffer: %v", err)
	}
	if session != "sess-2" || sdp != "v=0-offer" {
		t.Fatalf("unexpected offer: session=%q sdp=%q", session, sdp)
	}
}

func TestAwaitAnswerPropagatesContextCancellation(t *testing.T) {
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := AwaitAnswer(ctx, conn, "sess-1"); err == nil {
		t.Fatal("expected context error")
	}
}
