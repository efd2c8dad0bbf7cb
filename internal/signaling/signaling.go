// Package signaling exchanges the SDP offer/answer and ICE candidates a
// client and host need to establish a direct internal/transport
// webrtcTransport, generalized from a typed WS message
// envelope (internal/ws/protocol.go's typed Type-tagged JSON messages)
// and internal/relay/handler.go's websocket read/write loop.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Message types exchanged over the signaling channel. The signaling
// channel itself (a relay WebSocket, or any other side-channel) is out of
// SPEC_FULL.md's scope — only the envelope shape is specified here.
const (
	TypeOffer     = "signal.offer"
	TypeAnswer    = "signal.answer"
	TypeCandidate = "signal.candidate"
	TypeError     = "signal.error"
)

// Envelope wraps every signaling message with a Type field for routing,
// mirroring a type-tagged Envelope convention.
type Envelope struct {
	Type string `json:"type"`
}

// Offer carries a client's SDP offer to the host.
type Offer struct {
	Type    string `json:"type"`
	Session string `json:"session_id"`
	SDP     string `json:"sdp"`
}

// Answer carries the host's SDP answer back to the client.
type Answer struct {
	Type    string `json:"type"`
	Session string `json:"session_id"`
	SDP     string `json:"sdp"`
}

// Candidate carries a trickled ICE candidate in either direction.
type Candidate struct {
	Type          string `json:"type"`
	Session       string `json:"session_id"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16 `json:"sdp_mline_index,omitempty"`
}

// ErrorMsg reports a signaling-level failure (e.g. malformed offer,
// unknown session) to the peer that sent the offending message.
type ErrorMsg struct {
	Type    string `json:"type"`
	Session string `json:"session_id"`
	Message string `json:"message"`
}

// NewOffer builds an Offer envelope with its Type field populated.
func NewOffer(session, sdp string) Offer {
	return Offer{Type: TypeOffer, Session: session, SDP: sdp}
}

// NewAnswer builds an Answer envelope with its Type field populated.
func NewAnswer(session, sdp string) Answer {
	return Answer{Type: TypeAnswer, Session: session, SDP: sdp}
}

// NewError builds an ErrorMsg envelope with its Type field populated.
func NewError(session, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Session: session, Message: message}
}

// PeekType decodes only the Type field of a raw signaling message, so the
// caller can dispatch to the right concrete struct before fully decoding.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("peek signaling envelope: %w", err)
	}
	return env.Type, nil
}

// Conn is the minimal signaling transport a Session needs: read and write
// one JSON message at a time over an already-established connection (a
// relay WebSocket in the reference deployment, but any reliable ordered
// channel satisfies it).
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// wsConn adapts a coder/websocket connection to Conn, mirroring the
// read/write pattern in a relay handler.
type wsConn struct {
	c *websocket.Conn
}

// NewWebSocketConn wraps an already-dialed or already-accepted WebSocket
// connection for use as a signaling Conn.
func NewWebSocketConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

// SendOffer marshals and writes an Offer to conn.
func SendOffer(ctx context.Context, conn Conn, session, sdp string) error {
	data, err := json.Marshal(NewOffer(session, sdp))
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	return conn.Write(ctx, data)
}

// SendAnswer marshals and writes an Answer to conn.
func SendAnswer(ctx context.Context, conn Conn, session, sdp string) error {
	data, err := json.Marshal(NewAnswer(session, sdp))
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	return conn.Write(ctx, data)
}

// AwaitAnswer blocks reading messages from conn until it sees an Answer
// for session (skipping and dropping any Candidate/other messages that
// arrive first — trickle ICE is out of scope since SPEC_FULL.md's WebRTC
// flow gathers candidates before returning a local description).
func AwaitAnswer(ctx context.Context, conn Conn, session string) (string, error) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return "", err
		}
		typ, err := PeekType(data)
		if err != nil {
			continue
		}
		switch typ {
		case TypeAnswer:
			var ans Answer
			if err := json.Unmarshal(data, &ans); err != nil {
				return "", fmt.Errorf("decode answer: %w", err)
			}
			if ans.Session != session {
				continue
			}
			return ans.SDP, nil
		case TypeError:
			var errMsg ErrorMsg
			if err := json.Unmarshal(data, &errMsg); err == nil && errMsg.Session == session {
				return "", fmt.Errorf("signaling error: %s", errMsg.Message)
			}
		}
	}
}

// AwaitOffer blocks reading messages from conn until it sees an Offer,
// returning its session id and SDP.
func AwaitOffer(ctx context.Context, conn Conn) (session, sdp string, err error) {
	for {
		data, readErr := conn.Read(ctx)
		if readErr != nil {
			return "", "", readErr
		}
		typ, peekErr := PeekType(data)
		if peekErr != nil {
			continue
		}
		if typ != TypeOffer {
			continue
		}
		var offer Offer
		if err := json.Unmarshal(data, &offer); err != nil {
			return "", "", fmt.Errorf("decode offer: %w", err)
		}
		return offer.Session, offer.SDP, nil
	}
}
