package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// webrtcTransport carries frames over a single pion DataChannel, grounded
// on a peer/DataChannel wiring pattern (an offer-answer manager.
// HandleOffer, DCHandler) generalized from JSON pty messages to this
// spec's opaque binary frames.
type webrtcTransport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu     sync.Mutex
	inbox  chan []byte
	closed chan struct{}
	ready  chan struct{}
}

// NewWebRTCHostTransport answers an SDP offer and returns a Transport bound
// to the DataChannel the remote side opens, plus the answer SDP to send
// back through internal/signaling.
func NewWebRTCHostTransport(ctx context.Context, iceServers []webrtc.ICEServer, offerSDP string) (t *webrtcTransport, answerSDP string, err error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	wt := &webrtcTransport{pc: pc, inbox: make(chan []byte, 64), closed: make(chan struct{}), ready: make(chan struct{})}

	dcReady := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case wt.inbox <- msg.Data:
			case <-wt.closed:
			}
		})
		dc.OnOpen(func() {
			select {
			case dcReady <- dc:
			default:
			}
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, "", ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, "", errors.New("no local description after ICE gathering")
	}

	select {
	case dc := <-dcReady:
		wt.dc = dc
		close(wt.ready)
	case <-ctx.Done():
		pc.Close()
		return nil, "", ctx.Err()
	}

	return wt, local.SDP, nil
}

// NewWebRTCClientTransport creates a PeerConnection and DataChannel and
// returns the offer SDP to carry through internal/signaling. Call SetAnswer
// once the host's answer SDP arrives to complete the handshake.
func NewWebRTCClientTransport(ctx context.Context, iceServers []webrtc.ICEServer) (t *webrtcTransport, offerSDP string, err error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	wt := &webrtcTransport{pc: pc, inbox: make(chan []byte, 64), closed: make(chan struct{}), ready: make(chan struct{})}

	dc, err := pc.CreateDataChannel("beach", nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create data channel: %w", err)
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case wt.inbox <- msg.Data:
		case <-wt.closed:
		}
	})
	dc.OnOpen(func() {
		select {
		case <-wt.ready:
		default:
			close(wt.ready)
		}
	})
	wt.dc = dc

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, "", ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, "", errors.New("no local description after ICE gathering")
	}
	return wt, local.SDP, nil
}

// SetAnswer completes the client-side handshake once the host's answer SDP
// arrives, and blocks until the DataChannel opens.
func (t *webrtcTransport) SetAnswer(ctx context.Context, answerSDP string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	select {
	case <-t.ready:
		return nil
	case <-t.closed:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *webrtcTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dc.Send(frame)
}

func (t *webrtcTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *webrtcTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.pc.Close()
}
