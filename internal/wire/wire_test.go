package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("hello wire frame payload")
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, payload); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestEnvelopeChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	WriteEnvelope(&buf, []byte("abc"))
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // corrupt last payload byte
	if _, err := ReadEnvelope(bytes.NewReader(raw)); err != ErrChecksum {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	f := HostFrame{
		Type:         FrameHello,
		Subscription: 42,
		MaxSeq:       1000,
		Features:     FeatureCursorSync,
		Config: SyncConfig{
			SnapshotBudgets: []SnapshotBudget{
				{Lane: LaneForeground, MaxUpdates: 64},
				{Lane: LaneRecent, MaxUpdates: 32},
			},
			DeltaBudget:          128,
			HeartbeatMs:          10000,
			InitialSnapshotLines: 200,
		},
	}
	encoded := EncodeHostFrame(f)
	decoded, err := DecodeHostFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeHostFrame: %v", err)
	}
	if !reflect.DeepEqual(f, decoded) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, f)
	}
}

func TestSnapshotWithCursorRoundTrip(t *testing.T) {
	f := HostFrame{
		Type:         FrameSnapshot,
		Subscription: 1,
		Lane:         LaneForeground,
		Watermark:    500,
		HasMore:      true,
		Updates: []Update{
			{Kind: UpdRow, Row: 3, Seq: 10, Cells: []uint64{1, 2, 3, 4}},
			{Kind: UpdTrim, Start: 0, Count: 5, Seq: 11},
			{Kind: UpdStyle, StyleId: 7, Seq: 12, Fg: 0x01FF0000, Bg: 0, Attrs: 3},
		},
		Cursor: &CursorFrame{Row: 3, Col: 5, Seq: 12, Visible: true, Blink: false},
	}
	encoded := EncodeHostFrame(f)
	decoded, err := DecodeHostFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeHostFrame: %v", err)
	}
	if !reflect.DeepEqual(f, decoded) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, f)
	}
}

func TestHistoryBackfillRoundTrip(t *testing.T) {
	f := HostFrame{
		Type:         FrameHistoryBackfill,
		Subscription: 1,
		RequestID:    99,
		StartRow:     100,
		Count:        64,
		Updates: []Update{
			{Kind: UpdRowSegment, Row: 100, StartCol: 0, Seq: 5, Cells: []uint64{1, 2}},
		},
		More: false,
	}
	encoded := EncodeHostFrame(f)
	decoded, err := DecodeHostFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeHostFrame: %v", err)
	}
	if !reflect.DeepEqual(f, decoded) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", decoded, f)
	}
}

func TestShutdownRoundTrip(t *testing.T) {
	encoded := EncodeHostFrame(HostFrame{Type: FrameShutdown})
	decoded, err := DecodeHostFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeHostFrame: %v", err)
	}
	if decoded.Type != FrameShutdown {
		t.Fatalf("decoded type = %v, want FrameShutdown", decoded.Type)
	}
}

func TestClientFrameRoundTrip(t *testing.T) {
	cases := []ClientFrame{
		{Type: FrameInput, InputSeq: 1, InputData: []byte("ls -la\n")},
		{Type: FrameResize, ResizeCols: 120, ResizeRows: 40},
		{Type: FrameRequestBackfill, Subscription: 1, RequestID: 2, StartRow: 10, Count: 64},
		{Type: FrameViewportCommand, Command: ViewportCommandClear},
	}
	for _, f := range cases {
		encoded := EncodeClientFrame(f)
		decoded, err := DecodeClientFrame(encoded)
		if err != nil {
			t.Fatalf("DecodeClientFrame(%v): %v", f.Type, err)
		}
		if !reflect.DeepEqual(f, decoded) {
			t.Fatalf("round trip mismatch for %v:\n got  %+v\n want %+v", f.Type, decoded, f)
		}
	}
}

func TestUnknownClientFrameIsSentinel(t *testing.T) {
	decoded, err := DecodeClientFrame([]byte{200, 1, 2, 3})
	if err != nil {
		t.Fatalf("unknown client frame should decode, not error: %v", err)
	}
	if decoded.Type != FrameUnknown {
		t.Fatalf("decoded.Type = %v, want FrameUnknown", decoded.Type)
	}
}

func TestChunkUpdatesRespectsCountBudget(t *testing.T) {
	var updates []Update
	for i := 0; i < 200; i++ {
		updates = append(updates, Update{Kind: UpdCell, Row: uint32(i)})
	}
	chunks := ChunkUpdates(updates, MaxUpdatesPerFrame, MaxTransportFrameBytes)
	total := 0
	for _, c := range chunks {
		if len(c) > MaxUpdatesPerFrame {
			t.Fatalf("chunk exceeds MaxUpdatesPerFrame: %d", len(c))
		}
		total += len(c)
	}
	if total != 200 {
		t.Fatalf("total updates across chunks = %d, want 200", total)
	}
}

func TestChunkUpdatesOversizeSingleUpdateAlone(t *testing.T) {
	huge := make([]uint64, 10000)
	updates := []Update{
		{Kind: UpdRow, Row: 0, Cells: huge},
		{Kind: UpdCell, Row: 1},
	}
	chunks := ChunkUpdates(updates, MaxUpdatesPerFrame, MaxTransportFrameBytes)
	if len(chunks) < 2 {
		t.Fatalf("expected oversize update to be split into its own chunk, got %d chunks", len(chunks))
	}
	if len(chunks[0]) != 1 {
		t.Fatalf("first chunk should contain only the oversize update, got %d entries", len(chunks[0]))
	}
}

func TestChunkUpdatesEmptyYieldsOneEmptyChunk(t *testing.T) {
	chunks := ChunkUpdates(nil, MaxUpdatesPerFrame, MaxTransportFrameBytes)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("empty input should yield one empty terminating chunk, got %+v", chunks)
	}
}
