package syncserver

import (
	"testing"
	"time"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/grid"
	"github.com/ehrlich-b/beach/internal/timeline"
	"github.com/ehrlich-b/beach/internal/wire"
)

func newTestSync(t *testing.T) (*Synchronizer, *grid.Grid) {
	t.Helper()
	styles := cellmodel.NewStyleTable()
	tl := timeline.New(64)
	var sync *Synchronizer
	g := grid.New(4, 8, styles, func(u grid.CacheUpdate) {
		if sync != nil {
			sync.OnGridUpdate(u)
		} else {
			tl.Record(u)
		}
	})
	cfg := wire.SyncConfig{
		SnapshotBudgets: []wire.SnapshotBudget{
			{Lane: wire.LaneForeground, MaxUpdates: 64},
			{Lane: wire.LaneRecent, MaxUpdates: 64},
			{Lane: wire.LaneHistory, MaxUpdates: 64},
		},
		DeltaBudget:          64,
		HeartbeatMs:          10000,
		InitialSnapshotLines: 200,
	}
	sync = New(g, tl, cfg)
	return sync, g
}

type fakeSink struct {
	frames []wire.HostFrame
}

func (f *fakeSink) send(frame wire.HostFrame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func TestHelloThenGridOrdering(t *testing.T) {
	s, g := newTestSync(t)
	g.WriteCellIfNewer(0, 0, 1, cellmodel.PackCell('a', 0))

	sink := &fakeSink{}
	sub, err := s.AddSubscriber(sink.send)
	if err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if len(sink.frames) != 2 {
		t.Fatalf("expected Hello+Grid, got %d frames", len(sink.frames))
	}
	if sink.frames[0].Type != wire.FrameHello {
		t.Fatalf("first frame = %v, want Hello", sink.frames[0].Type)
	}
	if sink.frames[1].Type != wire.FrameGrid {
		t.Fatalf("second frame = %v, want Grid", sink.frames[1].Type)
	}
	if sub.LastSeq() != 1 {
		t.Fatalf("last_seq after Hello = %d, want 1 (= max_seq)", sub.LastSeq())
	}
}

func TestHandshakeSnapshotsEmitCompleteForEmptyLanes(t *testing.T) {
	s, _ := newTestSync(t)
	sink := &fakeSink{}
	sub, _ := s.AddSubscriber(sink.send)
	if err := s.SendHandshakeSnapshots(sub); err != nil {
		t.Fatalf("SendHandshakeSnapshots: %v", err)
	}
	var completes []wire.Lane
	for _, f := range sink.frames {
		if f.Type == wire.FrameSnapshotComplete {
			completes = append(completes, f.Lane)
		}
	}
	if len(completes) != 3 {
		t.Fatalf("expected 3 SnapshotComplete frames (one per lane), got %d", len(completes))
	}
	if completes[0] != wire.LaneForeground || completes[1] != wire.LaneRecent || completes[2] != wire.LaneHistory {
		t.Fatalf("lane order wrong: %v", completes)
	}
	if !sub.HandshakeComplete() {
		t.Fatal("handshake should be marked complete")
	}
}

func TestDeltaDeliveryAfterHandshake(t *testing.T) {
	s, g := newTestSync(t)
	sink := &fakeSink{}
	sub, _ := s.AddSubscriber(sink.send)
	s.SendHandshakeSnapshots(sub)
	sink.frames = nil

	g.WriteCellIfNewer(0, 0, 5, cellmodel.PackCell('x', 0))

	var deltaFrames []wire.HostFrame
	for _, f := range sink.frames {
		if f.Type == wire.FrameDelta {
			deltaFrames = append(deltaFrames, f)
		}
	}
	if len(deltaFrames) != 1 {
		t.Fatalf("expected 1 delta frame, got %d", len(deltaFrames))
	}
	if deltaFrames[0].Watermark != 5 {
		t.Fatalf("watermark = %d, want 5", deltaFrames[0].Watermark)
	}
	if sub.LastSeq() != 5 {
		t.Fatalf("last_seq = %d, want 5", sub.LastSeq())
	}
}

func TestBackfillEmitsChunksAndTerminates(t *testing.T) {
	s, g := newTestSync(t)
	for i := uint64(0); i < 10; i++ {
		g.WriteCellIfNewer(i, 0, i+1, cellmodel.PackCell('a', 0))
	}
	sink := &fakeSink{}
	sub, _ := s.AddSubscriber(sink.send)
	sink.frames = nil

	s.RequestBackfill(sub, 1, 0, 10)
	// tick repeatedly (rate-limited to one chunk per 50ms; chunk size 64
	// covers the whole 10-row request in a single chunk here).
	worked := s.TickBackfill(sub)
	if !worked {
		t.Fatal("expected backfill tick to do work")
	}
	var backfillFrames []wire.HostFrame
	for _, f := range sink.frames {
		if f.Type == wire.FrameHistoryBackfill {
			backfillFrames = append(backfillFrames, f)
		}
	}
	if len(backfillFrames) != 1 {
		t.Fatalf("expected 1 backfill frame, got %d", len(backfillFrames))
	}
	if backfillFrames[0].More {
		t.Fatal("single small request should terminate in one chunk")
	}
}

func TestBackfillCountCappedAt256(t *testing.T) {
	s, g := newTestSync(t)
	g.WriteCellIfNewer(0, 0, 1, cellmodel.PackCell('a', 0))
	sink := &fakeSink{}
	sub, _ := s.AddSubscriber(sink.send)
	s.RequestBackfill(sub, 1, 0, 10000)

	sub.mu.Lock()
	job := sub.backfillQueue[0]
	sub.mu.Unlock()
	if job.endRow-job.nextRow != maxBackfillRequestRows {
		t.Fatalf("job span = %d, want capped to %d", job.endRow-job.nextRow, maxBackfillRequestRows)
	}
}

func TestBackfillEmitsTrimWhenStartBelowBase(t *testing.T) {
	s, g := newTestSync(t)
	for i := uint64(0); i < 20; i++ {
		g.WriteCellIfNewer(i, 0, i+1, cellmodel.PackCell('a', 0))
	}
	g.ApplyTrim(0, 10, 100)

	sink := &fakeSink{}
	sub, _ := s.AddSubscriber(sink.send)
	sink.frames = nil
	s.RequestBackfill(sub, 1, 0, 20)
	s.TickBackfill(sub)

	var bf wire.HostFrame
	for _, f := range sink.frames {
		if f.Type == wire.FrameHistoryBackfill {
			bf = f
		}
	}
	foundTrim := false
	for _, u := range bf.Updates {
		if u.Kind == wire.UpdTrim {
			foundTrim = true
		}
	}
	if !foundTrim {
		t.Fatal("expected a Trim update when backfill start is below base_row")
	}
}

func TestHeartbeatMarksInactiveOnSendFailure(t *testing.T) {
	s, _ := newTestSync(t)
	failing := func(wire.HostFrame) error { return errSendFailed }
	sub, err := s.AddSubscriber(func(f wire.HostFrame) error { return nil })
	if err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	sub.send = failing
	s.SendHeartbeat(sub, uint64(time.Now().UnixMilli()))
	if sub.Active() {
		t.Fatal("subscriber should be marked inactive after send failure")
	}
}

var errSendFailed = &sendError{"boom"}

type sendError struct{ msg string }

func (e *sendError) Error() string { return e.msg }
