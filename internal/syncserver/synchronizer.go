package syncserver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/grid"
	"github.com/ehrlich-b/beach/internal/timeline"
	"github.com/ehrlich-b/beach/internal/wire"
)

// recentWindowRows bounds the Recent lane: rows above the live viewport, up
// to this many, before the rest falls into the History lane (spec.md §4.4).
const recentWindowRows = 500

// Synchronizer is ServerSynchronizer: it owns no transport itself, only the
// scheduling of Hello/Grid/snapshot/delta/backfill frames across whatever
// subscribers are registered.
type Synchronizer struct {
	g        *grid.Grid
	tl       *timeline.Stream
	cfg      wire.SyncConfig
	nextSubID uint64

	mu   sync.RWMutex
	subs map[uint64]*Subscriber

	backfill *BackfillEngine
}

// New creates a Synchronizer bound to g and tl, advertising cfg at every
// Hello.
func New(g *grid.Grid, tl *timeline.Stream, cfg wire.SyncConfig) *Synchronizer {
	s := &Synchronizer{
		g:    g,
		tl:   tl,
		cfg:  cfg,
		subs: make(map[uint64]*Subscriber),
	}
	s.backfill = newBackfillEngine(g)
	return s
}

// OnGridUpdate is wired as the Grid's onUpdate callback: it records the
// update into the TimelineDeltaStream and immediately attempts delta
// delivery to every handshake-complete subscriber (spec.md §4.4 "on any new
// CacheUpdate the server wakes each subscriber sink").
func (s *Synchronizer) OnGridUpdate(u grid.CacheUpdate) {
	s.tl.Record(u)

	s.mu.RLock()
	subs := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.Active() && sub.HandshakeComplete() {
			s.deliverDelta(sub)
		}
	}
}

// AddSubscriber registers a new subscription, performs Hello + Grid, and
// returns the Subscriber handle. Lane snapshots are not sent by AddSubscriber
// itself — call SendHandshakeSnapshots next (kept separate so a failed
// snapshot send can be retried without re-issuing Hello).
func (s *Synchronizer) AddSubscriber(send Sender) (*Subscriber, error) {
	id := atomic.AddUint64(&s.nextSubID, 1)
	cols := s.g.Cols()
	sub := newSubscriber(id, cols, send)

	maxSeq := s.tl.LatestSeq()
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	hello := wire.HostFrame{
		Type:         wire.FrameHello,
		Subscription: id,
		MaxSeq:       maxSeq,
		Config:       cfg,
		Features:     wire.FeatureCursorSync,
	}
	if err := send(hello); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	sub.mu.Lock()
	sub.lastSeq = maxSeq
	sub.mu.Unlock()

	viewportRows, _ := s.g.ViewportSize()
	highest, ok := s.g.HighestRow()
	historyRows := uint32(0)
	if ok {
		historyRows = uint32(highest - s.g.BaseRow() + 1)
	}
	gridFrame := wire.HostFrame{
		Type:             wire.FrameGrid,
		GridCols:         uint32(cols),
		GridHistoryRows:  historyRows,
		GridBaseRow:      s.g.BaseRow(),
		HasViewportRows:  true,
		GridViewportRows: uint32(viewportRows),
	}
	if err := send(gridFrame); err != nil {
		return nil, fmt.Errorf("send grid: %w", err)
	}

	s.mu.Lock()
	s.subs[id] = sub
	s.mu.Unlock()
	return sub, nil
}

// RemoveSubscriber drops a subscriber from the registry (spec.md §5
// "RemoveTransport").
func (s *Synchronizer) RemoveSubscriber(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// laneRowRange returns the absolute row range [start, end) a lane covers
// for the current grid extent, in emission order (oldest-first within the
// lane, as spec.md §4.4 requires for History).
func (s *Synchronizer) laneRowRange(lane wire.Lane) (start, end uint64, ok bool) {
	highest, has := s.g.HighestRow()
	if !has {
		return 0, 0, false
	}
	base := s.g.BaseRow()
	viewportRows, _ := s.g.ViewportSize()
	resident := highest - base + 1

	var foregroundStart uint64
	if uint64(viewportRows) >= resident {
		foregroundStart = base
	} else {
		foregroundStart = highest - uint64(viewportRows) + 1
	}

	recentStart := base
	if foregroundStart-base > uint64(recentWindowRows) {
		recentStart = foregroundStart - uint64(recentWindowRows)
	}

	switch lane {
	case wire.LaneForeground:
		return foregroundStart, highest + 1, true
	case wire.LaneRecent:
		return recentStart, foregroundStart, recentStart < foregroundStart
	case wire.LaneHistory:
		return base, recentStart, base < recentStart
	}
	return 0, 0, false
}

// laneBudget returns the per-lane chunk budget from cfg, defaulting to
// wire.MaxUpdatesPerFrame if the lane isn't listed.
func (s *Synchronizer) laneBudget(lane wire.Lane) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.cfg.SnapshotBudgets {
		if b.Lane == lane {
			return int(b.MaxUpdates)
		}
	}
	return wire.MaxUpdatesPerFrame
}

// SendHandshakeSnapshots emits Foreground, then Recent, then History lane
// snapshots (fixed order per spec.md §4.4), each as successive chunks
// terminated by SnapshotComplete{lane}. If a lane has nothing to send, the
// server still emits SnapshotComplete{lane}. On any transport error the
// subscriber's handshake_complete is left false and the error is returned.
// Nothing in this package retries; cmd/beachhost ends the session on that
// error.
func (s *Synchronizer) SendHandshakeSnapshots(sub *Subscriber) error {
	lanes := []wire.Lane{wire.LaneForeground, wire.LaneRecent, wire.LaneHistory}
	for _, lane := range lanes {
		if err := s.sendLaneSnapshot(sub, lane); err != nil {
			sub.mu.Lock()
			sub.handshakeComplete = false
			sub.mu.Unlock()
			return fmt.Errorf("lane %d snapshot: %w", lane, err)
		}
	}
	sub.mu.Lock()
	sub.handshakeComplete = true
	sub.mu.Unlock()
	return nil
}

func (s *Synchronizer) sendLaneSnapshot(sub *Subscriber, lane wire.Lane) error {
	start, end, ok := s.laneRowRange(lane)
	var updates []grid.CacheUpdate
	styleSeq := uint64(0)
	if ok {
		for r := start; r < end; r++ {
			cells, present := s.g.SnapshotRow(r)
			if !present {
				continue
			}
			seq, _ := s.g.RowSeq(r)
			if seq > styleSeq {
				styleSeq = seq
			}
			updates = append(updates, grid.CacheUpdate{Kind: grid.UpdateRow, Row: r, Seq: seq, Cells: cells})
		}
	}
	updates = append(updates, referencedStyleUpdates(s.g.Styles(), updates, styleSeq)...)

	sub.mu.Lock()
	prepared := sub.cache.ApplyUpdates(updates, false)
	watermark := s.tl.LatestSeq()
	sub.mu.Unlock()

	budget := s.laneBudget(lane)
	if budget <= 0 || budget > wire.MaxUpdatesPerFrame {
		budget = wire.MaxUpdatesPerFrame
	}
	chunks := wire.ChunkUpdates(prepared.Updates, budget, wire.MaxTransportFrameBytes)
	for i, chunk := range chunks {
		frame := wire.HostFrame{
			Type:         wire.FrameSnapshot,
			Subscription: sub.ID,
			Lane:         lane,
			Watermark:    watermark,
			HasMore:      i < len(chunks)-1,
			Updates:      chunk,
		}
		if i == len(chunks)-1 {
			frame.Cursor = prepared.Cursor
		}
		if err := sub.send(frame); err != nil {
			return err
		}
	}
	return sub.send(wire.HostFrame{Type: wire.FrameSnapshotComplete, Subscription: sub.ID, Lane: lane})
}

// referencedStyleUpdates builds Style CacheUpdates for every distinct
// StyleId referenced by rowUpdates' cells, per spec.md §4.5 step 3.
func referencedStyleUpdates(styles *cellmodel.StyleTable, rowUpdates []grid.CacheUpdate, seq uint64) []grid.CacheUpdate {
	seen := make(map[cellmodel.StyleId]bool)
	var out []grid.CacheUpdate
	for _, u := range rowUpdates {
		if u.Kind != grid.UpdateRow {
			continue
		}
		for _, c := range u.Cells {
			id := c.Style()
			if seen[id] {
				continue
			}
			seen[id] = true
			if style, ok := styles.Lookup(id); ok {
				out = append(out, grid.CacheUpdate{
					Kind: grid.UpdateStyle, Seq: seq, StyleId: id,
					Fg: style.Fg, Bg: style.Bg, Attrs: style.Attrs,
				})
			}
		}
	}
	return out
}

// deliverDelta drains every retained timeline update since sub.lastSeq and
// emits it as one or more Delta frames of at most the delta budget (capped
// at wire.MaxUpdatesPerFrame) updates each, per spec.md §4.4.
// Multiple PTY bursts are naturally coalesced because TimelineDeltaStream
// only ever retains the bounded tail — a subscriber lagging behind just sees
// fewer, larger deltas.
func (s *Synchronizer) deliverDelta(sub *Subscriber) {
	s.mu.RLock()
	budget := int(s.cfg.DeltaBudget)
	s.mu.RUnlock()
	if budget <= 0 || budget > wire.MaxUpdatesPerFrame {
		budget = wire.MaxUpdatesPerFrame
	}

	sub.mu.Lock()
	since := sub.lastSeq
	sub.mu.Unlock()

	raw := s.tl.CollectSince(since, 0) // gather everything new; chunking happens below
	if len(raw) == 0 {
		return
	}

	sub.mu.Lock()
	prepared := sub.cache.ApplyUpdates(raw, true)
	sub.mu.Unlock()

	watermark := raw[len(raw)-1].Seq
	chunks := wire.ChunkUpdates(prepared.Updates, budget, wire.MaxTransportFrameBytes)
	if len(chunks) == 1 && len(chunks[0]) == 0 && prepared.Cursor == nil {
		// Nothing survived dedup and there's no cursor change: still must
		// advance last_seq so we don't re-collect the same range forever,
		// but no frame needs to go out.
		sub.mu.Lock()
		if watermark > sub.lastSeq {
			sub.lastSeq = watermark
		}
		sub.mu.Unlock()
		return
	}
	for i, chunk := range chunks {
		frame := wire.HostFrame{
			Type:         wire.FrameDelta,
			Subscription: sub.ID,
			Watermark:    watermark,
			HasMore:      i < len(chunks)-1,
			Updates:      chunk,
		}
		if i == len(chunks)-1 {
			frame.Cursor = prepared.Cursor
		}
		if err := sub.send(frame); err != nil {
			sub.MarkInactive()
			return
		}
	}
	sub.mu.Lock()
	if watermark > sub.lastSeq {
		sub.lastSeq = watermark
	}
	sub.mu.Unlock()
}

// SendHeartbeat emits a Heartbeat frame carrying the subscriber's current
// watermark. Failure marks the subscriber inactive (spec.md §4.4: "Failure
// schedules reconnect via the transport supervisor and continues" — the
// supervisor itself lives in internal/transport, outside this package).
func (s *Synchronizer) SendHeartbeat(sub *Subscriber, timestampMs uint64) {
	if err := sub.send(wire.HostFrame{Type: wire.FrameHeartbeat, HeartbeatSeq: sub.LastSeq(), TimestampMs: timestampMs}); err != nil {
		sub.MarkInactive()
	}
}

// UpdateConfig replaces the SyncConfig advertised to subscribers added from
// this point on, the lane budgets laneBudget returns for the next snapshot
// chunking, and the delta budget the next deliverDelta reads —
// cmd/beachhost wires this to internal/config's hot-reload watcher
// (SPEC_FULL.md §4.14). Subscribers already past Hello keep the Config they
// were sent at handshake time. The heartbeat cadence is not read from here:
// cmd/beachhost sets each session's heartbeat ticker from its own
// HostConfig when the session starts.
func (s *Synchronizer) UpdateConfig(cfg wire.SyncConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// RequestBackfill enqueues a client-driven backfill job (spec.md §4.5).
func (s *Synchronizer) RequestBackfill(sub *Subscriber, requestID, startRow uint64, count uint32) {
	s.backfill.enqueue(sub, requestID, startRow, count)
}

// TickBackfill processes one backfill chunk for sub, if its queue is
// non-empty and its per-subscriber throttle allows it. Returns true if work
// was done. Callers (cmd/beachhost's backfill round-robin, per spec.md §5)
// call this once per sink per tick.
func (s *Synchronizer) TickBackfill(sub *Subscriber) bool {
	return s.backfill.tick(sub)
}
