package reconciler

import (
	"time"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/prediction"
	"github.com/ehrlich-b/beach/internal/wire"
)

// HandleFrame applies one HostFrame, per spec.md §4.6's per-frame-type
// semantics. now is supplied by the caller (never time.Now() internally)
// so tests can drive the clock deterministically.
func (r *Reconciler) HandleFrame(f wire.HostFrame, now time.Time) {
	switch f.Type {
	case wire.FrameHello:
		r.handleHello(f)
	case wire.FrameGrid:
		r.handleGrid(f)
	case wire.FrameSnapshot:
		r.applyUpdates(f.Updates, true)
		r.applyCursorFrame(f.Cursor)
		if f.Watermark > r.lastSeq {
			r.lastSeq = f.Watermark
		}
		if !f.HasMore {
			r.laneComplete[f.Lane] = false // reset; SnapshotComplete sets it true
		}
	case wire.FrameSnapshotComplete:
		r.laneComplete[f.Lane] = true
	case wire.FrameDelta:
		// A Delta whose watermark doesn't advance past what's already been
		// applied is a regression — a reordered or duplicated frame off an
		// unreliable transport, or a protocol violation from the host side.
		// Treat it as a no-op rather than applying stale updates over
		// already-newer rows.
		if f.Watermark <= r.lastSeq {
			return
		}
		r.applyUpdates(f.Updates, false)
		r.applyCursorFrame(f.Cursor)
		r.lastSeq = f.Watermark
	case wire.FrameHistoryBackfill:
		r.handleHistoryBackfill(f, now)
	case wire.FrameInputAck:
		r.predictions.Ack(f.AckSeq, now)
	case wire.FrameCursor:
		r.applyCursorFrame(f.Cursor)
	case wire.FrameHeartbeat:
		// diagnostic only; no reconciler state changes.
	case wire.FrameShutdown:
		// caller's recv loop terminates; nothing to mutate here.
	}
}

func (r *Reconciler) handleHello(f wire.HostFrame) {
	r.subscriptionID = f.Subscription
	r.lastSeq = f.MaxSeq
	r.featureCursorSync = f.Features&wire.FeatureCursorSync != 0
	r.handshakeSnapshotLines = f.Config.InitialSnapshotLines

	r.rows = make(map[uint64]*Row)
	r.cursor = Cursor{}
	r.predictions = prediction.NewPredictionEngine()
	r.pendingBackfills = nil
	r.emptyTailRanges = nil
	r.lastGapStart = nil
	r.lastTailStart = nil
	r.knownBaseRow = 0
	r.highestLoadedRow = 0
	r.hasLoadedRows = false
	r.laneComplete = make(map[wire.Lane]bool)

	r.authState = AuthApproved
}

func (r *Reconciler) handleGrid(f wire.HostFrame) {
	r.cols = int(f.GridCols)
	r.handshakeHistoryRows = f.GridHistoryRows
	r.knownBaseRow = f.GridBaseRow
	// Cursor parks at bottom-left; renderer sizing (max(history_rows,
	// local_viewport) x cols) is the renderer's job, not reconciler state.
	r.cursor = Cursor{Row: f.GridBaseRow + uint64(f.GridHistoryRows), Col: 0}
}

// applyUpdates applies each Update to the reconciled row set and observes
// bounds. authoritative=true for Snapshot/HistoryBackfill (may lower base
// unconditionally to the first row in the batch); false for Delta (only
// lowers base if the received row is below the current known base).
func (r *Reconciler) applyUpdates(updates []wire.Update, authoritative bool) {
	for _, u := range updates {
		switch u.Kind {
		case wire.UpdCell:
			row := r.rowOrMissing(uint64(u.Row))
			if row.Cells == nil {
				row.Cells = blankRow(r.cols)
			}
			if int(u.Col) < len(row.Cells) {
				row.Cells[u.Col] = cellmodel.Cell(u.Cell)
			}
			row.State = RowLoaded
			r.observeBound(uint64(u.Row), authoritative)

		case wire.UpdRow:
			row := r.rowOrMissing(uint64(u.Row))
			row.Cells = fromWireCells(u.Cells)
			row.State = RowLoaded
			r.observeBound(uint64(u.Row), authoritative)

		case wire.UpdRowSegment:
			row := r.rowOrMissing(uint64(u.Row))
			row.Cells = applyRowSegment(r.cols, row.Cells, int(u.StartCol), u.Cells)
			row.State = RowLoaded
			r.observeBound(uint64(u.Row), authoritative)

		case wire.UpdRect:
			for rowIdx := uint64(u.Rows[0]); rowIdx < uint64(u.Rows[1]); rowIdx++ {
				row := r.rowOrMissing(rowIdx)
				if row.Cells == nil {
					row.Cells = blankRow(r.cols)
				}
				for col := int(u.Cols[0]); col < int(u.Cols[1]) && col < len(row.Cells); col++ {
					row.Cells[col] = cellmodel.Cell(u.Cell)
				}
				row.State = RowLoaded
				r.observeBound(rowIdx, authoritative)
			}

		case wire.UpdTrim:
			r.applyTrim(uint64(u.Start), uint64(u.Count))

		case wire.UpdStyle:
			// Style payload carries no renderable row position; the
			// renderer resolves StyleId -> Style via its own mirror
			// (populated identically to TransmitterCache's rules)
			// elsewhere. Nothing to bound here.
		}
	}
}

// observeBound implements spec.md §4.6's "Bounds observation": authoritative
// frames set known_base_row := min(current, first_row) (here, per-row, so
// effectively the lowest row touched); Delta only lowers base if the row is
// below the current base. highest_loaded_row always advances.
func (r *Reconciler) observeBound(row uint64, authoritative bool) {
	if authoritative {
		if !r.hasLoadedRows || row < r.knownBaseRow {
			r.knownBaseRow = row
		}
	} else if row < r.knownBaseRow {
		r.knownBaseRow = row
	}
	if !r.hasLoadedRows || row > r.highestLoadedRow {
		r.highestLoadedRow = row
		r.hasLoadedRows = true
	}
}

func (r *Reconciler) applyTrim(start, count uint64) {
	end := start + count
	for row := start; row < end; row++ {
		delete(r.rows, row)
	}
	if end > r.knownBaseRow {
		r.knownBaseRow = end
	}
	r.predictions.InvalidateRange(start, end)
	if r.cursor.Row >= start && r.cursor.Row < end {
		r.cursor.Row = end
		r.cursor.Col = 0
	}
	if r.hasLoadedRows && r.highestLoadedRow < end {
		r.hasLoadedRows = false
		r.highestLoadedRow = 0
	}
}

// applyCursorFrame takes an authoritative Cursor frame verbatim (when
// present) and discards predictions beyond its column, per spec.md §4.6.
func (r *Reconciler) applyCursorFrame(c *wire.CursorFrame) {
	if c == nil {
		return
	}
	r.cursor = Cursor{Row: uint64(c.Row), Col: c.Col, Visible: c.Visible, Blink: c.Blink, Exact: true}
	r.predictions.DiscardBeyond(uint64(c.Row), c.Col)
}

func (r *Reconciler) handleHistoryBackfill(f wire.HostFrame, now time.Time) {
	r.applyUpdates(f.Updates, true)
	r.applyCursorFrame(f.Cursor)

	touched := sortedTouchedRows(f.Updates)
	touchedSet := make(map[uint64]bool, len(touched))
	for _, row := range touched {
		touchedSet[row] = true
	}

	hasTrim := false
	for _, u := range f.Updates {
		if u.Kind == wire.UpdTrim {
			hasTrim = true
		}
	}

	if !f.More {
		r.finalizeBackfillRange(f.StartRow, uint64(f.Count), touchedSet)

		idx := r.findPendingBackfill(f.RequestID)
		if idx >= 0 {
			r.pendingBackfills = append(r.pendingBackfills[:idx], r.pendingBackfills[idx+1:]...)
		}

		if len(touched) == 0 && hasTrim {
			r.emptyTailRanges = append(r.emptyTailRanges, EmptyTailRange{
				Start: f.StartRow, End: f.StartRow + uint64(f.Count),
				RecordedAt: now, HighestAt: r.highestLoadedRow,
			})
		}
	}
}

// finalizeBackfillRange marks every row in [start, start+count) not touched
// by this terminating chunk as MISSING, so the renderer shows scrollback
// gaps as pending rather than silently blank.
func (r *Reconciler) finalizeBackfillRange(start, count uint64, touched map[uint64]bool) {
	for row := start; row < start+count; row++ {
		if touched[row] {
			continue
		}
		existing, ok := r.rows[row]
		if ok && existing.State == RowLoaded {
			continue
		}
		r.rows[row] = &Row{State: RowMissing}
	}
}

func (r *Reconciler) findPendingBackfill(requestID uint64) int {
	for i, p := range r.pendingBackfills {
		if p.ID == requestID {
			return i
		}
	}
	return -1
}

func blankRow(cols int) []cellmodel.Cell {
	out := make([]cellmodel.Cell, cols)
	for i := range out {
		out[i] = cellmodel.BlankCell
	}
	return out
}

func fromWireCells(cells []uint64) []cellmodel.Cell {
	out := make([]cellmodel.Cell, len(cells))
	for i, c := range cells {
		out[i] = cellmodel.Cell(c)
	}
	return out
}

// applyRowSegment rewrites row[startCol:startCol+len(seg)] and implicitly
// truncates the rest of the row to spaces at committed width, per spec.md
// §3's RowSegment semantics (scenario 4 in §8).
func applyRowSegment(cols int, existing []cellmodel.Cell, startCol int, seg []uint64) []cellmodel.Cell {
	out := blankRow(cols)
	for i := 0; i < startCol && i < len(existing) && i < cols; i++ {
		out[i] = existing[i]
	}
	for i, c := range seg {
		col := startCol + i
		if col >= cols {
			break
		}
		out[col] = cellmodel.Cell(c)
	}
	return out
}
