package grid

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/beach/internal/cellmodel"
)

// WriteResult reports the outcome of a cell write attempt.
type WriteResult uint8

const (
	Applied WriteResult = iota
	Stale
)

// row is one resident grid row: its own cell slice plus per-cell seq
// watermarks used to reject stale writes, and a row-level lock so readers
// (lane snapshot, backfill) never block writers for more than one row, per
// spec.md §5.
type row struct {
	mu    sync.RWMutex
	cells []cellmodel.Cell
	seqs  []uint64
}

func newRow(cols int) *row {
	cells := make([]cellmodel.Cell, cols)
	for i := range cells {
		cells[i] = cellmodel.BlankCell
	}
	return &row{cells: cells, seqs: make([]uint64, cols)}
}

// Grid is the authoritative terminal cell store: fixed column count, an
// elastic set of rows addressed by absolute (monotonic, never reused) row
// index, and an emission channel of CacheUpdates for downstream consumers
// (internal/timeline, and ultimately internal/cache per subscriber).
type Grid struct {
	mu sync.RWMutex

	cols         int
	styles       *cellmodel.StyleTable
	baseRow      uint64   // smallest resident absolute row index
	rows         []*row   // rows[i] corresponds to absolute row baseRow+i
	viewportRows int
	viewportCols int

	onUpdate func(CacheUpdate)
}

// New creates a Grid with an initial viewport of (rows, cols), backed by the
// given process-wide style table. onUpdate, if non-nil, is invoked
// synchronously (under no Grid lock) for every accepted mutation; callers
// that need ordering guarantees beyond "called once per mutation, in
// mutation order" should buffer inside onUpdate themselves.
func New(rows, cols int, styles *cellmodel.StyleTable, onUpdate func(CacheUpdate)) *Grid {
	g := &Grid{
		cols:         cols,
		styles:       styles,
		viewportRows: rows,
		viewportCols: cols,
	}
	for i := 0; i < rows; i++ {
		g.rows = append(g.rows, newRow(cols))
	}
	g.onUpdate = onUpdate
	return g
}

// Cols reports the fixed column count.
func (g *Grid) Cols() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cols
}

// BaseRow reports the smallest absolute row index still resident.
func (g *Grid) BaseRow() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.baseRow
}

// HighestRow reports the largest resident absolute row index. Only valid
// when at least one row is resident; returns (0, false) otherwise.
func (g *Grid) HighestRow() (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.rows) == 0 {
		return 0, false
	}
	return g.baseRow + uint64(len(g.rows)) - 1, true
}

// ensureRow grows g.rows so that absoluteRow is resident, appending blank
// rows as needed. Caller must hold g.mu (write lock).
func (g *Grid) ensureRow(absoluteRow uint64) *row {
	if len(g.rows) == 0 {
		g.baseRow = absoluteRow
		g.rows = append(g.rows, newRow(g.cols))
		return g.rows[0]
	}
	highest := g.baseRow + uint64(len(g.rows)) - 1
	for highest < absoluteRow {
		g.rows = append(g.rows, newRow(g.cols))
		highest++
	}
	return g.rows[absoluteRow-g.baseRow]
}

func (g *Grid) emit(u CacheUpdate) {
	if g.onUpdate != nil {
		g.onUpdate(u)
	}
}

// WriteCellIfNewer applies a cell write iff seq exceeds the seq currently
// recorded at (row, col). Out-of-range coordinates (row below base after a
// trim, or col >= cols) are a silent discard per spec.md §7 kind 6 — this is
// an expected race with a concurrent trim, not an error.
func (g *Grid) WriteCellIfNewer(absoluteRow uint64, col int, seq uint64, cell cellmodel.Cell) WriteResult {
	g.mu.Lock()
	if absoluteRow < g.baseRow || col < 0 || col >= g.cols {
		g.mu.Unlock()
		return Stale
	}
	r := g.ensureRow(absoluteRow)
	g.mu.Unlock()

	r.mu.Lock()
	if seq <= r.seqs[col] {
		r.mu.Unlock()
		return Stale
	}
	r.seqs[col] = seq
	r.cells[col] = cell
	r.mu.Unlock()

	g.emit(CacheUpdate{Kind: UpdateCell, Seq: seq, Row: absoluteRow, Col: uint32(col), Cell: cell})
	return Applied
}

// ApplyRowUpdate rewrites an entire row at once (used by the vt bridge when
// the emulator reports a wholesale row change, and by history growth when a
// row scrolls out of the live viewport). seq applies uniformly to every
// cell in the row.
func (g *Grid) ApplyRowUpdate(absoluteRow uint64, seq uint64, cells []cellmodel.Cell) WriteResult {
	if len(cells) != g.Cols() {
		return Stale
	}
	g.mu.Lock()
	if absoluteRow < g.baseRow {
		g.mu.Unlock()
		return Stale
	}
	r := g.ensureRow(absoluteRow)
	g.mu.Unlock()

	r.mu.Lock()
	changed := false
	for i, c := range cells {
		if seq > r.seqs[i] {
			r.seqs[i] = seq
			r.cells[i] = c
			changed = true
		}
	}
	out := make([]cellmodel.Cell, len(r.cells))
	copy(out, r.cells)
	r.mu.Unlock()

	if !changed {
		return Stale
	}
	g.emit(CacheUpdate{Kind: UpdateRow, Seq: seq, Row: absoluteRow, Cells: out})
	return Applied
}

// ApplyRect applies the same cell to every coordinate in
// rows [r0,r1) x cols [c0,c1).
func (g *Grid) ApplyRect(r0, r1 uint64, c0, c1 int, seq uint64, cell cellmodel.Cell) WriteResult {
	if r1 <= r0 || c1 <= c0 || c0 < 0 || c1 > g.Cols() {
		return Stale
	}
	applied := false
	for rr := r0; rr < r1; rr++ {
		for cc := c0; cc < c1; cc++ {
			if g.writeCellRaw(rr, cc, seq, cell) {
				applied = true
			}
		}
	}
	if !applied {
		return Stale
	}
	g.emit(CacheUpdate{
		Kind: UpdateRect, Seq: seq, Row: r0, RowEnd: r1,
		ColStart: uint32(c0), ColEnd: uint32(c1), Cell: cell,
	})
	return Applied
}

// writeCellRaw applies a single cell write without emitting a per-cell
// CacheUpdate (used by ApplyRect, which emits one Rect update covering the
// whole range instead).
func (g *Grid) writeCellRaw(absoluteRow uint64, col int, seq uint64, cell cellmodel.Cell) bool {
	g.mu.Lock()
	if absoluteRow < g.baseRow || col < 0 || col >= g.cols {
		g.mu.Unlock()
		return false
	}
	r := g.ensureRow(absoluteRow)
	g.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.seqs[col] {
		return false
	}
	r.seqs[col] = seq
	r.cells[col] = cell
	return true
}

// SnapshotRow returns a copy of the cells at absoluteRow, or nil, false if
// the row is not resident (trimmed away, or never written).
func (g *Grid) SnapshotRow(absoluteRow uint64) ([]cellmodel.Cell, bool) {
	g.mu.RLock()
	if absoluteRow < g.baseRow || len(g.rows) == 0 {
		g.mu.RUnlock()
		return nil, false
	}
	idx := absoluteRow - g.baseRow
	if idx >= uint64(len(g.rows)) {
		g.mu.RUnlock()
		return nil, false
	}
	r := g.rows[idx]
	g.mu.RUnlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cellmodel.Cell, len(r.cells))
	copy(out, r.cells)
	return out, true
}

// RowSeq returns the maximum per-cell seq recorded for absoluteRow — used by
// BackfillEngine to populate a backfilled Row update's seq field.
func (g *Grid) RowSeq(absoluteRow uint64) (uint64, bool) {
	g.mu.RLock()
	if absoluteRow < g.baseRow || len(g.rows) == 0 {
		g.mu.RUnlock()
		return 0, false
	}
	idx := absoluteRow - g.baseRow
	if idx >= uint64(len(g.rows)) {
		g.mu.RUnlock()
		return 0, false
	}
	r := g.rows[idx]
	g.mu.RUnlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var max uint64
	for _, s := range r.seqs {
		if s > max {
			max = s
		}
	}
	return max, true
}

// ApplyTrim drops rows [start, start+count) from the bottom of history,
// advancing base_row if needed, and emits a Trim CacheUpdate with a fresh
// seq. Only the portion of [start, start+count) that overlaps the grid's
// currently resident prefix is actually dropped; requesting a trim beyond
// the resident range still advances base_row to start+count (the server's
// commitment that rows below it will never again be emitted, per spec.md §8
// "Boundary behaviors").
func (g *Grid) ApplyTrim(start, count uint64, seq uint64) {
	if count == 0 {
		return
	}
	end := start + count
	g.mu.Lock()
	if end > g.baseRow {
		if len(g.rows) > 0 {
			dropTo := end
			highest := g.baseRow + uint64(len(g.rows))
			if dropTo > highest {
				dropTo = highest
			}
			if dropTo > g.baseRow {
				drop := dropTo - g.baseRow
				g.rows = g.rows[drop:]
			}
		}
		g.baseRow = end
	}
	g.mu.Unlock()
	g.emit(CacheUpdate{Kind: UpdateTrim, Seq: seq, TrimStart: start, TrimCount: count})
}

// SetViewportSize resizes the live viewport. Rows beyond the new viewport
// remain resident in history; this never trims.
func (g *Grid) SetViewportSize(rows, cols int) {
	g.mu.Lock()
	g.viewportRows = rows
	g.viewportCols = cols
	g.mu.Unlock()
}

// ViewportSize returns the current live viewport dimensions.
func (g *Grid) ViewportSize() (rows, cols int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.viewportRows, g.viewportCols
}

// EnsureStyleId interns style into the Grid's shared process-wide style
// table, returning a stable StyleId and whether this call allocated it for
// the first time. Callers on the live/delta path (internal/vt.Bridge) must
// check the bool and call EmitStyle when it's true, or the style's
// {fg,bg,attrs} payload never reaches a subscriber that wasn't already
// connected when the style was first interned.
func (g *Grid) EnsureStyleId(style cellmodel.Style) (cellmodel.StyleId, bool) {
	return g.styles.InternNew(style)
}

// Styles exposes the shared StyleTable (used by BackfillEngine/ServerSynchronizer
// to resolve StyleIds into Style payloads for wire emission).
func (g *Grid) Styles() *cellmodel.StyleTable {
	return g.styles
}

// EmitCursor publishes a Cursor CacheUpdate — used by the vt bridge when the
// emulator's cursor moves, independent of any cell write.
func (g *Grid) EmitCursor(absRow uint64, col int, seq uint64, visible, blink bool) {
	g.emit(CacheUpdate{
		Kind: UpdateCursor, Seq: seq,
		CursorRow: uint32(absRow), CursorCol: uint32(col),
		CursorVisible: visible, CursorBlink: blink,
	})
}

// EmitStyle publishes a Style CacheUpdate — used when a style is interned
// for the first time and downstream subscribers need the (fg,bg,attrs)
// payload, not just the id.
func (g *Grid) EmitStyle(id cellmodel.StyleId, seq uint64, style cellmodel.Style) {
	g.emit(CacheUpdate{Kind: UpdateStyle, Seq: seq, StyleId: id, Fg: style.Fg, Bg: style.Bg, Attrs: style.Attrs})
}

// RowCount returns the number of resident rows.
func (g *Grid) RowCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rows)
}

// String is a debug helper, not used on any hot path.
func (g *Grid) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("Grid{cols=%d base_row=%d rows=%d viewport=%dx%d}",
		g.cols, g.baseRow, len(g.rows), g.viewportRows, g.viewportCols)
}
