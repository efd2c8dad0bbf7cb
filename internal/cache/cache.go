// Package cache implements TransmitterCache: a per-subscriber mirror of the
// grid that converts logical grid.CacheUpdate values into deduplicated
// wire.Update values, so a subscriber that has already seen a given row's
// current content is never sent it again. It is never the source of truth —
// only the grid is (spec.md §4.3).
package cache

import (
	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/grid"
	"github.com/ehrlich-b/beach/internal/wire"
)

// PreparedUpdateBatch is the result of applying a batch of CacheUpdates
// through the cache: the wire-ready updates, plus at most one cursor frame
// (cursor updates are collapsed — only the highest-seq candidate survives).
type PreparedUpdateBatch struct {
	Updates []wire.Update
	Cursor  *wire.CursorFrame
}

type styleState struct {
	fg, bg uint32
	attrs  cellmodel.Attr
}

// Cache is the per-subscriber mirror. It is owned by exactly one forwarder
// task per subscriber (spec.md §5) — no internal locking.
type Cache struct {
	cols   int
	rows   map[uint64][]cellmodel.Cell
	styles map[cellmodel.StyleId]styleState

	haveCursor  bool
	lastCursor  wire.CursorFrame
}

// New creates an empty Cache for a subscriber with the given column count.
func New(cols int) *Cache {
	return &Cache{
		cols:   cols,
		rows:   make(map[uint64][]cellmodel.Cell),
		styles: make(map[cellmodel.StyleId]styleState),
	}
}

// Reset clears the mirror at (re)handshake, per spec.md §4.3.
func (c *Cache) Reset(cols int) {
	c.cols = cols
	c.rows = make(map[uint64][]cellmodel.Cell)
	c.styles = make(map[cellmodel.StyleId]styleState)
	c.haveCursor = false
}

func (c *Cache) mirrorRow(row uint64) []cellmodel.Cell {
	r, ok := c.rows[row]
	if !ok {
		r = make([]cellmodel.Cell, c.cols)
		for i := range r {
			r[i] = cellmodel.BlankCell
		}
		c.rows[row] = r
	}
	return r
}

func cellsEqual(a, b []cellmodel.Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toWireCells(cells []cellmodel.Cell) []uint64 {
	out := make([]uint64, len(cells))
	for i, c := range cells {
		out[i] = uint64(c)
	}
	return out
}

// ApplyUpdates converts a batch of logical CacheUpdates into a
// PreparedUpdateBatch. When dedupe is false (snapshot emissions, per
// spec.md §4.3) every update is emitted unconditionally and only used to
// prime the mirror. When dedupe is true (delta/backfill emissions),
// updates whose effect on the mirror is a no-op are dropped.
func (c *Cache) ApplyUpdates(updates []grid.CacheUpdate, dedupe bool) PreparedUpdateBatch {
	var out PreparedUpdateBatch
	var pendingCursor *grid.CacheUpdate

	for i := range updates {
		u := updates[i]
		switch u.Kind {
		case grid.UpdateCursor:
			// Collapse consecutive cursor updates: only the highest-seq
			// candidate in this batch is considered at all.
			if pendingCursor == nil || u.Seq > pendingCursor.Seq {
				uu := u
				pendingCursor = &uu
			}
			continue
		}

		if w, ok := c.applyOne(u, dedupe); ok {
			out.Updates = append(out.Updates, w)
		}
	}

	if pendingCursor != nil {
		cf := wire.CursorFrame{
			Row:     pendingCursor.CursorRow,
			Col:     pendingCursor.CursorCol,
			Seq:     pendingCursor.Seq,
			Visible: pendingCursor.CursorVisible,
			Blink:   pendingCursor.CursorBlink,
		}
		prev, cmp := c.lastCursor, cf
		prev.Seq, cmp.Seq = 0, 0
		if !dedupe || !c.haveCursor || cmp != prev {
			out.Cursor = &cf
			c.haveCursor = true
			c.lastCursor = cf
		}
	}

	return out
}

func (c *Cache) applyOne(u grid.CacheUpdate, dedupe bool) (wire.Update, bool) {
	switch u.Kind {
	case grid.UpdateRow:
		_, seen := c.rows[u.Row]
		mirror := c.mirrorRow(u.Row)
		if dedupe && seen && cellsEqual(mirror, u.Cells) {
			return wire.Update{}, false
		}
		copy(mirror, u.Cells)
		return wire.Update{Kind: wire.UpdRow, Row: uint32(u.Row), Seq: u.Seq, Cells: toWireCells(u.Cells)}, true

	case grid.UpdateRect:
		changed := !dedupe
		for r := u.Row; r < u.RowEnd; r++ {
			mirror := c.mirrorRow(r)
			for col := int(u.ColStart); col < int(u.ColEnd); col++ {
				if mirror[col] != u.Cell {
					changed = true
				}
				mirror[col] = u.Cell
			}
		}
		if !changed {
			return wire.Update{}, false
		}
		return wire.Update{
			Kind: wire.UpdRect, Seq: u.Seq,
			Rows: [2]uint32{uint32(u.Row), uint32(u.RowEnd)},
			Cols: [2]uint32{u.ColStart, u.ColEnd},
			Cell: uint64(u.Cell),
		}, true

	case grid.UpdateCell:
		mirror := c.mirrorRow(u.Row)
		if dedupe && int(u.Col) < len(mirror) && mirror[u.Col] == u.Cell {
			return wire.Update{}, false
		}
		if int(u.Col) < len(mirror) {
			mirror[u.Col] = u.Cell
		}
		return wire.Update{Kind: wire.UpdCell, Row: uint32(u.Row), Col: u.Col, Seq: u.Seq, Cell: uint64(u.Cell)}, true

	case grid.UpdateTrim:
		for r := u.TrimStart; r < u.TrimStart+u.TrimCount; r++ {
			delete(c.rows, r)
		}
		return wire.Update{Kind: wire.UpdTrim, Start: uint32(u.TrimStart), Count: uint32(u.TrimCount), Seq: u.Seq}, true

	case grid.UpdateStyle:
		st := styleState{fg: u.Fg, bg: u.Bg, attrs: u.Attrs}
		if dedupe {
			if prev, ok := c.styles[u.StyleId]; ok && prev == st {
				return wire.Update{}, false
			}
		}
		c.styles[u.StyleId] = st
		return wire.Update{Kind: wire.UpdStyle, StyleId: uint32(u.StyleId), Seq: u.Seq, Fg: u.Fg, Bg: u.Bg, Attrs: uint8(u.Attrs)}, true
	}
	return wire.Update{}, false
}
