// Package grid implements the authoritative terminal Grid: absolute row
// numbering that survives trimming, row-level locking, and CacheUpdate
// emission for downstream consumers (internal/timeline, internal/cache).
package grid

import "github.com/ehrlich-b/beach/internal/cellmodel"

// UpdateKind discriminates the CacheUpdate tagged union (spec §3).
type UpdateKind uint8

const (
	UpdateCell UpdateKind = iota
	UpdateRow
	UpdateRect
	UpdateTrim
	UpdateStyle
	UpdateCursor
)

// CacheUpdate is the logical update emitted by the Grid on every accepted
// mutation. Exactly one of the kind-specific fields is meaningful for a
// given Kind; this mirrors the tagged union in spec.md §3 as a single flat
// struct, which is how the pack's own wire-adjacent types
// (framegrace-texelation/protocol/buffer_delta.go's RowDelta/CellSpan) are
// shaped — a discriminant plus the union of possible payload fields.
type CacheUpdate struct {
	Kind UpdateKind
	Seq  uint64

	// Cell / Row / Rect / RowSegment
	Row      uint64
	Col      uint32
	Cell     cellmodel.Cell
	Cells    []cellmodel.Cell // Row, Rect (single repeated cell via Cell field instead), RowSegment
	RowEnd   uint64           // Rect: exclusive row end
	ColStart uint32           // Rect
	ColEnd   uint32           // Rect: exclusive col end

	// Trim
	TrimStart uint64
	TrimCount uint64

	// Style
	StyleId cellmodel.StyleId
	Fg      uint32
	Bg      uint32
	Attrs   cellmodel.Attr

	// Cursor
	CursorRow     uint32
	CursorCol     uint32
	CursorVisible bool
	CursorBlink   bool
}
