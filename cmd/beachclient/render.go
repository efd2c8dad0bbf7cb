package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/reconciler"
	"github.com/ehrlich-b/beach/internal/wire"
)

// renderer redraws the reconciled viewport to a terminal. It keeps its own
// StyleId -> Style mirror: applyUpdates in internal/reconciler deliberately
// drops UpdStyle payloads (they carry no row position), so resolving a
// cell's color/attributes is the renderer's job, fed directly from the
// HostFrame.Updates stream alongside HandleFrame.
type renderer struct {
	w      io.Writer
	mirror map[cellmodel.StyleId]cellmodel.Style
	rows   int
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{
		w:      w,
		mirror: map[cellmodel.StyleId]cellmodel.Style{cellmodel.StyleDefault: {}},
		rows:   24,
	}
}

func (r *renderer) setRows(rows int) {
	if rows > 0 {
		r.rows = rows
	}
}

func (r *renderer) observeUpdates(updates []wire.Update) {
	for _, u := range updates {
		if u.Kind == wire.UpdStyle {
			r.mirror[cellmodel.StyleId(u.StyleId)] = cellmodel.Style{Fg: u.Fg, Bg: u.Bg, Attrs: cellmodel.Attr(u.Attrs)}
		}
	}
}

// draw repaints the live viewport: the rows ending at HighestLoadedRow, up
// to r.rows of them, then positions the terminal cursor to match the
// reconciler's authoritative-or-inferred cursor.
func (r *renderer) draw(rec *reconciler.Reconciler) {
	highest, ok := rec.HighestLoadedRow()
	if !ok {
		return
	}
	start := rec.KnownBaseRow()
	if highest-start+1 > uint64(r.rows) {
		start = highest - uint64(r.rows) + 1
	}

	var sb strings.Builder
	sb.WriteString("\x1b[H")
	for row := start; row <= highest; row++ {
		sb.WriteString("\x1b[2K")
		sb.WriteString(r.renderRow(rec, row))
		if row != highest {
			sb.WriteString("\r\n")
		}
	}
	cur := rec.Cursor()
	if cur.Visible {
		fmt.Fprintf(&sb, "\x1b[%d;%dH", int(cur.Row-start)+1, int(cur.Col)+1)
	}
	io.WriteString(r.w, sb.String())
}

func (r *renderer) renderRow(rec *reconciler.Reconciler, row uint64) string {
	rw := rec.Row(row)
	if rw == nil || rw.Cells == nil {
		return ""
	}
	var sb strings.Builder
	var curStyle cellmodel.StyleId = cellmodel.StyleId(^uint32(0))
	for _, cell := range rw.Cells {
		sid := cell.Style()
		if sid != curStyle {
			sb.WriteString(sgrFor(r.mirror[sid]))
			curStyle = sid
		}
		sb.WriteRune(cell.Rune())
	}
	sb.WriteString("\x1b[0m")
	return sb.String()
}

// sgrFor renders style as a Select Graphic Rendition escape sequence. Fg/Bg
// of 0 mean "terminal default" (cellmodel.Style's documented zero value);
// any other value is 0x01RRGGBB, truecolor per cellmodel's packing.
func sgrFor(s cellmodel.Style) string {
	var codes []string
	if s.Attrs&cellmodel.AttrBold != 0 {
		codes = append(codes, "1")
	}
	if s.Attrs&cellmodel.AttrDim != 0 {
		codes = append(codes, "2")
	}
	if s.Attrs&cellmodel.AttrItalic != 0 {
		codes = append(codes, "3")
	}
	if s.Attrs&cellmodel.AttrUnderline != 0 {
		codes = append(codes, "4")
	}
	if s.Attrs&cellmodel.AttrBlink != 0 {
		codes = append(codes, "5")
	}
	if s.Attrs&cellmodel.AttrReverse != 0 {
		codes = append(codes, "7")
	}
	if s.Attrs&cellmodel.AttrStrikethrough != 0 {
		codes = append(codes, "9")
	}
	if s.Fg != 0 {
		codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", (s.Fg>>16)&0xFF, (s.Fg>>8)&0xFF, s.Fg&0xFF))
	}
	if s.Bg != 0 {
		codes = append(codes, fmt.Sprintf("48;2;%d;%d;%d", (s.Bg>>16)&0xFF, (s.Bg>>8)&0xFF, s.Bg&0xFF))
	}
	if len(codes) == 0 {
		return "\x1b[0m"
	}
	return "\x1b[0;" + strings.Join(codes, ";") + "m"
}
