// Package vt bridges a PTY's raw byte stream into the row-addressed Grid
// model by running it through charmbracelet/x/vt's terminal emulator and
// diffing each redrawn line against what the Grid already holds, rather than
// hand-rolling ANSI/SGR parsing. This generalizes the prior
// internal/egg/vterm.go, which used the same emulator to produce a
// reconnect-snapshot ANSI blob; here the emulator's output instead becomes
// grid.Grid writes so every screen line and its scrollback predecessors are
// individually addressable rows, not an opaque ANSI blob.
package vt

import (
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/grid"
)

// Bridge owns a vt.Emulator fed by PTY output and writes its rendered lines
// into a Grid as absolute rows, advancing the row cursor on scrollout.
type Bridge struct {
	mu  sync.Mutex
	emu *vt.Emulator
	g   *grid.Grid

	cols, rows int
	// topRow is the absolute row currently occupied by the top of the live
	// screen; it only ever increases, advancing by one per ScrollOut line.
	topRow uint64
	seq    uint64

	cursorVisible bool
	cursorBlink   bool
}

// New creates a Bridge wrapping a fresh emulator sized to the Grid's
// viewport, writing into g.
func New(g *grid.Grid) *Bridge {
	rows, cols := g.ViewportSize()
	b := &Bridge{g: g, cols: cols, rows: rows, cursorVisible: true, cursorBlink: true}
	b.emu = vt.NewEmulator(cols, rows)
	b.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			for _, line := range lines {
				b.writeAbsoluteRow(b.topRow, line)
				b.topRow++
			}
		},
		ScrollbackClear: func() {
			b.seq++
			b.g.ApplyTrim(b.g.BaseRow(), b.topRow-b.g.BaseRow(), b.seq)
		},
		AltScreen: func(on bool) {
			// Alt-screen apps (vim, less) don't scroll history; nothing to
			// trim or advance here, the live screen redraw below handles it.
		},
		CursorVisibility: func(visible bool) {
			b.cursorVisible = visible
			b.emitCursor()
		},
	})
	return b
}

// Write feeds PTY output to the emulator and syncs the live screen into the
// Grid. Safe for the single host-IO goroutine that owns PTY reads to call
// repeatedly.
func (b *Bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.emu.Write(p)
	b.syncScreen()
	b.emitCursor()
	return n, err
}

// Resize changes the emulator's dimensions and the Grid's viewport.
func (b *Bridge) Resize(cols, rows int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emu.Resize(cols, rows)
	b.cols, b.rows = cols, rows
	b.g.SetViewportSize(rows, cols)
	b.syncScreen()
}

// Close releases the emulator.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emu.Close()
}

// syncScreen rewrites every live screen row [topRow, topRow+rows) from the
// emulator's current state. Every row goes through Grid.ApplyRowUpdate with
// a fresh seq, so unchanged rows are recorded again; the TransmitterCache
// dedup downstream drops rows a subscriber already holds.
func (b *Bridge) syncScreen() {
	for i := 0; i < b.rows; i++ {
		line, ok := b.emu.Line(i)
		if !ok {
			continue
		}
		b.writeAbsoluteRow(b.topRow+uint64(i), line)
	}
}

func (b *Bridge) writeAbsoluteRow(absRow uint64, line uv.Line) {
	cells := make([]cellmodel.Cell, b.cols)
	for col := 0; col < b.cols; col++ {
		r, style := cellAt(line, col)
		styleID, isNew := b.g.EnsureStyleId(style)
		if isNew {
			b.seq++
			b.g.EmitStyle(styleID, b.seq, style)
		}
		cells[col] = cellmodel.PackCell(r, styleID)
	}
	b.seq++
	b.g.ApplyRowUpdate(absRow, b.seq, cells)
}

// cellAt extracts the rune and style at column col of line, defaulting to a
// blank cell with the default style for short/empty lines. uv.Line is
// ultraviolet's cell-addressable line type; At returns the zero uv.Cell
// (blank, default style) past the line's written width.
func cellAt(line uv.Line, col int) (rune, cellmodel.Style) {
	cell := line.At(col)
	r := cell.Rune()
	if r == 0 {
		r = ' '
	}
	return r, styleFromCell(cell)
}

func styleFromCell(cell uv.Cell) cellmodel.Style {
	st := cell.Style()
	attrs := cellmodel.Attr(0)
	if st.Bold() {
		attrs |= cellmodel.AttrBold
	}
	if st.Faint() {
		attrs |= cellmodel.AttrDim
	}
	if st.Italic() {
		attrs |= cellmodel.AttrItalic
	}
	if st.Underline() {
		attrs |= cellmodel.AttrUnderline
	}
	if st.Blink() {
		attrs |= cellmodel.AttrBlink
	}
	if st.Reverse() {
		attrs |= cellmodel.AttrReverse
	}
	if st.Strikethrough() {
		attrs |= cellmodel.AttrStrikethrough
	}
	return cellmodel.Style{
		Fg:    colorToUint32(st.Foreground()),
		Bg:    colorToUint32(st.Background()),
		Attrs: attrs,
	}
}

// colorToUint32 packs an ultraviolet color into 0xAARRGGBB, with the alpha
// byte zero meaning "no color set" (the terminal's default), matching the
// zero-value cellmodel.Style used for blank cells.
func colorToUint32(c uv.Color) uint32 {
	if c == nil {
		return 0
	}
	r, g, bl, a := c.RGBA()
	if a == 0 {
		return 0
	}
	return 0xFF000000 | (uint32(r>>8) << 16) | (uint32(g>>8) << 8) | uint32(bl>>8)
}

func (b *Bridge) emitCursor() {
	pos := b.emu.CursorPosition()
	b.seq++
	b.g.EmitCursor(b.topRow+uint64(pos.Y), pos.X, b.seq, b.cursorVisible, b.cursorBlink)
}
