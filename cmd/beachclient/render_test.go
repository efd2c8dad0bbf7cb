package main

import (
	"strings"
	"testing"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/wire"
)

func TestNewRendererSeedsDefaultStyle(t *testing.T) {
	r := newRenderer(new(strings.Builder))
	s, ok := r.mirror[cellmodel.StyleDefault]
	if !ok {
		t.Fatal("expected StyleDefault pre-seeded in mirror")
	}
	if s != (cellmodel.Style{}) {
		t.Fatalf("expected zero-value default style, got %+v", s)
	}
}

func TestObserveUpdatesPopulatesStyleMirror(t *testing.T) {
	r := newRenderer(new(strings.Builder))
	r.observeUpdates([]wire.Update{
		{Kind: wire.UpdStyle, StyleId: 7, Fg: 0x01FF0000, Bg: 0x01000000, Attrs: uint8(cellmodel.AttrBold)},
		{Kind: wire.UpdCell, Row: 0, Col: 0}, // non-style updates are ignored
	})
	got, ok := r.mirror[cellmodel.StyleId(7)]
	if !ok {
		t.Fatal("expected style id 7 to be recorded")
	}
	want := cellmodel.Style{Fg: 0x01FF0000, Bg: 0x01000000, Attrs: cellmodel.AttrBold}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestObserveUpdatesOverwritesPriorStyleId(t *testing.T) {
	r := newRenderer(new(strings.Builder))
	r.observeUpdates([]wire.Update{{Kind: wire.UpdStyle, StyleId: 3, Fg: 0x01010101}})
	r.observeUpdates([]wire.Update{{Kind: wire.UpdStyle, StyleId: 3, Fg: 0x01020202}})
	got := r.mirror[cellmodel.StyleId(3)]
	if got.Fg != 0x01020202 {
		t.Fatalf("expected latest style update to win, got %+v", got)
	}
}

func TestSetRowsIgnoresNonPositive(t *testing.T) {
	r := newRenderer(new(strings.Builder))
	r.setRows(40)
	r.setRows(0)
	r.setRows(-1)
	if r.rows != 40 {
		t.Fatalf("expected rows to stay 40, got %d", r.rows)
	}
}

func TestSgrForPlainStyleResets(t *testing.T) {
	if got := sgrFor(cellmodel.Style{}); got != "\x1b[0m" {
		t.Fatalf("expected bare reset for zero style, got %q", got)
	}
}

func TestSgrForEncodesAttributesAndTruecolor(t *testing.T) {
	s := cellmodel.Style{Fg: 0x01FF0000, Bg: 0x0100FF00, Attrs: cellmodel.AttrBold | cellmodel.AttrUnderline}
	got := sgrFor(s)
	for _, want := range []string{"1", "4", "38;2;255;0;0", "48;2;0;255;0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected SGR sequence %q to contain %q", got, want)
		}
	}
}
