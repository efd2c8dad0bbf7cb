package main

import (
	"testing"
	"time"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/clipboard"
	"github.com/ehrlich-b/beach/internal/reconciler"
	"github.com/ehrlich-b/beach/internal/wire"
)

func rowFrame(row uint64, text string) wire.HostFrame {
	cells := make([]uint64, len(text))
	for i, ch := range text {
		cells[i] = uint64(cellmodel.PackCell(ch, cellmodel.StyleDefault))
	}
	return wire.HostFrame{
		Type:      wire.FrameSnapshot,
		Watermark: 1,
		Updates:   []wire.Update{{Kind: wire.UpdRow, Row: uint32(row), Cells: cells}},
	}
}

func TestScanTouchedRowsEmitsOSC52ToSink(t *testing.T) {
	rec := reconciler.New(func() bool { return true })
	rec.HandleFrame(wire.HostFrame{Type: wire.FrameGrid, GridCols: 80, GridHistoryRows: 0}, time.Now())

	payload := "\x1b]52;c;aGVsbG8=\x07"
	f := rowFrame(0, payload)
	rec.HandleFrame(f, time.Now())

	var gotSelection string
	var gotData []byte
	clip := clipboard.NewScanner(func(selection string, data []byte) {
		gotSelection = selection
		gotData = data
	})

	scanTouchedRows(rec, f, clip)

	if gotSelection != "c" {
		t.Fatalf("expected selection %q, got %q", "c", gotSelection)
	}
	if string(gotData) != "hello" {
		t.Fatalf("expected decoded payload %q, got %q", "hello", gotData)
	}
}

func TestScanTouchedRowsIgnoresUntouchedRows(t *testing.T) {
	rec := reconciler.New(func() bool { return true })
	rec.HandleFrame(wire.HostFrame{Type: wire.FrameGrid, GridCols: 80, GridHistoryRows: 0}, time.Now())

	called := false
	clip := clipboard.NewScanner(func(string, []byte) { called = true })

	scanTouchedRows(rec, wire.HostFrame{Updates: nil}, clip)
	if called {
		t.Fatal("expected sink not to fire when no rows are touched")
	}
}
