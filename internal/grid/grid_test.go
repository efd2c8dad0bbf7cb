package grid

import (
	"testing"

	"github.com/ehrlich-b/beach/internal/cellmodel"
)

func newTestGrid(updates *[]CacheUpdate) *Grid {
	styles := cellmodel.NewStyleTable()
	return New(4, 8, styles, func(u CacheUpdate) {
		if updates != nil {
			*updates = append(*updates, u)
		}
	})
}

func TestWriteCellIfNewerStaleRejected(t *testing.T) {
	var updates []CacheUpdate
	g := newTestGrid(&updates)

	if res := g.WriteCellIfNewer(0, 0, 5, cellmodel.PackCell('a', 0)); res != Applied {
		t.Fatalf("first write should apply, got %v", res)
	}
	if res := g.WriteCellIfNewer(0, 0, 3, cellmodel.PackCell('b', 0)); res != Stale {
		t.Fatalf("lower-seq write should be stale, got %v", res)
	}
	if res := g.WriteCellIfNewer(0, 0, 5, cellmodel.PackCell('c', 0)); res != Stale {
		t.Fatalf("equal-seq write should be stale, got %v", res)
	}
	cells, ok := g.SnapshotRow(0)
	if !ok {
		t.Fatal("row 0 should be resident")
	}
	if cells[0].Rune() != 'a' {
		t.Fatalf("cell should still hold 'a', got %q", cells[0].Rune())
	}
	if len(updates) != 1 {
		t.Fatalf("expected exactly 1 emitted update, got %d", len(updates))
	}
}

func TestWriteCellOutOfRangeDiscarded(t *testing.T) {
	g := newTestGrid(nil)
	if res := g.WriteCellIfNewer(0, 100, 1, cellmodel.BlankCell); res != Stale {
		t.Fatalf("out-of-range col should discard, got %v", res)
	}
	g.ApplyTrim(0, 5, 1)
	if res := g.WriteCellIfNewer(2, 0, 999, cellmodel.BlankCell); res != Stale {
		t.Fatalf("write below base_row after trim should discard, got %v", res)
	}
}

func TestApplyTrimAdvancesBaseRowMonotonically(t *testing.T) {
	g := newTestGrid(nil)
	for i := uint64(0); i < 10; i++ {
		g.WriteCellIfNewer(i, 0, i+1, cellmodel.PackCell(rune('0'+i), 0))
	}
	g.ApplyTrim(0, 3, 100)
	if g.BaseRow() != 3 {
		t.Fatalf("base_row = %d, want 3", g.BaseRow())
	}
	if _, ok := g.SnapshotRow(1); ok {
		t.Fatal("row 1 should have been trimmed away")
	}
	if _, ok := g.SnapshotRow(3); !ok {
		t.Fatal("row 3 should remain resident")
	}

	// base_row never retreats, even if a later trim names an earlier range.
	g.ApplyTrim(0, 1, 101)
	if g.BaseRow() != 3 {
		t.Fatalf("base_row regressed to %d after trim with smaller end", g.BaseRow())
	}

	g.ApplyTrim(3, 2, 102)
	if g.BaseRow() != 5 {
		t.Fatalf("base_row = %d, want 5", g.BaseRow())
	}
}

func TestApplyTrimBeyondResidentStillAdvancesBase(t *testing.T) {
	g := newTestGrid(nil)
	g.WriteCellIfNewer(0, 0, 1, cellmodel.BlankCell)
	g.ApplyTrim(0, 1000, 5)
	if g.BaseRow() != 1000 {
		t.Fatalf("base_row = %d, want 1000 (server commitment to never emit below it)", g.BaseRow())
	}
}

func TestApplyRowUpdateRejectsWrongWidth(t *testing.T) {
	g := newTestGrid(nil)
	if res := g.ApplyRowUpdate(0, 1, []cellmodel.Cell{cellmodel.BlankCell}); res != Stale {
		t.Fatalf("wrong-width row update should be stale, got %v", res)
	}
}

func TestApplyRectEmitsSingleUpdate(t *testing.T) {
	var updates []CacheUpdate
	g := newTestGrid(&updates)
	res := g.ApplyRect(0, 2, 0, 4, 1, cellmodel.PackCell('x', 0))
	if res != Applied {
		t.Fatalf("rect write should apply, got %v", res)
	}
	row0, _ := g.SnapshotRow(0)
	row1, _ := g.SnapshotRow(1)
	for _, c := range row0[:4] {
		if c.Rune() != 'x' {
			t.Fatalf("row0 cell = %q, want 'x'", c.Rune())
		}
	}
	for _, c := range row1[:4] {
		if c.Rune() != 'x' {
			t.Fatalf("row1 cell = %q, want 'x'", c.Rune())
		}
	}
	if row0[4].Rune() != ' ' {
		t.Fatalf("row0 col 4 should be untouched blank, got %q", row0[4].Rune())
	}
	var rectUpdates int
	for _, u := range updates {
		if u.Kind == UpdateRect {
			rectUpdates++
		}
	}
	if rectUpdates != 1 {
		t.Fatalf("expected exactly one Rect CacheUpdate, got %d", rectUpdates)
	}
}

func TestEnsureStyleIdSharedAcrossGrids(t *testing.T) {
	styles := cellmodel.NewStyleTable()
	g1 := New(1, 1, styles, nil)
	g2 := New(1, 1, styles, nil)
	id1, new1 := g1.EnsureStyleId(cellmodel.Style{Fg: 0x01FF0000})
	id2, new2 := g2.EnsureStyleId(cellmodel.Style{Fg: 0x01FF0000})
	if id1 != id2 {
		t.Fatalf("same style interned via two grids got different ids: %d vs %d", id1, id2)
	}
	if !new1 {
		t.Fatalf("first intern of a style should report new")
	}
	if new2 {
		t.Fatalf("second intern of an already-seen style should not report new")
	}
}

func TestGridGrowsOnWriteBeyondInitialViewport(t *testing.T) {
	g := newTestGrid(nil)
	g.WriteCellIfNewer(50, 0, 1, cellmodel.PackCell('z', 0))
	highest, ok := g.HighestRow()
	if !ok || highest != 50 {
		t.Fatalf("HighestRow() = %d, %v; want 50, true", highest, ok)
	}
	if g.RowCount() != 51 {
		t.Fatalf("RowCount() = %d, want 51", g.RowCount())
	}
}
