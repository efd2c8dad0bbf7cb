package timeline

import (
	"testing"

	"github.com/ehrlich-b/beach/internal/grid"
)

func TestRecordAndCollectSince(t *testing.T) {
	s := New(8)
	for i := uint64(1); i <= 5; i++ {
		s.Record(grid.CacheUpdate{Kind: grid.UpdateCell, Seq: i})
	}
	if s.LatestSeq() != 5 {
		t.Fatalf("LatestSeq() = %d, want 5", s.LatestSeq())
	}
	got := s.CollectSince(2, 0)
	if len(got) != 3 {
		t.Fatalf("CollectSince(2) len = %d, want 3", len(got))
	}
	if got[0].Seq != 3 {
		t.Fatalf("first collected seq = %d, want 3", got[0].Seq)
	}
}

func TestCollectSinceRespectsBudget(t *testing.T) {
	s := New(8)
	for i := uint64(1); i <= 5; i++ {
		s.Record(grid.CacheUpdate{Seq: i})
	}
	got := s.CollectSince(0, 2)
	if len(got) != 2 {
		t.Fatalf("budget-limited collect len = %d, want 2", len(got))
	}
}

func TestEvictionOnOverflow(t *testing.T) {
	s := New(3)
	for i := uint64(1); i <= 5; i++ {
		s.Record(grid.CacheUpdate{Seq: i})
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (capacity)", s.Len())
	}
	oldest, ok := s.OldestSeq()
	if !ok || oldest != 3 {
		t.Fatalf("OldestSeq() = %d, %v; want 3, true (seqs 1,2 evicted)", oldest, ok)
	}
	got := s.CollectSince(0, 0)
	if len(got) != 3 || got[0].Seq != 3 || got[2].Seq != 5 {
		t.Fatalf("CollectSince after overflow = %+v, want seqs [3,4,5]", got)
	}
}

func TestEmptyStreamOldestSeq(t *testing.T) {
	s := New(4)
	if _, ok := s.OldestSeq(); ok {
		t.Fatal("empty stream should report no oldest seq")
	}
}
