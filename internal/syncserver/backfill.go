package syncserver

import (
	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/grid"
	"github.com/ehrlich-b/beach/internal/wire"
)

// maxBackfillRequestRows and backfillChunkRows are spec.md §4.5's caps.
const (
	maxBackfillRequestRows = 256
	backfillChunkRows      = 64
)

// BackfillEngine fulfills client RequestBackfill frames: a per-subscriber
// FIFO of jobs, one chunk popped per sink per tick, throttled by the
// subscriber's own rate.Limiter (50ms/tick per spec.md §4.5).
type BackfillEngine struct {
	g *grid.Grid
}

func newBackfillEngine(g *grid.Grid) *BackfillEngine {
	return &BackfillEngine{g: g}
}

// enqueue appends a new job, capping count at maxBackfillRequestRows.
func (e *BackfillEngine) enqueue(sub *Subscriber, requestID, startRow uint64, count uint32) {
	if count > maxBackfillRequestRows {
		count = maxBackfillRequestRows
	}
	job := backfillJob{requestID: requestID, nextRow: startRow, endRow: startRow + uint64(count)}
	sub.mu.Lock()
	sub.backfillQueue = append(sub.backfillQueue, job)
	sub.mu.Unlock()
}

// tick pops the front job (if any) and emits one chunk of it, per spec.md
// §4.5's four-step algorithm. Returns true if it did any work.
func (e *BackfillEngine) tick(sub *Subscriber) bool {
	sub.mu.Lock()
	if len(sub.backfillQueue) == 0 || !sub.active {
		sub.mu.Unlock()
		return false
	}
	if !sub.limiter.Allow() {
		sub.mu.Unlock()
		return false
	}
	job := sub.backfillQueue[0]
	sub.mu.Unlock()

	chunkStart := job.nextRow
	remaining := job.endRow - job.nextRow
	chunkRows := remaining
	if chunkRows > backfillChunkRows {
		chunkRows = backfillChunkRows
	}

	var cacheUpdates []grid.CacheUpdate
	effectiveStart := chunkStart
	base := e.g.BaseRow()
	if chunkStart < base {
		trimCount := base - chunkStart
		if trimCount > chunkRows {
			trimCount = chunkRows
		}
		cacheUpdates = append(cacheUpdates, grid.CacheUpdate{Kind: grid.UpdateTrim, TrimStart: chunkStart, TrimCount: trimCount})
		effectiveStart = base
	}

	chunkEnd := chunkStart + chunkRows
	var styleSeq uint64
	for r := effectiveStart; r < chunkEnd; r++ {
		cells, present := e.g.SnapshotRow(r)
		if !present {
			continue // client marks the row MISSING itself via `attempted`
		}
		seq, _ := e.g.RowSeq(r)
		if allDefaultBlank(cells) && seq == 0 {
			continue // avoid wasted bytes on an untouched blank row
		}
		if seq > styleSeq {
			styleSeq = seq
		}
		cacheUpdates = append(cacheUpdates, grid.CacheUpdate{Kind: grid.UpdateRow, Row: r, Seq: seq, Cells: cells})
	}
	cacheUpdates = append(cacheUpdates, referencedStyleUpdates(e.g.Styles(), cacheUpdates, styleSeq)...)

	sub.mu.Lock()
	prepared := sub.cache.ApplyUpdates(cacheUpdates, true)
	sub.mu.Unlock()

	nextRow := chunkEnd
	more := nextRow < job.endRow

	frame := wire.HostFrame{
		Type:         wire.FrameHistoryBackfill,
		Subscription: sub.ID,
		RequestID:    job.requestID,
		StartRow:     chunkStart,
		Count:        uint32(chunkRows),
		Updates:      prepared.Updates,
		More:         more,
		Cursor:       prepared.Cursor,
	}
	if err := sub.send(frame); err != nil {
		sub.MarkInactive()
		return true
	}

	sub.mu.Lock()
	if more {
		sub.backfillQueue[0].nextRow = nextRow
	} else {
		sub.backfillQueue = sub.backfillQueue[1:]
	}
	sub.mu.Unlock()
	return true
}

func allDefaultBlank(cells []cellmodel.Cell) bool {
	for _, c := range cells {
		if c.Rune() != ' ' || c.Style() != 0 {
			return false
		}
	}
	return true
}
