package reconciler

import "time"

// Tick runs the backfill-orchestration algorithm (spec.md §4.6) and returns
// a RequestBackfill to issue, or nil if none is warranted this tick. Callers
// invoke this once per client tick after applying any frames received since
// the last tick.
func (r *Reconciler) Tick(now time.Time) *PendingBackfillRequest {
	r.prunePendingRequests(now)

	if len(r.pendingBackfills) >= BackfillMaxPendingRequests {
		return nil
	}
	if !r.lastRequestAt.IsZero() && now.Sub(r.lastRequestAt) < BackfillMinInterval {
		return nil
	}

	following := true
	if r.followingTail != nil {
		following = r.followingTail()
	}

	if following && r.hasPendingOrMissingRows() && r.handshakeHistoryRows > r.handshakeSnapshotLines {
		return r.issueBootstrapRequest(now)
	}

	if !following {
		if req := r.issueGapRequest(now); req != nil {
			return req
		}
		return nil
	}

	return r.issueTailRequest(now)
}

func (r *Reconciler) prunePendingRequests(now time.Time) {
	var kept []PendingBackfillRequest
	for _, p := range r.pendingBackfills {
		if now.Sub(p.IssuedAt) <= BackfillRequestTimeout {
			kept = append(kept, p)
		}
	}
	r.pendingBackfills = kept
}

func (r *Reconciler) hasPendingOrMissingRows() bool {
	for _, row := range r.rows {
		if row.State == RowMissing {
			return true
		}
	}
	// Also true when nothing has been loaded yet but history exists.
	return !r.hasLoadedRows && r.handshakeHistoryRows > 0
}

// firstUnloadedRange finds the first contiguous range of absolute rows in
// [r.knownBaseRow, r.knownBaseRow+handshakeHistoryRows) that is not loaded,
// bounded by BackfillMaxRowsPerRequest.
func (r *Reconciler) firstUnloadedRange() (start, end uint64, ok bool) {
	lo := r.knownBaseRow
	hi := lo + uint64(r.handshakeHistoryRows)
	var rangeStart uint64
	inRange := false
	for row := lo; row < hi; row++ {
		loaded := false
		if existing, present := r.rows[row]; present && existing.State == RowLoaded {
			loaded = true
		}
		if !loaded && !inRange {
			rangeStart = row
			inRange = true
		}
		if loaded && inRange {
			return rangeStart, row, true
		}
		if inRange && row-rangeStart+1 >= BackfillMaxRowsPerRequest {
			return rangeStart, row + 1, true
		}
	}
	if inRange {
		return rangeStart, hi, true
	}
	return 0, 0, false
}

func (r *Reconciler) issueBootstrapRequest(now time.Time) *PendingBackfillRequest {
	start, end, ok := r.firstUnloadedRange()
	if !ok {
		return nil
	}
	return r.issueRequest(start, end, now)
}

func (r *Reconciler) issueGapRequest(now time.Time) *PendingBackfillRequest {
	highest, hasHighest := r.highestLoadedRow, r.hasLoadedRows
	if !hasHighest {
		return nil
	}
	base := r.knownBaseRow
	if highest <= base {
		return nil
	}
	// A "gap" is unloaded space between base and the first unloaded row
	// below highest. firstUnloadedRange already finds exactly that.
	start, end, ok := r.firstUnloadedRange()
	if !ok {
		return nil
	}
	if r.lastGapStart != nil && *r.lastGapStart == start {
		if !r.canRetry(start, end, now) {
			return nil
		}
	}
	r.lastGapStart = &start
	return r.issueRequest(start, end, now)
}

func (r *Reconciler) issueTailRequest(now time.Time) *PendingBackfillRequest {
	if !r.hasLoadedRows {
		return nil
	}
	var start uint64
	if r.highestLoadedRow > BackfillLookaheadRows {
		start = r.highestLoadedRow - BackfillLookaheadRows
	}
	if start < r.knownBaseRow {
		start = r.knownBaseRow
	}
	end := start + BackfillLookaheadRows
	if r.lastTailStart != nil && *r.lastTailStart == start {
		if !r.canRetry(start, end, now) {
			return nil
		}
	}
	r.lastTailStart = &start
	return r.issueRequest(start, end, now)
}

// canRetry applies empty-tail suppression: a request overlapping a recorded
// EmptyTailRange is deferred unless highest_loaded_row has advanced past the
// sentinel, or BACKFILL_MIN_INTERVAL has elapsed since last retry and the
// range has not yet been retried (spec.md §4.6).
func (r *Reconciler) canRetry(start, end uint64, now time.Time) bool {
	for i := range r.emptyTailRanges {
		er := &r.emptyTailRanges[i]
		if !rangesOverlap(er.Start, er.End, start, end) {
			continue
		}
		if r.hasLoadedRows && r.highestLoadedRow > er.HighestAt {
			return true
		}
		if !er.RetryAttempted && now.Sub(er.RecordedAt) >= BackfillMinInterval {
			er.RetryAttempted = true
			return true
		}
		return false
	}
	return true
}

func rangesOverlap(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

func (r *Reconciler) issueRequest(start, end uint64, now time.Time) *PendingBackfillRequest {
	if end <= start {
		return nil
	}
	if end-start > BackfillMaxRowsPerRequest {
		end = start + BackfillMaxRowsPerRequest
	}
	r.nextRequestID++
	req := PendingBackfillRequest{
		ID: r.nextRequestID, Start: start, End: end, IssuedAt: now, MoreExpected: true,
	}
	r.pendingBackfills = append(r.pendingBackfills, req)
	r.lastRequestAt = now
	return &req
}
