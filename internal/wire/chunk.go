package wire

// MaxTransportFrameBytes and MaxUpdatesPerFrame are the two chunking budgets
// from spec.md §4.4: the synchronizer packages a PreparedUpdateBatch into
// transport frames bound by both. Oversize single updates are emitted alone
// with has_more=true until the batch terminates.
const (
	MaxTransportFrameBytes = 48 * 1024
	MaxUpdatesPerFrame     = 64
)

// EstimateUpdateSize returns a conservative upper bound on the encoded size
// of u, used to decide chunk boundaries without actually encoding every
// candidate update (which would be quadratic for large batches).
func EstimateUpdateSize(u Update) int {
	const fixedOverhead = 1 + 8*4 // kind byte + generous fixed-field slack
	switch u.Kind {
	case UpdRow, UpdRowSegment:
		return fixedOverhead + len(u.Cells)*8
	default:
		return fixedOverhead
	}
}

// ChunkUpdates splits updates into chunks, each satisfying both maxCount
// (entries) and maxBytes (estimated encoded size), in original order. A
// single update whose own estimated size exceeds maxBytes is still emitted
// alone in its own chunk (an oversize single update, per spec.md §4.4)
// rather than dropped or split further.
func ChunkUpdates(updates []Update, maxCount int, maxBytes int) [][]Update {
	if maxCount <= 0 {
		maxCount = MaxUpdatesPerFrame
	}
	if maxBytes <= 0 {
		maxBytes = MaxTransportFrameBytes
	}
	var chunks [][]Update
	var cur []Update
	curBytes := 0
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
			curBytes = 0
		}
	}
	for _, u := range updates {
		sz := EstimateUpdateSize(u)
		if len(cur) > 0 && (len(cur)+1 > maxCount || curBytes+sz > maxBytes) {
			flush()
		}
		cur = append(cur, u)
		curBytes += sz
		if len(cur) >= maxCount || curBytes >= maxBytes {
			flush()
		}
	}
	flush()
	if len(chunks) == 0 {
		// Preserve "zero updates still produces one empty terminating
		// chunk" semantics for callers that always want at least one
		// has_more=false frame (e.g. RequestBackfill{count=0}, spec.md §8).
		chunks = append(chunks, nil)
	}
	return chunks
}
