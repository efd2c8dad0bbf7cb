// Package reconciler implements ClientReconciler: the client-side state
// machine that applies Hello/Grid/Snapshot/Delta/HistoryBackfill/Cursor/
// Shutdown frames, tracks absolute row bounds under trimming, and
// orchestrates backfill requests (bootstrap, gap, tail, with empty-tail
// suppression) per spec.md §4.6.
package reconciler

import (
	"sort"
	"time"

	"github.com/ehrlich-b/beach/internal/cellmodel"
	"github.com/ehrlich-b/beach/internal/prediction"
	"github.com/ehrlich-b/beach/internal/wire"
)

// Backfill orchestration tunables, spec.md §4.6.
const (
	BackfillLookaheadRows      = 120
	BackfillMaxRowsPerRequest  = 256
	BackfillMaxPendingRequests = 4
	BackfillMinInterval        = 250 * time.Millisecond
	BackfillRequestTimeout     = 5 * time.Second
)

// AuthState mirrors the pre-Hello approval state machine described in
// SPEC_FULL.md §4.13; ClientReconciler only ever observes the Connecting →
// Approved edge, strictly on Hello receipt.
type AuthState uint8

const (
	AuthConnecting AuthState = iota
	AuthApproved
)

// RowState is the per-row rendering status the backfill orchestration
// algorithm and trim handling maintain for the renderer.
type RowState uint8

const (
	RowMissing RowState = iota // requested but not yet delivered, or never requested
	RowLoaded
)

// PendingBackfillRequest tracks one in-flight RequestBackfill, per spec.md
// §3 BackfillRequestState.
type PendingBackfillRequest struct {
	ID           uint64
	Start        uint64
	End          uint64
	IssuedAt     time.Time
	MoreExpected bool
}

// EmptyTailRange records a previously requested range whose terminating
// backfill delivered zero touched rows, per spec.md §3/§4.6.
type EmptyTailRange struct {
	Start          uint64
	End            uint64
	RecordedAt     time.Time
	HighestAt      uint64
	RetryAttempted bool
}

// Row is one reconciled row: its cells (nil if RowMissing) and status.
type Row struct {
	Cells []cellmodel.Cell
	State RowState
}

// Cursor is the client's current cursor: authoritative, or the default
// position set at handshake.
type Cursor struct {
	Row     uint64
	Col     uint32
	Visible bool
	Blink   bool
	// Exact is true once an authoritative cursor frame has been applied and
	// false after Hello or the Grid frame parks the cursor. The cursor is
	// never inferred from row updates.
	Exact bool
}

// FollowingTail reports whether the reconciler is scrolled to the live
// bottom of the grid (vs. scrolled back into history / copy-mode).
type FollowingTail func() bool

// Reconciler is ClientReconciler.
type Reconciler struct {
	subscriptionID uint64
	lastSeq        uint64
	cols           int
	featureCursorSync bool

	handshakeHistoryRows  uint32
	handshakeSnapshotLines uint32

	knownBaseRow     uint64
	highestLoadedRow uint64
	hasLoadedRows    bool

	rows map[uint64]*Row

	cursor Cursor

	authState AuthState

	pendingBackfills []PendingBackfillRequest
	emptyTailRanges  []EmptyTailRange
	lastGapStart     *uint64
	lastTailStart    *uint64
	lastRequestAt    time.Time
	nextRequestID    uint64

	predictions *prediction.Engine

	followingTail FollowingTail

	laneComplete map[wire.Lane]bool
}

// New creates a Reconciler. followingTail lets the owning renderer tell the
// backfill-orchestration algorithm whether it is viewing the live tail or
// scrolled back into history (spec.md §4.6 step 2 vs 3).
func New(followingTail FollowingTail) *Reconciler {
	return &Reconciler{
		rows:          make(map[uint64]*Row),
		followingTail: followingTail,
		predictions:   prediction.NewPredictionEngine(),
		laneComplete:  make(map[wire.Lane]bool),
		authState:     AuthConnecting,
	}
}

// AuthState reports the current authorization state.
func (r *Reconciler) AuthState() AuthState { return r.authState }

// SubscriptionID returns the id assigned at Hello.
func (r *Reconciler) SubscriptionID() uint64 { return r.subscriptionID }

// LastSeq returns the current delta watermark.
func (r *Reconciler) LastSeq() uint64 { return r.lastSeq }

// KnownBaseRow returns the client's current view of the grid's base row.
func (r *Reconciler) KnownBaseRow() uint64 { return r.knownBaseRow }

// Cols returns the grid's column count, set from the Grid frame at
// handshake. Renderers use it to size viewport redraws; cmd/beachclient
// passes it as RegisterInput's committedWidth, which the prediction engine
// uses only when a backspace at column 0 wraps to the end of the previous
// row (printable bytes do not wrap predictions at that width).
func (r *Reconciler) Cols() int { return r.cols }

// HighestLoadedRow returns the highest row index any payload update has
// touched, and whether any row has been loaded at all.
func (r *Reconciler) HighestLoadedRow() (uint64, bool) { return r.highestLoadedRow, r.hasLoadedRows }

// Cursor returns the current cursor state.
func (r *Reconciler) Cursor() Cursor { return r.cursor }

// Row returns the reconciled row at absoluteRow, or nil if never touched.
func (r *Reconciler) Row(absoluteRow uint64) *Row { return r.rows[absoluteRow] }

// Predictions exposes the embedded PredictionEngine.
func (r *Reconciler) Predictions() *prediction.Engine { return r.predictions }

func (r *Reconciler) rowOrMissing(absoluteRow uint64) *Row {
	row, ok := r.rows[absoluteRow]
	if !ok {
		row = &Row{State: RowMissing}
		r.rows[absoluteRow] = row
	}
	return row
}

// sortedTouchedRows returns the sorted set of distinct rows touched by
// updates, used by HistoryBackfill's finalize step.
func sortedTouchedRows(updates []wire.Update) []uint64 {
	seen := map[uint64]bool{}
	for _, u := range updates {
		switch u.Kind {
		case wire.UpdRow, wire.UpdRowSegment:
			seen[uint64(u.Row)] = true
		case wire.UpdRect:
			for row := uint64(u.Rows[0]); row < uint64(u.Rows[1]); row++ {
				seen[row] = true
			}
		case wire.UpdCell:
			seen[uint64(u.Row)] = true
		}
	}
	out := make([]uint64, 0, len(seen))
	for row := range seen {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
