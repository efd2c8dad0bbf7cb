// Package wire implements WireCodec: the binary, length-prefixed tagged-
// union frame format exchanged between ServerSynchronizer and
// ClientReconciler (spec.md §6). Framing follows
// framegrace-texelation/protocol/protocol.go's header shape (magic, version,
// type, payload length, optional checksum flag) with encoding/binary
// field-by-field writes; the payload schema itself is this spec's, not
// texelation's.
package wire

// FrameType discriminates the host→client and client→host frame unions.
// Host and client frames share one byte-value space so a decode error can
// always name "unknown frame type N" without knowing which direction it
// came from.
type FrameType uint8

const (
	FrameHeartbeat FrameType = iota
	FrameHello
	FrameGrid
	FrameSnapshot
	FrameSnapshotComplete
	FrameDelta
	FrameHistoryBackfill
	FrameInputAck
	FrameCursor
	FrameShutdown

	FrameInput
	FrameResize
	FrameRequestBackfill
	FrameViewportCommand
	FrameUnknown
)

// Lane is the snapshot-scheduling priority class (spec.md §6.1).
type Lane uint8

const (
	LaneForeground Lane = iota
	LaneRecent
	LaneHistory
)

// FeatureCursorSync is bit 0 of Hello.Features.
const FeatureCursorSync uint32 = 1 << 0

// ViewportCommandClear is the only defined ViewportCommand today.
const ViewportCommandClear uint8 = 0

// SnapshotBudget pairs a lane with its max update count per chunk.
type SnapshotBudget struct {
	Lane       Lane
	MaxUpdates uint32
}

// SyncConfig is advertised at Hello and may be hot-reloaded by
// internal/config without restarting the host.
type SyncConfig struct {
	SnapshotBudgets      []SnapshotBudget
	DeltaBudget          uint32
	HeartbeatMs          uint64
	InitialSnapshotLines uint32
}

// CursorFrame is the authoritative cursor position/visibility payload.
type CursorFrame struct {
	Row     uint32
	Col     uint32
	Seq     uint64
	Visible bool
	Blink   bool
}

// UpdateKind discriminates the Update tagged union (spec.md §6.1).
type UpdateKind uint8

const (
	UpdCell UpdateKind = iota
	UpdRow
	UpdRect
	UpdRowSegment
	UpdTrim
	UpdStyle
)

// Update is the wire encoding of grid.CacheUpdate, plus RowSegment (used
// only by backfill/delta to rewrite a prefix and implicitly truncate the
// suffix to spaces at committed width — spec.md §3).
type Update struct {
	Kind UpdateKind

	// Cell
	Row uint32
	Col uint32
	Seq uint64
	// Cell / RowSegment / Row elements are raw packed cellmodel.Cell
	// values; wire doesn't need to know their internal layout.
	Cell uint64

	// Row / RowSegment
	Cells []uint64

	// Rect
	Rows [2]uint32
	Cols [2]uint32

	// RowSegment
	StartCol uint32

	// Trim
	Start uint32
	Count uint32

	// Style
	StyleId uint32
	Fg      uint32
	Bg      uint32
	Attrs   uint8
}

// HostFrame is the tagged union of frames sent server → client.
type HostFrame struct {
	Type FrameType

	// Heartbeat
	HeartbeatSeq uint64
	TimestampMs  uint64

	// Hello
	Subscription uint64
	MaxSeq       uint64
	Config       SyncConfig
	Features     uint32

	// Grid
	GridCols         uint32
	GridHistoryRows  uint32
	GridBaseRow      uint64
	GridViewportRows uint32
	HasViewportRows  bool

	// Snapshot / Delta / HistoryBackfill share these
	Lane        Lane
	Watermark   uint64
	HasMore     bool
	Updates     []Update
	Cursor      *CursorFrame
	RequestID   uint64
	StartRow    uint64
	Count       uint32
	More        bool

	// InputAck
	AckSeq uint64
}

// ClientFrame is the tagged union of frames sent client → host.
type ClientFrame struct {
	Type FrameType

	// Input
	InputSeq  uint64
	InputData []byte

	// Resize
	ResizeCols uint16
	ResizeRows uint16

	// RequestBackfill
	Subscription uint64
	RequestID    uint64
	StartRow     uint64
	Count        uint32

	// ViewportCommand
	Command uint8
}
