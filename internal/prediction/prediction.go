// Package prediction implements PredictionEngine: mosh-style local-echo
// prediction keyed by outgoing input sequence, SRTT smoothing, glitch
// detection, and hysteresis-gated overlay visibility (spec.md §4.7). It is
// a pure function of (outgoing input bytes, incoming InputAcks, current
// time) — no reference to transport or renderer internals, matching the
// isolation the pack's own mosh-style predictive echo
// (thyth-nosshtradamus/internal/predictive/epochal.go, delay.go) keeps
// between its epoch/RTT bookkeeping and the I/O it wraps.
package prediction

import "time"

const (
	// MaxPendingPredictions is the hard cap; overflow clears all state.
	MaxPendingPredictions = 256

	// PredictionAckGrace purges acked predictions this long after ack, to
	// absorb in-flight overwrites.
	PredictionAckGrace = 90 * time.Millisecond

	srttAlpha = 0.125

	srttShowMs = 30.0
	srttHideMs = 20.0
	flagShowMs = 80.0
	flagHideMs = 50.0

	glitchOldThreshold    = 250 * time.Millisecond
	glitchForceThreshold  = 5 * time.Second
	glitchDecayInterval   = 150 * time.Millisecond
	glitchForceLevel      = 10
	glitchUnderlineLevel  = 10
)

// Position is a predicted cell: location plus the predicted character.
type Position struct {
	Row uint64
	Col uint32
	Ch  rune
}

// pending is one PendingPrediction: the positions predicted for a single
// input seq, plus timing.
type pending struct {
	positions []Position
	sentAt    time.Time
	ackedAt   time.Time
	acked     bool
}

// Engine is PredictionEngine.
type Engine struct {
	row, col uint64 // cursor position as understood by the prediction walk; col stored as uint64 for overflow-free arithmetic

	pendingBySeq map[uint64]*pending
	order        []uint64 // insertion order of pendingBySeq keys, for grace-period sweeps

	srtt          time.Duration
	haveSRTT      bool
	srttTrigger   bool
	flagTrigger   bool
	glitchTrigger int
	lastDecayAt   time.Time

	committedLookup func(row uint64, col uint32) (rune, bool)
}

// NewEngine creates an empty Engine. committedLookup, if non-nil, lets the
// engine ask the renderer whether a predicted cell has already been
// committed by the host (used to clear a prediction immediately on ack
// rather than waiting out the grace period).
func NewEngine(committedLookup func(row uint64, col uint32) (rune, bool)) *Engine {
	return &Engine{pendingBySeq: make(map[uint64]*pending), committedLookup: committedLookup}
}

// NewPredictionEngine is an alias kept for callers that construct an Engine
// without a committed-cell oracle (e.g. reconciler tests).
func NewPredictionEngine() *Engine { return NewEngine(nil) }

// SetCursor tells the engine where the (authoritative) cursor currently is,
// so the next RegisterInput call's byte walk starts from the right place.
func (e *Engine) SetCursor(row uint64, col uint32) {
	e.row, e.col = row, uint64(col)
}

// RegisterInput walks outgoing input bytes per spec.md §4.7's byte rules,
// recording predicted positions against seq.
func (e *Engine) RegisterInput(seq uint64, data []byte, committedWidth int) {
	p := &pending{sentAt: time.Now()}
	for _, b := range data {
		switch {
		case b == '\r':
			e.col = 0
		case b == '\n':
			e.row++
			e.col = 0
		case b == 0x08 || b == 0x7f:
			if e.col > 0 {
				e.col--
			} else if e.row > 0 {
				e.row--
				if committedWidth > 0 {
					e.col = uint64(committedWidth - 1)
				}
			}
		case b > 0x1f:
			p.positions = append(p.positions, Position{Row: e.row, Col: uint32(e.col), Ch: rune(b)})
			e.col++
		default:
			// other control bytes ignored
		}
	}
	e.pendingBySeq[seq] = p
	e.order = append(e.order, seq)
	if len(e.pendingBySeq) > MaxPendingPredictions {
		e.clearAll()
	}
}

func (e *Engine) clearAll() {
	e.pendingBySeq = make(map[uint64]*pending)
	e.order = nil
}

// Ack records InputAck{seq}, sampling and smoothing RTT, and attempts an
// immediate clear when every predicted cell has already been committed.
func (e *Engine) Ack(seq uint64, now time.Time) {
	p, ok := e.pendingBySeq[seq]
	if !ok {
		return
	}
	p.ackedAt = now
	p.acked = true

	sample := now.Sub(p.sentAt)
	if !e.haveSRTT {
		e.srtt = sample
		e.haveSRTT = true
	} else {
		e.srtt = time.Duration(float64(e.srtt)*(1-srttAlpha) + float64(sample)*srttAlpha)
	}

	if e.allCommitted(p) {
		delete(e.pendingBySeq, seq)
	}
}

func (e *Engine) allCommitted(p *pending) bool {
	if e.committedLookup == nil {
		return false
	}
	for _, pos := range p.positions {
		ch, ok := e.committedLookup(pos.Row, pos.Col)
		if !ok || ch != pos.Ch {
			return false
		}
	}
	return true
}

// Sweep purges acked predictions past their grace period and updates glitch
// state; call once per client tick.
func (e *Engine) Sweep(now time.Time) {
	var kept []uint64
	oldestPendingAge := time.Duration(0)
	for _, seq := range e.order {
		p, ok := e.pendingBySeq[seq]
		if !ok {
			continue
		}
		if p.acked && now.Sub(p.ackedAt) >= PredictionAckGrace {
			delete(e.pendingBySeq, seq)
			continue
		}
		if !p.acked {
			age := now.Sub(p.sentAt)
			if age > oldestPendingAge {
				oldestPendingAge = age
			}
		}
		kept = append(kept, seq)
	}
	e.order = kept

	switch {
	case oldestPendingAge >= glitchForceThreshold:
		e.glitchTrigger = glitchForceLevel + 1
	case oldestPendingAge >= glitchOldThreshold:
		if e.glitchTrigger < glitchForceLevel {
			e.glitchTrigger = glitchForceLevel
		}
	default:
		if e.glitchTrigger > 0 && (e.lastDecayAt.IsZero() || now.Sub(e.lastDecayAt) >= glitchDecayInterval) {
			e.glitchTrigger--
			e.lastDecayAt = now
		}
	}

	if e.haveSRTT {
		ms := float64(e.srtt) / float64(time.Millisecond)
		if !e.srttTrigger && ms >= srttShowMs {
			e.srttTrigger = true
		} else if e.srttTrigger && ms <= srttHideMs {
			e.srttTrigger = false
		}
		if !e.flagTrigger && ms >= flagShowMs {
			e.flagTrigger = true
		} else if e.flagTrigger && ms <= flagHideMs {
			e.flagTrigger = false
		}
	}
}

// Visible reports whether the prediction overlay should be shown, per
// spec.md §4.7: predictions exist OR srtt_trigger OR glitch_trigger > 0.
func (e *Engine) Visible() bool {
	return len(e.pendingBySeq) > 0 || e.srttTrigger || e.glitchTrigger > 0
}

// Underlined reports whether visible predictions should render underlined:
// flagging OR glitch_trigger > 10.
func (e *Engine) Underlined() bool {
	return e.flagTrigger || e.glitchTrigger > glitchUnderlineLevel
}

// Positions returns every still-pending predicted position, across all
// in-flight input seqs, for the renderer's overlay pass.
func (e *Engine) Positions() []Position {
	var out []Position
	for _, seq := range e.order {
		if p, ok := e.pendingBySeq[seq]; ok {
			out = append(out, p.positions...)
		}
	}
	return out
}

// InvalidateRange discards predictions whose row falls in [start, end) —
// called on Trim, per spec.md §4.6.
func (e *Engine) InvalidateRange(start, end uint64) {
	for seq, p := range e.pendingBySeq {
		filtered := p.positions[:0]
		for _, pos := range p.positions {
			if pos.Row < start || pos.Row >= end {
				filtered = append(filtered, pos)
			}
		}
		p.positions = filtered
		if len(p.positions) == 0 {
			delete(e.pendingBySeq, seq)
		}
	}
}

// DiscardBeyond discards predictions at or beyond (row, col) lexicographic
// order on the same row — called when an authoritative Cursor frame arrives
// at a column earlier than a prediction claimed, per spec.md §4.6 scenario 3.
func (e *Engine) DiscardBeyond(row uint64, col uint32) {
	for seq, p := range e.pendingBySeq {
		filtered := p.positions[:0]
		for _, pos := range p.positions {
			if pos.Row == row && pos.Col >= col {
				continue
			}
			filtered = append(filtered, pos)
		}
		p.positions = filtered
		if len(p.positions) == 0 {
			delete(e.pendingBySeq, seq)
		}
	}
}

// PendingCount reports how many input seqs still have outstanding
// predictions (for diagnostics/tests).
func (e *Engine) PendingCount() int { return len(e.pendingBySeq) }
