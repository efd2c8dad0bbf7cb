// Package clipboard is a client-side consumer that watches committed
// terminal rows for OSC 52 clipboard-set sequences and surfaces them
// through a host-provided callback, supplementing a feature spec.md's
// distillation dropped but original_source's terminal.rs implements (its
// copypasta-backed copy/paste commands) — generalized here from local
// selection-copy to the protocol OSC 52 uses for a remote program to ask
// the terminal in front of the user to set its clipboard.
//
// Per SPEC_FULL.md §4.15, the Grid never special-cases OSC 52 bytes: they
// ride to the client as ordinary cell content inside Row/Cell updates,
// and only this package, running after reconciliation, looks for them.
package clipboard

import (
	"encoding/base64"
	"strings"
)

// oscStart and the two valid terminators bound an OSC 52 sequence:
// ESC ] 52 ; <selection> ; <base64 payload> (BEL | ESC \\).
const oscStart = "\x1b]52;"

const bel = '\a'

// Sink receives decoded clipboard payloads. Implementations choose how to
// actually reach the OS clipboard (a specific clipboard library, or none
// at all in a headless client) — this package only parses and proposes.
type Sink func(selection string, data []byte)

// Scanner watches a stream of committed row text for OSC 52 sequences
// and forwards decoded payloads to a Sink.
type Scanner struct {
	sink Sink
}

// NewScanner builds a Scanner that calls sink for every well-formed OSC 52
// sequence found.
func NewScanner(sink Sink) *Scanner {
	return &Scanner{sink: sink}
}

// ScanLine inspects a single committed row's rendered text (after cell
// reconciliation, so the full escape sequence is assembled) for OSC 52
// sequences and invokes the sink for each one found. Returns the count of
// sequences it handled.
func (s *Scanner) ScanLine(line string) int {
	count := 0
	rest := line
	for {
		idx := strings.Index(rest, oscStart)
		if idx < 0 {
			return count
		}
		rest = rest[idx+len(oscStart):]

		semi := strings.IndexByte(rest, ';')
		if semi < 0 {
			return count
		}
		selection := rest[:semi]
		payload := rest[semi+1:]

		end, terminatedByST := findTerminator(payload)
		if end < 0 {
			return count
		}
		encoded := payload[:end]

		if selection == "?" {
			// A query for the current clipboard contents, not a set —
			// nothing for a client-side consumer to act on.
			rest = advancePast(payload, end, terminatedByST)
			continue
		}

		data, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			s.sink(selection, data)
			count++
		}
		rest = advancePast(payload, end, terminatedByST)
	}
}

// findTerminator locates the BEL or ESC-backslash (ST) terminator ending
// an OSC payload, returning its offset and whether it was the two-byte ST
// form (so the caller can skip the right number of bytes).
func findTerminator(payload string) (offset int, isST bool) {
	if i := strings.IndexByte(payload, bel); i >= 0 {
		if j := strings.Index(payload, "\x1b\\"); j >= 0 && j < i {
			return j, true
		}
		return i, false
	}
	if j := strings.Index(payload, "\x1b\\"); j >= 0 {
		return j, true
	}
	return -1, false
}

func advancePast(payload string, end int, isST bool) string {
	skip := end + 1
	if isST {
		skip = end + 2
	}
	if skip > len(payload) {
		return ""
	}
	return payload[skip:]
}
