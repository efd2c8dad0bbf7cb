// Package cellmodel defines the packed cell representation and the
// process-wide style interner shared by every Grid in a host process.
package cellmodel

import "sync"

// StyleId identifies an interned Style. StyleId 0 is always StyleDefault
// (no attributes, terminal-default foreground/background).
type StyleId uint32

// StyleDefault is the zero value of StyleId, reserved for plain text.
const StyleDefault StyleId = 0

// Attr is a bitset of text attributes, independent of color.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrHidden
	AttrStrikethrough
)

// Style is a foreground color, background color, and attribute set. Colors
// are packed RGBA-ish 32 bit values: 0 means "terminal default", and any
// other value is 0x01RRGGBB (the leading 0x01 byte distinguishes an
// explicit black, 0x010000, from "no color set").
type Style struct {
	Fg    uint32
	Bg    uint32
	Attrs Attr
}

// StyleTable interns Styles into stable StyleIds, process-wide. A single
// instance is shared by every Grid a host constructs, matching spec.md's
// "interned into a process-wide style table" language — Grid instances come
// and go per session but the StyleTable outlives them all.
type StyleTable struct {
	mu      sync.RWMutex
	byStyle map[Style]StyleId
	byId    []Style // index 0 is StyleDefault
}

// NewStyleTable returns a StyleTable pre-seeded with StyleDefault at id 0.
func NewStyleTable() *StyleTable {
	return &StyleTable{
		byStyle: map[Style]StyleId{{}: StyleDefault},
		byId:    []Style{{}},
	}
}

// Intern returns the stable StyleId for s, allocating a new one if s has
// never been seen before. Safe for concurrent use.
func (t *StyleTable) Intern(s Style) StyleId {
	id, _ := t.InternNew(s)
	return id
}

// InternNew is Intern, additionally reporting whether this call allocated a
// new id — callers that must emit a Style update the first time a style is
// seen (and only then, per §4.3's dedup rule) need this to distinguish a
// fresh allocation from a re-lookup of an already-interned style.
func (t *StyleTable) InternNew(s Style) (StyleId, bool) {
	t.mu.RLock()
	if id, ok := t.byStyle[s]; ok {
		t.mu.RUnlock()
		return id, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check under the write lock: another goroutine may have interned
	// the same style while we waited.
	if id, ok := t.byStyle[s]; ok {
		return id, false
	}
	id := StyleId(len(t.byId))
	t.byId = append(t.byId, s)
	t.byStyle[s] = id
	return id, true
}

// Lookup returns the Style for id. False if id was never interned by this
// table (a decode path receiving an unknown id from a peer's own table is a
// protocol error, not a table miss — callers are expected to validate id
// ranges against their own mirrored copy of the styles they've seen).
func (t *StyleTable) Lookup(id StyleId) (Style, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byId) {
		return Style{}, false
	}
	return t.byId[id], true
}

// Len reports how many distinct styles have been interned, including
// StyleDefault.
func (t *StyleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byId)
}
