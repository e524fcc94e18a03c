// Package symbol implements the fabric's process-wide intern table: byte
// strings are interned once and thereafter compared by identity, not by
// content. Records are created lazily on first observation and are never
// freed — the table grows monotonically for the life of the process.
package symbol

import (
	"sync"

	"github.com/cumulusmesh/fabric/hash"
)

// record is the backing storage for one interned string. Only the intern
// table ever holds a *record by value; everyone else holds a Symbol,
// which is a pointer to one of these.
type record struct {
	text string
	h    hash.Hash
}

// Symbol is an intern handle. Two Symbols are equal iff their backing
// records are the same record — ordinary Go `==` on a Symbol compares
// the wrapped record pointer directly. The zero Symbol (nil record) is
// the interned empty string.
type Symbol struct {
	rec *record
}

var (
	mu sync.Mutex

	// table is keyed by the string content itself, never by its hash:
	// one record per distinct byte string, so two strings that happen to
	// collide in hash space still intern to distinct records. The hash
	// lives on the record as a precomputed field only.
	table = map[string]*record{
		// The empty string deliberately maps to the nil record, so that
		// the zero-valued Symbol is well-defined without touching the
		// table.
		"": nil,
	}
)

// Intern returns the Symbol for s, creating its record on first
// observation. Repeated calls with the same string return Symbols
// wrapping the identical record pointer.
func Intern(s string) Symbol {
	mu.Lock()
	defer mu.Unlock()

	if rec, ok := table[s]; ok {
		return Symbol{rec: rec}
	}

	rec := &record{text: s, h: hash.XX([]byte(s))}
	table[s] = rec
	return Symbol{rec: rec}
}

// Safe replaces every byte outside [0-9A-Za-z_] with '_' before interning,
// for turning arbitrary external identifiers into values that are safe to
// treat as symbolic names on the wire.
func Safe(s string) Symbol {
	b := []byte(s)
	for i, c := range b {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_') {
			b[i] = '_'
		}
	}
	return Intern(string(b))
}

// String returns the original byte string this Symbol was interned from.
// The zero Symbol's String is "".
func (s Symbol) String() string {
	if s.rec == nil {
		return ""
	}
	return s.rec.text
}

// Hash returns the content hash of the interned string, computed once at
// intern time.
func (s Symbol) Hash() hash.Hash {
	if s.rec == nil {
		return hash.XX(nil)
	}
	return s.rec.h
}

// Cmp orders two Symbols by their underlying hash, giving a total,
// deterministic (if not lexicographic-on-text) order suitable for use as
// a sorted-set tie-break.
func Cmp(a, b Symbol) int {
	return a.Hash().Cmp(b.Hash())
}

// IsZero reports whether s is the interned empty string.
func (s Symbol) IsZero() bool {
	return s.rec == nil
}

var (
	wellKnownMu sync.Mutex
	wellKnown   = map[string]Symbol{}
)

// wellKnownSymbol lazily creates and memoizes one of the fabric's
// well-known symbolic names. Every call with the same name after the
// first returns the exact same Symbol value computed on first use.
func wellKnownSymbol(name string) Symbol {
	wellKnownMu.Lock()
	defer wellKnownMu.Unlock()

	if s, ok := wellKnown[name]; ok {
		return s
	}
	s := Intern(name)
	wellKnown[name] = s
	return s
}

// Well-known symbols used pervasively by message envelopes and the
// native-constant registry to name structural roles without re-interning
// a fresh string literal on every call.
func Call() Symbol      { return wellKnownSymbol("Call") }
func Member() Symbol    { return wellKnownSymbol("Member") }
func GetItem() Symbol   { return wellKnownSymbol("GetItem") }
func SetItem() Symbol   { return wellKnownSymbol("SetItem") }
func Tuple() Symbol     { return wellKnownSymbol("Tuple") }
func Structure() Symbol { return wellKnownSymbol("Structure") }
func Vector() Symbol    { return wellKnownSymbol("Vector") }
func Dictionary() Symbol { return wellKnownSymbol("Dictionary") }
