// Package objstream implements the memoizing object stream: a flattener
// (sender) and inflater (receiver) pair that track, per connection, which
// large object graphs have already crossed the wire by content hash, so a
// value seen once is referenced by a small index on every later
// transmission instead of being re-encoded.
//
// A Flattener and its peer Inflater must stay in lockstep: every index the
// flattener hands out must be consumed by the inflater in the same order,
// including indices installed by the pre-population hooks
// (ConsiderValueAlreadyWritten / ConsiderValueAlreadyRead) that let both
// ends declare a value "already exchanged" without putting it on the wire
// at all — used for a large built-in object graph every worker holds
// identically.
package objstream

import (
	"fmt"
	"sync"

	"github.com/cumulusmesh/fabric/hash"
	"github.com/cumulusmesh/fabric/wire"
)

// Memoizable is a value the flattener can track by content hash: a stable
// identity hash plus its own wire encoding.
type Memoizable interface {
	MemoHash() hash.Hash
	wire.Encodable
}

const (
	tagSeen uint8 = 0
	tagNew  uint8 = 1
)

// ErrDesync indicates a memoization index arrived out of the lockstep
// sequence the flattener and inflater must maintain — a new-record index
// that doesn't equal the table's current size, or a seen-record index
// beyond it. Unrecoverable; the owning channel must disconnect.
var ErrDesync = fmt.Errorf("%w: memoization index out of sequence", wire.ErrMalformed)

// Flattener is the sender side of a memoizing object stream. One
// Flattener belongs to exactly one outbound direction of one channel; the
// caller is responsible for serializing access the same way it serializes
// access to the underlying wire.Serializer (SerializedChannel does both
// under the same mutex).
type Flattener struct {
	mu     sync.Mutex
	byHash map[hash.Hash]uint32
}

// NewFlattener returns an empty Flattener.
func NewFlattener() *Flattener {
	return &Flattener{byHash: make(map[hash.Hash]uint32)}
}

// ConsiderValueAlreadyWritten seeds the table with v's hash without
// writing anything, so a later Write of an equal value emits only a seen
// record. Calling it twice with the same hash is a no-op — pre-population
// must be idempotent since both ends seed identically at startup.
func (f *Flattener) ConsiderValueAlreadyWritten(v Memoizable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := v.MemoHash()
	if _, ok := f.byHash[h]; ok {
		return
	}
	f.byHash[h] = uint32(len(f.byHash))
}

// Write emits v on s: a seen record (tag, index) if v's hash is already
// memoized, otherwise a new record (tag, index) followed by v's full
// encoding, and installs the mapping for future writes.
func (f *Flattener) Write(s *wire.Serializer, v Memoizable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := v.MemoHash()
	if idx, ok := f.byHash[h]; ok {
		if err := s.WriteUint8(tagSeen); err != nil {
			return err
		}
		return s.WriteUint32(idx)
	}

	idx := uint32(len(f.byHash))
	f.byHash[h] = idx
	if err := s.WriteUint8(tagNew); err != nil {
		return err
	}
	if err := s.WriteUint32(idx); err != nil {
		return err
	}
	return v.EncodeFabric(s)
}

// Inflater is the receiver side of a memoizing object stream, the mirror
// of Flattener. Its table is keyed by index rather than hash, matching
// the wire record, which never carries a hash — only the sender's table
// is keyed by content.
type Inflater struct {
	mu      sync.Mutex
	byIndex map[uint32]any
}

// NewInflater returns an empty Inflater.
func NewInflater() *Inflater {
	return &Inflater{byIndex: make(map[uint32]any)}
}

// ConsiderValueAlreadyRead seeds the table with v at the next index,
// mirroring the peer's ConsiderValueAlreadyWritten call for the same
// value. The two sides must call their pre-population hooks in identical
// order for identical values, or the tables desync.
func (inf *Inflater) ConsiderValueAlreadyRead(v any) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	idx := uint32(len(inf.byIndex))
	inf.byIndex[idx] = v
}

// Read reads one memoized-object record written by a peer Flattener's
// Write. construct allocates a zero value of T for a new record;
// decodeBody fills it in. On a seen record, the previously stored value
// is returned directly without touching construct/decodeBody.
func Read[T any](inf *Inflater, d *wire.Deserializer, construct func() T, decodeBody func(*wire.Deserializer, T) error) (T, error) {
	var zero T

	tag, err := d.ReadUint8()
	if err != nil {
		return zero, err
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()

	switch tag {
	case tagSeen:
		idx, err := d.ReadUint32()
		if err != nil {
			return zero, err
		}
		existing, ok := inf.byIndex[idx]
		if !ok {
			return zero, ErrDesync
		}
		typed, ok := existing.(T)
		if !ok {
			return zero, fmt.Errorf("%w: memo index %d type mismatch", wire.ErrMalformed, idx)
		}
		return typed, nil

	case tagNew:
		idx, err := d.ReadUint32()
		if err != nil {
			return zero, err
		}
		if int(idx) != len(inf.byIndex) {
			return zero, ErrDesync
		}
		v := construct()
		inf.byIndex[idx] = v
		if err := decodeBody(d, v); err != nil {
			return zero, err
		}
		return v, nil

	default:
		return zero, fmt.Errorf("%w: unknown memoization tag %d", wire.ErrMalformed, tag)
	}
}
