// Package wire implements the fabric's type-directed serialization core:
// a small set of primitive-encoding methods shared by every "serializer
// flavor" (a real byte sink, a byte-counting sink, or a streaming-hash
// sink), plus shared-pointer graph support so that cyclic or
// multiply-referenced object graphs round-trip without duplication.
//
// Serialization has no recoverable errors: a short write or a closed
// sink is reported back to the caller as a Go error, and callers at the
// channel layer treat any such error as an immediate disconnect rather
// than attempting to repair the stream.
package wire

import (
	"encoding/binary"
	"io"
	"math"
	"unsafe"

	"github.com/cumulusmesh/fabric/hash"
)

// Serializer writes primitive values to an underlying sink in the
// fabric's wire format: little-endian scalars, length-prefixed strings
// and byte sequences, one-byte optional flags, and an index-based
// encoding for shared pointers that preserves aliasing.
//
// A Serializer is single-use per stream of values it writes in order;
// the caller (typically a SerializedChannel) is responsible for holding
// it behind a mutex so that writes are never interleaved and the
// shared-pointer table sees a single-writer discipline.
type Serializer struct {
	w io.Writer

	// sharedOut maps a pointee's address to the index it was assigned on
	// first emission. Indices are handed out in strictly increasing
	// order starting at 0.
	sharedOut map[uintptr]uint32
}

// NewSerializer returns a Serializer that writes its encoding directly to
// w — the "binary stream serializer" flavor.
func NewSerializer(w io.Writer) *Serializer {
	return &Serializer{w: w, sharedOut: make(map[uintptr]uint32)}
}

// NewByteCountSerializer returns a Serializer that performs every
// encoding step but writes nothing anywhere; Count reports how many
// bytes the same sequence of calls would have produced on a real sink.
// Used to pre-compute frame sizes.
func NewByteCountSerializer() *Serializer {
	return &Serializer{w: &countingWriter{}, sharedOut: make(map[uintptr]uint32)}
}

// Count returns the number of bytes written so far. Only meaningful on a
// Serializer constructed with NewByteCountSerializer.
func (s *Serializer) Count() int {
	if cw, ok := s.w.(*countingWriter); ok {
		return cw.n
	}
	return 0
}

// NewHashingSerializer returns a Serializer whose writes feed a streaming
// hash instead of a byte sink. Sum finalizes it. This lets the
// serialization core hash a value without ever materializing its wire
// form — SerializeHashed uses it to hash one field separately. The
// memoizing object stream does not use it; a Memoizable supplies its own
// MemoHash.
func NewHashingSerializer() *Serializer {
	return &Serializer{w: hash.NewStreaming(), sharedOut: make(map[uintptr]uint32)}
}

// Sum finalizes a hashing serializer. It is only meaningful on a
// Serializer constructed with NewHashingSerializer.
func (s *Serializer) Sum() hash.Hash {
	if hs, ok := s.w.(*hash.Streaming); ok {
		return hs.Sum()
	}
	return hash.Hash{}
}

// WriteBytes writes raw, unprefixed bytes to the sink.
func (s *Serializer) WriteBytes(p []byte) error {
	_, err := s.w.Write(p)
	return err
}

// WriteBool writes a single byte: 1 for true, 0 for false.
func (s *Serializer) WriteBool(v bool) error {
	if v {
		return s.WriteBytes([]byte{1})
	}
	return s.WriteBytes([]byte{0})
}

// WriteUint8 writes a single byte.
func (s *Serializer) WriteUint8(v uint8) error {
	return s.WriteBytes([]byte{v})
}

// WriteUint16 writes two little-endian bytes.
func (s *Serializer) WriteUint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return s.WriteBytes(b[:])
}

// WriteUint32 writes four little-endian bytes.
func (s *Serializer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return s.WriteBytes(b[:])
}

// WriteUint64 writes eight little-endian bytes.
func (s *Serializer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.WriteBytes(b[:])
}

// WriteInt32 writes a signed 32-bit integer in little-endian raw form.
func (s *Serializer) WriteInt32(v int32) error {
	return s.WriteUint32(uint32(v))
}

// WriteInt64 writes a signed 64-bit integer in little-endian raw form.
func (s *Serializer) WriteInt64(v int64) error {
	return s.WriteUint64(uint64(v))
}

// WriteFloat64 writes an IEEE-754 double in little-endian raw form.
func (s *Serializer) WriteFloat64(v float64) error {
	return s.WriteUint64(math.Float64bits(v))
}

// WriteHash writes a Hash as its raw 20-byte wire form.
func (s *Serializer) WriteHash(h hash.Hash) error {
	return s.WriteBytes(h.Bytes())
}

// WriteString writes a uint32 length followed by the string's bytes.
func (s *Serializer) WriteString(v string) error {
	return s.WriteByteString([]byte(v))
}

// WriteByteString writes a uint32 length followed by raw bytes — the
// same encoding WriteString uses, exposed directly for []byte payloads
// so callers don't pay a string conversion.
func (s *Serializer) WriteByteString(v []byte) error {
	if err := s.WriteUint32(uint32(len(v))); err != nil {
		return err
	}
	return s.WriteBytes(v)
}

// Encodable is implemented by any message type that knows how to write
// itself through a Serializer.
type Encodable interface {
	EncodeFabric(s *Serializer) error
}

// Serialize writes v's encoding via its Encodable implementation.
func (s *Serializer) Serialize(v Encodable) error {
	return v.EncodeFabric(s)
}

// SerializeHashed runs v through its own hashing serializer and writes
// the resulting 20-byte hash into s, so one field's identity travels on
// the wire instead of its full encoding. The receiver must already hold
// the value (or be able to fetch it by hash) to make use of the record.
func (s *Serializer) SerializeHashed(v Encodable) error {
	inner := NewHashingSerializer()
	if err := inner.Serialize(v); err != nil {
		return err
	}
	return s.WriteHash(inner.Sum())
}

// WriteOptional writes the optional encoding: a 0 byte if v is nil,
// otherwise a 1 byte followed by encode(*v).
func WriteOptional[T any](s *Serializer, v *T, encode func(*Serializer, T) error) error {
	if v == nil {
		return s.WriteBool(false)
	}
	if err := s.WriteBool(true); err != nil {
		return err
	}
	return encode(s, *v)
}

// WriteSlice writes a uint32 length followed by each element's encoding
// in order.
func WriteSlice[T any](s *Serializer, items []T, encode func(*Serializer, T) error) error {
	if err := s.WriteUint32(uint32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := encode(s, item); err != nil {
			return err
		}
	}
	return nil
}

// WriteMap writes a uint32 length followed by key/value pairs in the
// iteration order Go's map range gives. Decode rebuilds into a fresh
// map, so only content round-trips, not iteration order.
func WriteMap[K comparable, V any](s *Serializer, m map[K]V, encodeK func(*Serializer, K) error, encodeV func(*Serializer, V) error) error {
	if err := s.WriteUint32(uint32(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := encodeK(s, k); err != nil {
			return err
		}
		if err := encodeV(s, v); err != nil {
			return err
		}
	}
	return nil
}

// WritePair writes two consecutive values with no framing between them.
func WritePair[A, B any](s *Serializer, a A, b B, encodeA func(*Serializer, A) error, encodeB func(*Serializer, B) error) error {
	if err := encodeA(s, a); err != nil {
		return err
	}
	return encodeB(s, b)
}

// WriteSharedPtr writes a shared-pointer record: a one-byte
// present flag; if present, a uint32 index. The first time a given
// pointer is seen, the index equals the table's current size and the
// pointee's full encoding follows inline; on every subsequent sighting of
// the same pointer only the index is written. ptr's address is used as
// the table key for the lifetime of this Serializer, which is why the
// Serializer must not outlive or be reused across unrelated object
// graphs that might reuse a freed address.
func WriteSharedPtr[T any](s *Serializer, ptr *T, encodeBody func(*Serializer, *T) error) error {
	if ptr == nil {
		return s.WriteBool(false)
	}
	if err := s.WriteBool(true); err != nil {
		return err
	}

	addr := uintptr(unsafe.Pointer(ptr))
	if idx, seen := s.sharedOut[addr]; seen {
		return s.WriteUint32(idx)
	}

	idx := uint32(len(s.sharedOut))
	s.sharedOut[addr] = idx
	if err := s.WriteUint32(idx); err != nil {
		return err
	}
	return encodeBody(s, ptr)
}
