package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cumulusmesh/fabric/hash"
)

// ErrMalformed indicates the byte stream does not match the expected
// encoding — a short read, an invalid length, or (via ErrSharedPtrDesync)
// a shared-pointer index that doesn't match the table. Always fatal for
// the channel the bytes arrived on.
var ErrMalformed = errors.New("wire: malformed stream")

// ErrSharedPtrDesync indicates a deserialized shared-pointer index did
// not equal the table's current size when it should have introduced a
// new entry, or referenced an index beyond the table. Unrecoverable; the
// channel the record arrived on must disconnect.
var ErrSharedPtrDesync = fmt.Errorf("%w: shared pointer index out of sequence", ErrMalformed)

// Deserializer reads primitive values from an underlying source in the
// fabric's wire format, the exact inverse of Serializer.
type Deserializer struct {
	r io.Reader

	// sharedIn maps an index to the already-reconstructed pointee. The
	// value is stored as `any` because a single Deserializer is used
	// across every type present in one stream.
	sharedIn map[uint32]any
}

// NewDeserializer returns a Deserializer reading from r.
func NewDeserializer(r io.Reader) *Deserializer {
	return &Deserializer{r: r, sharedIn: make(map[uint32]any)}
}

func (d *Deserializer) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, err
	}
	return buf, nil
}

// ReadBytes reads exactly n raw bytes and returns them in a new slice.
func (d *Deserializer) ReadBytes(n int) ([]byte, error) {
	return d.readFull(n)
}

// ReadBool reads a single byte: nonzero is true.
func (d *Deserializer) ReadBool() (bool, error) {
	b, err := d.readFull(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadUint8 reads a single byte.
func (d *Deserializer) ReadUint8() (uint8, error) {
	b, err := d.readFull(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads two little-endian bytes.
func (d *Deserializer) ReadUint16() (uint16, error) {
	b, err := d.readFull(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads four little-endian bytes.
func (d *Deserializer) ReadUint32() (uint32, error) {
	b, err := d.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads eight little-endian bytes.
func (d *Deserializer) ReadUint64() (uint64, error) {
	b, err := d.readFull(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt32 reads a signed 32-bit integer in little-endian raw form.
func (d *Deserializer) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads a signed 64-bit integer in little-endian raw form.
func (d *Deserializer) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

// ReadFloat64 reads an IEEE-754 double in little-endian raw form.
func (d *Deserializer) ReadFloat64() (float64, error) {
	v, err := d.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadHash reads a Hash from its raw 20-byte wire form.
func (d *Deserializer) ReadHash() (hash.Hash, error) {
	b, err := d.readFull(hash.Size)
	if err != nil {
		return hash.Hash{}, err
	}
	var out hash.Hash
	for i := 0; i < 5; i++ {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return out, nil
}

// ReadString reads a uint32 length followed by that many bytes, returned
// as a string.
func (d *Deserializer) ReadString() (string, error) {
	b, err := d.ReadByteString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// maxReasonableLength bounds length prefixes read from an untrusted
// stream so a corrupt or malicious length field can't force an
// unbounded allocation; it is far above any real message this fabric
// carries, multi-MiB frames included.
const maxReasonableLength = 1 << 30

// ReadByteString reads a uint32 length followed by that many raw bytes.
func (d *Deserializer) ReadByteString() ([]byte, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxReasonableLength {
		return nil, fmt.Errorf("%w: length prefix %d exceeds sanity bound", ErrMalformed, n)
	}
	return d.readFull(int(n))
}

// Decodable is implemented by any message type that knows how to read
// itself from a Deserializer.
type Decodable interface {
	DecodeFabric(d *Deserializer) error
}

// Deserialize reads v's encoding via its Decodable implementation.
func (d *Deserializer) Deserialize(v Decodable) error {
	return v.DecodeFabric(d)
}

// ReadOptional reads the optional encoding written by WriteOptional.
func ReadOptional[T any](d *Deserializer, decode func(*Deserializer) (T, error)) (*T, error) {
	present, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := decode(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadSlice reads a uint32 length followed by that many elements,
// decoded in order.
func ReadSlice[T any](d *Deserializer, decode func(*Deserializer) (T, error)) ([]T, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxReasonableLength {
		return nil, fmt.Errorf("%w: sequence length %d exceeds sanity bound", ErrMalformed, n)
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadMap reads a uint32 length followed by that many key/value pairs
// into a freshly allocated map.
func ReadMap[K comparable, V any](d *Deserializer, decodeK func(*Deserializer) (K, error), decodeV func(*Deserializer) (V, error)) (map[K]V, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxReasonableLength {
		return nil, fmt.Errorf("%w: map length %d exceeds sanity bound", ErrMalformed, n)
	}
	out := make(map[K]V, n)
	for i := uint32(0); i < n; i++ {
		k, err := decodeK(d)
		if err != nil {
			return nil, err
		}
		v, err := decodeV(d)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ReadPair reads two consecutive values with no framing between them.
func ReadPair[A, B any](d *Deserializer, decodeA func(*Deserializer) (A, error), decodeB func(*Deserializer) (B, error)) (A, B, error) {
	var zeroA A
	var zeroB B
	a, err := decodeA(d)
	if err != nil {
		return zeroA, zeroB, err
	}
	b, err := decodeB(d)
	if err != nil {
		return zeroA, zeroB, err
	}
	return a, b, nil
}

// ReadSharedPtr reads a shared-pointer record. construct allocates a
// zero-valued *T that decodeBody then fills in; the shell is installed
// in the index table *before* decodeBody runs, so that a cyclic graph's
// back-references can resolve to it mid-decode.
func ReadSharedPtr[T any](d *Deserializer, construct func() *T, decodeBody func(*Deserializer, *T) error) (*T, error) {
	present, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}

	idx, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}

	if int(idx) < len(d.sharedIn) {
		existing, ok := d.sharedIn[idx]
		if !ok {
			return nil, ErrSharedPtrDesync
		}
		ptr, ok := existing.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: shared pointer index %d type mismatch", ErrMalformed, idx)
		}
		return ptr, nil
	}

	if int(idx) != len(d.sharedIn) {
		return nil, ErrSharedPtrDesync
	}

	ptr := construct()
	d.sharedIn[idx] = ptr

	if err := decodeBody(d, ptr); err != nil {
		return nil, err
	}
	return ptr, nil
}
