// Package hash implements the fabric's 160-bit content-addressed identity:
// five 32-bit words, constant-time compare, and a streaming hash protocol
// that the serialization core uses to hash values without materializing
// their wire form.
package hash

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the length of a Hash in bytes (five 32-bit words).
const Size = 20

// Hash is an opaque 160-bit identity. The zero value is the hash of the
// empty byte string under neither algorithm below; it exists only so that
// Hash can be used as a map key and struct field without explicit
// initialization. Use Zero to refer to it by name.
type Hash [5]uint32

// Zero is the all-zero hash, used as a sentinel "no value yet" marker by
// callers that need one; the empty string does not hash to Zero under
// either SHA1 or XX.
var Zero = Hash{}

// SHA1 computes the cryptographic variant: the first 20 bytes of a
// standard SHA-1 digest, read back as five little-endian uint32 words.
func SHA1(data []byte) Hash {
	sum := sha1.Sum(data)
	return fromBytes(sum[:])
}

// XX computes the fast, non-cryptographic variant, filling the 160 bits
// from three differently-seeded 64-bit xxHash digests: one wide digest
// for most of the entropy, one narrow digest as an independent check
// word, and a third for the final word.
func XX(data []byte) Hash {
	var out Hash

	d1 := xxhash.New()
	d1.Write(data) //nolint:errcheck // hash.Hash.Write never errors
	wide := d1.Sum64()
	out[0] = uint32(wide)
	out[1] = uint32(wide >> 32)

	d2 := xxhash.New()
	d2.Write(seededPrefix)
	d2.Write(data) //nolint:errcheck
	narrow := d2.Sum64()
	out[2] = uint32(narrow)
	out[3] = uint32(narrow >> 32)

	d3 := xxhash.New()
	d3.Write(data)         //nolint:errcheck
	d3.Write(seededPrefix) //nolint:errcheck
	out[4] = uint32(d3.Sum64())

	return out
}

// seededPrefix differentiates the second and third xxHash passes from the
// first so that XX(data) isn't just three copies of the same 64 bits.
var seededPrefix = []byte{0x75, 0x66, 0x6f, 0x72, 0x61}

func fromBytes(b []byte) Hash {
	var out Hash
	var padded [Size]byte
	copy(padded[:], b)
	for i := 0; i < 5; i++ {
		out[i] = binary.LittleEndian.Uint32(padded[i*4 : i*4+4])
	}
	return out
}

// Bytes renders the hash as its 20-byte little-endian wire form.
func (h Hash) Bytes() []byte {
	out := make([]byte, Size)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], h[i])
	}
	return out
}

// Cmp performs a lexicographic compare of the five words, most
// significant first, returning -1, 0, or 1. It is used to break ties in
// ordered sets of hashes.
func (h Hash) Cmp(other Hash) int {
	for i := 0; i < 5; i++ {
		if h[i] < other[i] {
			return -1
		}
		if h[i] > other[i] {
			return 1
		}
	}
	return 0
}

// Equal reports whether h and other are the same 160-bit value, in
// constant time so hash comparisons made on attacker-influenced input
// don't leak timing information about where the mismatch occurred.
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h.Bytes(), other.Bytes()) == 1
}

// Concat returns the hash of the canonical concatenation of h and other:
// the hash of their 40-byte wire forms laid end to end, run back through
// XX. It is not a bitwise combination, and it is not commutative.
func (h Hash) Concat(other Hash) Hash {
	buf := make([]byte, 0, Size*2)
	buf = append(buf, h.Bytes()...)
	buf = append(buf, other.Bytes()...)
	return XX(buf)
}

// Xor combines h and other word-by-word. It is commutative and
// associative, making it suitable for order-independent accumulation
// (e.g. a running checksum over an unordered set of hashes).
func (h Hash) Xor(other Hash) Hash {
	var out Hash
	for i := 0; i < 5; i++ {
		out[i] = h[i] ^ other[i]
	}
	return out
}

// String renders the hash as 40 lowercase hex digits.
func (h Hash) String() string {
	return hex.EncodeToString(h.Bytes())
}

// Parse decodes a 40-character hex string produced by String.
func Parse(s string) (Hash, error) {
	if len(s) != Size*2 {
		return Hash{}, fmt.Errorf("hash: expected %d hex chars, got %d", Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash: %w", err)
	}
	return fromBytes(b), nil
}

// Streaming is the streaming hash protocol: repeated Write calls feed
// bytes into three running digests without requiring the caller to
// materialize the full wire form of whatever they're hashing. Sum
// finalizes and returns the accumulated hash; a Streaming must not be
// reused after Sum. Hashing value a then value b via two Write calls
// yields the same result as XX of a followed by b in one call.
type Streaming struct {
	wide, narrow, check *xxhash.Digest
}

// NewStreaming starts a new streaming hash using the fast, non-cryptographic
// algorithm — the variant the serialization core uses on its hot path.
func NewStreaming() *Streaming {
	s := &Streaming{
		wide:   xxhash.New(),
		narrow: xxhash.New(),
		check:  xxhash.New(),
	}
	s.narrow.Write(seededPrefix) //nolint:errcheck
	return s
}

// Write appends bytes to all three pending digests. It never fails.
func (s *Streaming) Write(p []byte) (int, error) {
	s.wide.Write(p)   //nolint:errcheck
	s.narrow.Write(p) //nolint:errcheck
	s.check.Write(p)  //nolint:errcheck
	return len(p), nil
}

// Sum finalizes the digest computed from all bytes written so far.
func (s *Streaming) Sum() Hash {
	var out Hash

	wide := s.wide.Sum64()
	out[0] = uint32(wide)
	out[1] = uint32(wide >> 32)

	narrow := s.narrow.Sum64()
	out[2] = uint32(narrow)
	out[3] = uint32(narrow >> 32)

	s.check.Write(seededPrefix) //nolint:errcheck
	out[4] = uint32(s.check.Sum64())

	return out
}
