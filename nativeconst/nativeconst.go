// Package nativeconst implements the registry of "arbitrary native
// constants": opaque runtime values that carry a registered type name, a
// content hash, and serialize/deserialize methods, so that an external
// collaborator (the compiler and native-code generator, implemented
// elsewhere) can embed arbitrary runtime objects into generated code and
// still have them round-trip across the messaging fabric.
//
// Every type must be registered before any value of that type appears on
// the wire; the registry maps a type name to the codec that knows how to
// turn values of that type into bytes and back.
package nativeconst

import (
	"fmt"
	"sync"

	"github.com/cumulusmesh/fabric/hash"
	"github.com/cumulusmesh/fabric/wire"
)

// Value is a single arbitrary native constant. Two Values are equal iff
// their type names and hashes compare equal — the registry never
// compares payload bytes or native data directly.
type Value interface {
	TypeName() string
	Hash() hash.Hash
	Description() string
}

// Codec knows how to turn values of one registered type into bytes and
// back. Encode/Decode operate on the opaque payload only; the type name
// and hash travel alongside it on the wire (see EncodeFabric/DecodeFabric
// below) so a Codec never needs to handle framing itself.
type Codec interface {
	TypeName() string
	Encode(v Value) ([]byte, error)
	Decode(payload []byte) (Value, error)
}

var (
	mu       sync.Mutex
	registry = map[string]Codec{}
)

// Register installs c as the codec for its TypeName. Registering the
// same type name twice is a programming error and panics at startup
// time, matching the registry's "must be registered before any value of
// that type appears on the wire" invariant — there is no valid moment at
// which silently overwriting a codec would be correct.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[c.TypeName()]; exists {
		panic(fmt.Sprintf("nativeconst: type %q already registered", c.TypeName()))
	}
	registry[c.TypeName()] = c
}

func lookup(typeName string) (Codec, bool) {
	mu.Lock()
	defer mu.Unlock()
	c, ok := registry[typeName]
	return c, ok
}

// Equal implements the registry's equality contract: same type name and
// same hash.
func Equal(a, b Value) bool {
	return a.TypeName() == b.TypeName() && a.Hash().Equal(b.Hash())
}

// EncodeFabric writes v as (typeName, hash, payload-bytes). DecodeFabric
// always decodes the payload and then checks the decoded value's hash
// against the one written here.
func EncodeFabric(s *wire.Serializer, v Value) error {
	codec, ok := lookup(v.TypeName())
	if !ok {
		return fmt.Errorf("nativeconst: type %q has no registered codec", v.TypeName())
	}
	payload, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("nativeconst: encoding %q: %w", v.TypeName(), err)
	}
	if err := s.WriteString(v.TypeName()); err != nil {
		return err
	}
	if err := s.WriteHash(v.Hash()); err != nil {
		return err
	}
	return s.WriteByteString(payload)
}

// DecodeFabric reads a value written by EncodeFabric, dispatching to the
// codec registered for its type name.
func DecodeFabric(d *wire.Deserializer) (Value, error) {
	typeName, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	declaredHash, err := d.ReadHash()
	if err != nil {
		return nil, err
	}
	payload, err := d.ReadByteString()
	if err != nil {
		return nil, err
	}

	codec, ok := lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: nativeconst type %q has no registered codec", wire.ErrMalformed, typeName)
	}
	v, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("nativeconst: decoding %q: %w", typeName, err)
	}
	if !v.Hash().Equal(declaredHash) {
		return nil, fmt.Errorf("%w: nativeconst %q hash mismatch after decode", wire.ErrMalformed, typeName)
	}
	return v, nil
}
