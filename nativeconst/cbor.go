package nativeconst

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cumulusmesh/fabric/hash"
)

// cborValue is the concrete Value implementation behind RegisterCBORType:
// a registered Go struct type whose payload encoding is delegated to
// fxamacker/cbor rather than a hand-rolled encoder, for the common case
// where the native constant is just ordinary structured data rather than
// something with a genuine in-memory native layout to preserve.
type cborValue[T any] struct {
	typeName string
	data     T
	h        hash.Hash
	desc     string
}

func (v *cborValue[T]) TypeName() string    { return v.typeName }
func (v *cborValue[T]) Hash() hash.Hash     { return v.h }
func (v *cborValue[T]) Description() string { return v.desc }

// Data returns the underlying native Go value this constant wraps.
func (v *cborValue[T]) Data() T { return v.data }

type cborCodec[T any] struct {
	typeName string
	describe func(T) string
}

func (c *cborCodec[T]) TypeName() string { return c.typeName }

func (c *cborCodec[T]) Encode(v Value) ([]byte, error) {
	typed, ok := v.(*cborValue[T])
	if !ok {
		return nil, fmt.Errorf("nativeconst: value for %q is not a %T", c.typeName, *new(T))
	}
	return cbor.Marshal(typed.data)
}

func (c *cborCodec[T]) Decode(payload []byte) (Value, error) {
	var data T
	if err := cbor.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return NewCBORValue(c.typeName, data, c.describe), nil
}

// RegisterCBORType installs a codec for T, named typeName, backed by
// fxamacker/cbor for the payload encoding. describe renders a value of T
// as a short human string for Value.Description(); pass nil to use a
// generic "<typeName>" description.
func RegisterCBORType[T any](typeName string, describe func(T) string) {
	Register(&cborCodec[T]{typeName: typeName, describe: describe})
}

// NewCBORValue wraps data as a Value of the given registered type name,
// computing its identity hash over the CBOR encoding of data. describe
// may be nil.
func NewCBORValue[T any](typeName string, data T, describe func(T) string) *cborValue[T] {
	encoded, err := cbor.Marshal(data)
	if err != nil {
		// A value that cannot be hashed cannot be meaningfully compared
		// or sent; treat this as a programmer error, same as an
		// unregistered type.
		panic(fmt.Sprintf("nativeconst: cbor-marshaling %q for hashing: %v", typeName, err))
	}

	desc := typeName
	if describe != nil {
		desc = describe(data)
	}

	return &cborValue[T]{
		typeName: typeName,
		data:     data,
		h:        hash.SHA1(encoded),
		desc:     desc,
	}
}
