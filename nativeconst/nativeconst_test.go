package nativeconst

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/wire"
)

type point struct {
	X, Y int32
}

var registerPointOnce sync.Once

func registerPointType() {
	registerPointOnce.Do(func() {
		RegisterCBORType[point]("fabric.test.Point", func(p point) string {
			return fmt.Sprintf("(%d, %d)", p.X, p.Y)
		})
	})
}

func TestCBORValueRoundTripsThroughWire(t *testing.T) {
	registerPointType()

	v := NewCBORValue("fabric.test.Point", point{X: 3, Y: 4}, func(p point) string {
		return fmt.Sprintf("(%d, %d)", p.X, p.Y)
	})

	var buf bytes.Buffer
	s := wire.NewSerializer(&buf)
	require.NoError(t, EncodeFabric(s, v))

	d := wire.NewDeserializer(&buf)
	got, err := DecodeFabric(d)
	require.NoError(t, err)

	require.Equal(t, "fabric.test.Point", got.TypeName())
	require.True(t, Equal(v, got))
	require.Equal(t, "(3, 4)", got.Description())

	gotPoint, ok := got.(*cborValue[point])
	require.True(t, ok)
	require.Equal(t, point{3, 4}, gotPoint.Data())
}

func TestEqualComparesTypeNameAndHashOnly(t *testing.T) {
	registerPointType()

	a := NewCBORValue("fabric.test.Point", point{1, 1}, nil)
	b := NewCBORValue("fabric.test.Point", point{1, 1}, nil)
	c := NewCBORValue("fabric.test.Point", point{2, 2}, nil)

	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

func TestRegisterDuplicateTypeNamePanics(t *testing.T) {
	Register(&cborCodec[int]{typeName: "fabric.test.Dup"})
	require.Panics(t, func() {
		Register(&cborCodec[int]{typeName: "fabric.test.Dup"})
	})
}

func TestDecodeFabricUnregisteredTypeIsMalformed(t *testing.T) {
	var buf bytes.Buffer
	s := wire.NewSerializer(&buf)
	require.NoError(t, s.WriteString("fabric.test.NeverRegistered"))
	require.NoError(t, s.WriteHash(wire.NewHashingSerializer().Sum()))
	require.NoError(t, s.WriteByteString([]byte("irrelevant")))

	d := wire.NewDeserializer(&buf)
	_, err := DecodeFabric(d)
	require.ErrorIs(t, err, wire.ErrMalformed)
}

func TestDecodeFabricHashMismatchIsMalformed(t *testing.T) {
	registerPointType()

	v := NewCBORValue("fabric.test.Point", point{5, 6}, nil)

	var buf bytes.Buffer
	s := wire.NewSerializer(&buf)

	payload, err := cbor.Marshal(point{5, 6})
	require.NoError(t, err)

	require.NoError(t, s.WriteString(v.TypeName()))
	// Write a hash that does not correspond to the payload that follows.
	wrongHash := NewCBORValue("fabric.test.Point", point{99, 99}, nil).Hash()
	require.NoError(t, s.WriteHash(wrongHash))
	require.NoError(t, s.WriteByteString(payload))

	d := wire.NewDeserializer(&buf)
	_, err = DecodeFabric(d)
	require.ErrorIs(t, err, wire.ErrMalformed)
}
