package channel

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/hash"
	"github.com/cumulusmesh/fabric/objstream"
	"github.com/cumulusmesh/fabric/scheduler"
	"github.com/cumulusmesh/fabric/wire"
)

// note is the test message type: a short label plus a reference to a
// shared "attachment" blob that's memoized across the channel's lifetime.
type note struct {
	Label      string
	Attachment *attachment
}

type attachment struct {
	Payload []byte
}

func (a *attachment) MemoHash() hash.Hash { return hash.SHA1(a.Payload) }

func (a *attachment) EncodeFabric(s *wire.Serializer) error {
	return s.WriteByteString(a.Payload)
}

func decodeAttachment(d *wire.Deserializer) (*attachment, error) {
	p, err := d.ReadByteString()
	if err != nil {
		return nil, err
	}
	return &attachment{Payload: p}, nil
}

func encodeNote(s *wire.Serializer, flt *objstream.Flattener, n note) error {
	if err := s.WriteString(n.Label); err != nil {
		return err
	}
	return flt.Write(s, n.Attachment)
}

func decodeNote(d *wire.Deserializer, inf *objstream.Inflater) (note, error) {
	label, err := d.ReadString()
	if err != nil {
		return note{}, err
	}
	att, err := objstream.Read(inf, d, func() *attachment { return &attachment{} }, func(d *wire.Deserializer, a *attachment) error {
		got, err := decodeAttachment(d)
		if err != nil {
			return err
		}
		*a = *got
		return nil
	})
	if err != nil {
		return note{}, err
	}
	return note{Label: label, Attachment: att}, nil
}

func newNotePair(t *testing.T) (*SerializedChannel[note, note], *SerializedChannel[note, note]) {
	sched := scheduler.New(4)
	rawA, rawB := NewInMemoryChannelPair[[]byte, []byte](sched)
	a := NewSerializedChannel[note, note](rawA, sched, encodeNote, decodeNote)
	b := NewSerializedChannel[note, note](rawB, sched, encodeNote, decodeNote)
	return a, b
}

func TestSerializedChannelRoundTrip(t *testing.T) {
	a, b := newNotePair(t)

	got := make(chan note, 1)
	b.SetHandlers(func(n note) { got <- n }, func() {})

	shared := &attachment{Payload: []byte("shared payload")}
	require.NoError(t, a.Write(note{Label: "first", Attachment: shared}))

	select {
	case n := <-got:
		require.Equal(t, "first", n.Label)
		require.Equal(t, shared.Payload, n.Attachment.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestSerializedChannelOrdering(t *testing.T) {
	a, b := newNotePair(t)

	const n = 50
	var mu sync.Mutex
	var labels []string
	done := make(chan struct{})

	b.SetHandlers(func(msg note) {
		mu.Lock()
		labels = append(labels, msg.Label)
		if len(labels) == n {
			close(done)
		}
		mu.Unlock()
	}, func() {})

	shared := &attachment{Payload: []byte("x")}
	for i := 0; i < n; i++ {
		require.NoError(t, a.Write(note{Label: string(rune('a' + i%26)), Attachment: shared}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, labels, n)
	for i, label := range labels {
		require.Equal(t, string(rune('a'+i%26)), label)
	}
}

func TestSerializedChannelMemoizesRepeatedAttachment(t *testing.T) {
	a, b := newNotePair(t)

	var mu sync.Mutex
	var received []note
	done := make(chan struct{})

	b.SetHandlers(func(msg note) {
		mu.Lock()
		received = append(received, msg)
		if len(received) == 2 {
			close(done)
		}
		mu.Unlock()
	}, func() {})

	shared := &attachment{Payload: []byte("large shared graph, sent once")}
	require.NoError(t, a.Write(note{Label: "one", Attachment: shared}))
	require.NoError(t, a.Write(note{Label: "two", Attachment: shared}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, shared.Payload, received[0].Attachment.Payload)
	require.True(t, received[0].Attachment == received[1].Attachment, "second send should resolve to the same memoized object")
}

// idResponse and idRequest messages mimic the fabric's id-allocation exchange: a
// typed endpoint on one side of a raw byte pair, with the other side
// inspecting and producing raw frames directly, proving the typed layer's
// wire form is exactly what a peer deserializer reconstructs.
type idResponse struct {
	ID uint64
}

type idRequest struct {
	ID    uint64
	MaxID uint64
}

func encodeIDResponse(s *wire.Serializer, _ *objstream.Flattener, m idResponse) error {
	return s.WriteUint64(m.ID)
}

func decodeIDRequest(d *wire.Deserializer, _ *objstream.Inflater) (idRequest, error) {
	id, err := d.ReadUint64()
	if err != nil {
		return idRequest{}, err
	}
	maxID, err := d.ReadUint64()
	if err != nil {
		return idRequest{}, err
	}
	return idRequest{ID: id, MaxID: maxID}, nil
}

func TestSerializedChannelAgainstRawPeer(t *testing.T) {
	sched := scheduler.New(4)
	rawA, rawB := NewInMemoryChannelPair[[]byte, []byte](sched)

	typed := NewSerializedChannel[idResponse, idRequest](rawA, sched, encodeIDResponse, decodeIDRequest)

	frames := make(chan []byte, 1)
	rawB.SetHandlers(func(frame []byte) { frames <- frame }, func() {})

	require.NoError(t, typed.Write(idResponse{ID: 42}))

	var frame []byte
	select {
	case frame = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("raw peer never saw a frame")
	}
	require.NotEmpty(t, frame)

	d := wire.NewDeserializer(bytes.NewReader(frame))
	id, err := d.ReadUint64()
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	// Hand-assemble the peer's reply frame and expect the typed handler
	// to observe exactly the values written.
	got := make(chan idRequest, 1)
	typed.SetHandlers(func(m idRequest) { got <- m }, func() {})

	var buf bytes.Buffer
	s := wire.NewSerializer(&buf)
	require.NoError(t, s.WriteUint64(11))
	require.NoError(t, s.WriteUint64(42))
	require.NoError(t, rawB.Write(buf.Bytes()))

	select {
	case m := <-got:
		require.Equal(t, idRequest{ID: 11, MaxID: 42}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("typed handler never observed the raw peer's frame")
	}
}

func TestBundledMessagesShareOneFrame(t *testing.T) {
	sched := scheduler.New(4)
	rawA, rawB := NewInMemoryChannelPair[[]byte, []byte](sched)

	a := NewSerializedChannel[[]note, []note](rawA, sched, BundledEncode(encodeNote), BundledDecode(decodeNote))
	b := NewSerializedChannel[[]note, []note](rawB, sched, BundledEncode(encodeNote), BundledDecode(decodeNote))

	got := make(chan []note, 1)
	b.SetHandlers(func(msgs []note) { got <- msgs }, func() {})

	shared := &attachment{Payload: []byte("bundle attachment")}
	bundle := []note{
		{Label: "one", Attachment: shared},
		{Label: "two", Attachment: shared},
		{Label: "three", Attachment: shared},
	}
	require.NoError(t, a.Write(bundle))

	select {
	case msgs := <-got:
		require.Len(t, msgs, 3)
		require.Equal(t, "one", msgs[0].Label)
		require.Equal(t, "three", msgs[2].Label)
		// Memoization applies within the bundle too: all three
		// sub-messages resolve to one reconstructed attachment.
		require.True(t, msgs[0].Attachment == msgs[1].Attachment)
		require.True(t, msgs[1].Attachment == msgs[2].Attachment)
	case <-time.After(2 * time.Second):
		t.Fatal("bundle never arrived")
	}
}

func TestSerializedChannelDisconnectPropagates(t *testing.T) {
	a, b := newNotePair(t)

	done := make(chan struct{})
	b.SetHandlers(func(note) {}, func() { close(done) })

	a.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never propagated through serialized channel")
	}

	require.ErrorIs(t, a.Write(note{Label: "after"}), ErrDisconnected)
}
