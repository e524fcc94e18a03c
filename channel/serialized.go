package channel

import (
	"bytes"
	"sync"
	"time"

	"github.com/cumulusmesh/fabric/fabriclog"
	"github.com/cumulusmesh/fabric/objstream"
	"github.com/cumulusmesh/fabric/scheduler"
	"github.com/cumulusmesh/fabric/wire"
)

// slowDeserializeThreshold is the per-message deserialization time above
// which SerializedChannel logs a warning with the message's type name and
// size.
const slowDeserializeThreshold = 100 * time.Millisecond

// EncodeFunc writes one outbound message, given access to the channel's
// persistent Flattener so the message's own encoding can opt into
// memoization for any large sub-object it carries.
type EncodeFunc[TOut any] func(s *wire.Serializer, flt *objstream.Flattener, msg TOut) error

// DecodeFunc reads one inbound message, mirroring EncodeFunc.
type DecodeFunc[TIn any] func(d *wire.Deserializer, inf *objstream.Inflater) (TIn, error)

// SerializedChannel turns a framed byte channel into a typed message
// channel: it owns a persistent Flattener/Inflater pair (so shared
// objects are memoized for the life of the connection, not per message)
// and reschedules every public operation — writes, disconnects, and each
// inbound frame's decode and dispatch — onto a callback scheduler under
// the channel's own tag, so no user code ever runs on the byte channel's
// own delivery path and the tag's FIFO order carries frames to the inner
// channel in the order writes were accepted.
type SerializedChannel[TOut, TIn any] struct {
	inner Channel[[]byte, []byte]
	sched *scheduler.Scheduler
	tag   any
	log   *fabriclog.Logger

	encode EncodeFunc[TOut]
	decode DecodeFunc[TIn]

	mu           sync.Mutex
	disconnected bool

	sendMu     sync.Mutex
	sendBuf    *bytes.Buffer
	serializer *wire.Serializer

	recvMu sync.Mutex

	Flattener *objstream.Flattener
	Inflater  *objstream.Inflater

	cb *inMemoryCallbacks[TIn]
}

// NewSerializedChannel wraps inner — a framed byte channel, typically a
// socket or in-memory transport — as a typed Channel[TOut, TIn].
func NewSerializedChannel[TOut, TIn any](
	inner Channel[[]byte, []byte],
	sched *scheduler.Scheduler,
	encode EncodeFunc[TOut],
	decode DecodeFunc[TIn],
) *SerializedChannel[TOut, TIn] {
	sc := &SerializedChannel[TOut, TIn]{
		inner:     inner,
		sched:     sched,
		encode:    encode,
		decode:    decode,
		sendBuf:   &bytes.Buffer{},
		Flattener: objstream.NewFlattener(),
		Inflater:  objstream.NewInflater(),
		log:       fabriclog.GetLogger("fabric/channel"),
	}
	sc.tag = sc
	sc.serializer = wire.NewSerializer(sc.sendBuf)
	sc.cb = newInMemoryCallbacks[TIn](sched)

	inner.SetHandlers(sc.handleFrame, sc.handleInnerDisconnect)
	return sc
}

func (sc *SerializedChannel[TOut, TIn]) ChannelType() string { return "SerializedChannel" }

// Write accepts msg and schedules its encode-and-send onto the callback
// scheduler under the channel's tag, so the actual serialization and the
// hand-off to the inner channel both happen on a scheduler goroutine, in
// the tag's FIFO order. sendMu is held across both the encode and the
// inner write, keeping the flattener's single-writer discipline and the
// frame order aligned with the acceptance order. An encode failure is
// fatal for the channel: it is logged and the channel disconnects.
func (sc *SerializedChannel[TOut, TIn]) Write(msg TOut) error {
	sc.mu.Lock()
	if sc.disconnected {
		sc.mu.Unlock()
		return ErrDisconnected
	}
	sc.mu.Unlock()

	sc.sched.ScheduleImmediately(func() {
		sc.sendMu.Lock()
		defer sc.sendMu.Unlock()

		sc.sendBuf.Reset()
		if err := sc.encode(sc.serializer, sc.Flattener, msg); err != nil {
			sc.log.Errorf("encode failed, disconnecting: %v", err)
			sc.inner.Disconnect()
			return
		}
		frame := append([]byte(nil), sc.sendBuf.Bytes()...)
		if err := sc.inner.Write(frame); err != nil {
			// The inner channel disconnected underneath us; its own
			// disconnect handler flips this channel's state.
			_ = err
		}
	}, sc.tag)
	return nil
}

// Disconnect is idempotent. The inner teardown is scheduled under the
// channel's tag, behind any writes already accepted, so frames handed to
// Write before the disconnect still reach the wire.
func (sc *SerializedChannel[TOut, TIn]) Disconnect() {
	sc.mu.Lock()
	if sc.disconnected {
		sc.mu.Unlock()
		return
	}
	sc.disconnected = true
	sc.mu.Unlock()

	sc.sched.ScheduleImmediately(func() { sc.inner.Disconnect() }, sc.tag)
}

func (sc *SerializedChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	sc.cb.setHandlers(onMessage, onDisconnected)
}

// handleFrame runs as the inner channel's onMessage callback — already on
// a scheduler goroutine — and reschedules the actual decode/dispatch onto
// this channel's own tag so deserialization work for this logical channel
// stays strictly ordered even if the inner channel uses a different tag.
func (sc *SerializedChannel[TOut, TIn]) handleFrame(frame []byte) {
	sc.sched.ScheduleImmediately(func() {
		start := time.Now()

		sc.recvMu.Lock()
		d := wire.NewDeserializer(bytes.NewReader(frame))
		msg, err := sc.decode(d, sc.Inflater)
		sc.recvMu.Unlock()

		if elapsed := time.Since(start); elapsed > slowDeserializeThreshold {
			sc.log.Warningf("slow deserialize: type=%T size=%d took=%s", msg, len(frame), elapsed)
		}

		if err != nil {
			sc.log.Errorf("malformed frame, disconnecting: %v", err)
			sc.inner.Disconnect()
			return
		}

		sc.cb.receive(msg)
	}, sc.tag)
}

func (sc *SerializedChannel[TOut, TIn]) handleInnerDisconnect() {
	sc.mu.Lock()
	sc.disconnected = true
	sc.mu.Unlock()

	sc.cb.disconnect()
}

// BundledEncode adapts a per-message encode function to a bundle of
// messages sharing one frame: a uint32 count followed by each message's
// encoding in order. A SerializedChannel built with BundledEncode and
// BundledDecode carries several sub-messages per frame while the
// memoization tables behave exactly as if the sub-messages had been
// written back to back.
func BundledEncode[TOut any](encode EncodeFunc[TOut]) EncodeFunc[[]TOut] {
	return func(s *wire.Serializer, flt *objstream.Flattener, msgs []TOut) error {
		if err := s.WriteUint32(uint32(len(msgs))); err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := encode(s, flt, msg); err != nil {
				return err
			}
		}
		return nil
	}
}

// BundledDecode is the receiving half of BundledEncode.
func BundledDecode[TIn any](decode DecodeFunc[TIn]) DecodeFunc[[]TIn] {
	return func(d *wire.Deserializer, inf *objstream.Inflater) ([]TIn, error) {
		n, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		out := make([]TIn, 0, n)
		for i := uint32(0); i < n; i++ {
			msg, err := decode(d, inf)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
		return out, nil
	}
}
