package channel

import (
	"sync"

	"github.com/cumulusmesh/fabric/scheduler"
)

// HalfChannel is a one-sided adapter for coupling a non-channel producer
// — typically an asynchronous I/O completion pump — into the rest of the
// fabric as an ordinary Channel. Outbound writes are handed to a
// user-supplied callback instead of a transport, and an external
// producer calls Receive to deliver inbound values, which are buffered
// until handlers are installed exactly like every other channel in this
// package.
type HalfChannel[TOut, TIn any] struct {
	sched *scheduler.Scheduler
	tag   any

	writeCallback   func(TOut)
	onDisconnected2 func()

	mu           sync.Mutex
	handlersSet  bool
	disconnected bool
	onMessage    OnMessage[TIn]
	onDisconn    OnDisconnected
	pending      []TIn
}

// NewHalfChannel returns a HalfChannel whose outbound writes invoke
// writeCallback and whose own teardown (distinct from the disconnect
// handler a caller installs via SetHandlers) invokes onDisconnected.
func NewHalfChannel[TOut, TIn any](sched *scheduler.Scheduler, writeCallback func(TOut), onDisconnected func()) *HalfChannel[TOut, TIn] {
	h := &HalfChannel[TOut, TIn]{
		sched:           sched,
		writeCallback:   writeCallback,
		onDisconnected2: onDisconnected,
	}
	h.tag = h
	return h
}

func (h *HalfChannel[TOut, TIn]) ChannelType() string { return "HalfChannel" }

// Write schedules writeCallback(msg) onto the shared callback scheduler,
// never invoking it on the caller's own goroutine.
func (h *HalfChannel[TOut, TIn]) Write(msg TOut) error {
	h.mu.Lock()
	disconnected := h.disconnected
	h.mu.Unlock()
	if disconnected {
		return ErrDisconnected
	}

	h.sched.ScheduleImmediately(func() { h.writeCallback(msg) }, h.tag)
	return nil
}

// Disconnect is idempotent: it always invokes the owner's teardown
// callback exactly once, and additionally invokes the installed
// onDisconnected handler if handlers had already been set: the owner and
// the channel's user each get their own notification.
func (h *HalfChannel[TOut, TIn]) Disconnect() {
	h.mu.Lock()
	if h.disconnected {
		h.mu.Unlock()
		return
	}
	h.disconnected = true
	handlersSet := h.handlersSet
	onDisconnected := h.onDisconn
	h.mu.Unlock()

	h.onDisconnected2()

	if handlersSet {
		h.sched.ScheduleImmediately(onDisconnected, h.tag)
	}
}

func (h *HalfChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	h.mu.Lock()
	h.onMessage = onMessage
	h.onDisconn = onDisconnected
	h.handlersSet = true

	buffered := h.pending
	h.pending = nil
	wasDisconnected := h.disconnected
	h.mu.Unlock()

	for _, v := range buffered {
		v := v
		h.sched.ScheduleImmediately(func() { onMessage(v) }, h.tag)
	}
	if wasDisconnected {
		h.sched.ScheduleImmediately(onDisconnected, h.tag)
	}
}

// Receive delivers an inbound value from the external producer. Values
// arriving before handlers are installed are buffered and flushed, in
// order, the moment SetHandlers runs.
func (h *HalfChannel[TOut, TIn]) Receive(v TIn) {
	h.mu.Lock()
	if !h.handlersSet {
		h.pending = append(h.pending, v)
		h.mu.Unlock()
		return
	}
	onMessage := h.onMessage
	h.mu.Unlock()

	h.sched.ScheduleImmediately(func() { onMessage(v) }, h.tag)
}
