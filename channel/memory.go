package channel

import (
	"sync"

	"github.com/cumulusmesh/fabric/scheduler"
)

// inMemoryCallbacks is the handler-buffering half of one direction of an
// InMemoryChannel pair. One instance is shared between the two channel
// halves that face each other across the pair: the sender's output half
// and the receiver's input half are the same object.
type inMemoryCallbacks[T any] struct {
	mu sync.Mutex

	sched *scheduler.Scheduler
	tag   any

	handlersSet    bool
	disconnected   bool
	onMessage      OnMessage[T]
	onDisconnected OnDisconnected
	pending        []T
}

func newInMemoryCallbacks[T any](sched *scheduler.Scheduler) *inMemoryCallbacks[T] {
	c := &inMemoryCallbacks[T]{sched: sched}
	c.tag = c // each callbacks object orders its own deliveries independently
	return c
}

func (c *inMemoryCallbacks[T]) setHandlers(onMessage OnMessage[T], onDisconnected OnDisconnected) {
	c.mu.Lock()
	c.onMessage = onMessage
	c.onDisconnected = onDisconnected
	c.handlersSet = true

	buffered := c.pending
	c.pending = nil
	wasDisconnected := c.disconnected
	c.mu.Unlock()

	for _, v := range buffered {
		v := v
		c.sched.ScheduleImmediately(func() { onMessage(v) }, c.tag)
	}
	if wasDisconnected {
		c.sched.ScheduleImmediately(onDisconnected, c.tag)
	}
}

func (c *inMemoryCallbacks[T]) receive(v T) {
	c.mu.Lock()
	if !c.handlersSet {
		if c.disconnected {
			c.mu.Unlock()
			return
		}
		c.pending = append(c.pending, v)
		c.mu.Unlock()
		return
	}
	onMessage := c.onMessage
	c.mu.Unlock()

	c.sched.ScheduleImmediately(func() { onMessage(v) }, c.tag)
}

func (c *inMemoryCallbacks[T]) disconnect() {
	c.mu.Lock()
	if c.disconnected || !c.handlersSet {
		c.disconnected = true
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	onDisconnected := c.onDisconnected
	c.mu.Unlock()

	c.sched.ScheduleImmediately(onDisconnected, c.tag)
}

type sharedDisconnectFlag struct {
	mu             sync.Mutex
	isDisconnected bool
}

// InMemoryChannel is an in-process channel half, always created as one of
// a pair sharing a disconnect flag: closing either half disconnects both.
type InMemoryChannel[TOut, TIn any] struct {
	out  *inMemoryCallbacks[TOut]
	in   *inMemoryCallbacks[TIn]
	flag *sharedDisconnectFlag
}

// NewInMemoryChannelPair returns two channel halves facing each other:
// writes to the first are delivered as inbound messages to the second,
// and vice versa. Both halves share one scheduler so no handler ever runs
// on the caller's own goroutine.
func NewInMemoryChannelPair[A, B any](sched *scheduler.Scheduler) (Channel[A, B], Channel[B, A]) {
	flag := &sharedDisconnectFlag{}

	aOut := newInMemoryCallbacks[A](sched)
	bOut := newInMemoryCallbacks[B](sched)

	first := &InMemoryChannel[A, B]{out: aOut, in: bOut, flag: flag}
	second := &InMemoryChannel[B, A]{out: bOut, in: aOut, flag: flag}
	return first, second
}

func (c *InMemoryChannel[TOut, TIn]) ChannelType() string { return "InMemoryChannel" }

func (c *InMemoryChannel[TOut, TIn]) Write(msg TOut) error {
	c.flag.mu.Lock()
	disconnected := c.flag.isDisconnected
	c.flag.mu.Unlock()
	if disconnected {
		return ErrDisconnected
	}
	c.out.receive(msg)
	return nil
}

func (c *InMemoryChannel[TOut, TIn]) Disconnect() {
	c.flag.mu.Lock()
	if c.flag.isDisconnected {
		c.flag.mu.Unlock()
		return
	}
	c.flag.isDisconnected = true
	c.flag.mu.Unlock()

	c.in.disconnect()
	c.out.disconnect()
}

func (c *InMemoryChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	c.in.setHandlers(onMessage, onDisconnected)
}
