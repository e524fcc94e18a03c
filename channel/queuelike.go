package channel

import (
	"sync"
	"time"

	"github.com/cumulusmesh/fabric/scheduler"
)

// QueuelikeChannel adapts a push-style channel into a blocking pull
// channel: Get and friends consume buffered messages directly. The
// adapter may later be re-subscribed with SetHandlers, at which point it
// becomes a normal push channel again — any values still buffered are
// flushed to the new handler in FIFO order before the push path takes
// over.
type QueuelikeChannel[TOut, TIn any] struct {
	inner Channel[TOut, TIn]
	sched *scheduler.Scheduler

	mu           sync.Mutex
	queue        []TIn
	disconnected bool
	handlersSet  bool
	onMessage    OnMessage[TIn]
	onDisconn    OnDisconnected
	notify       chan struct{}
}

// NewQueuelikeChannel wraps inner, immediately installing handlers on it
// so pull-mode buffering begins right away.
func NewQueuelikeChannel[TOut, TIn any](sched *scheduler.Scheduler, inner Channel[TOut, TIn]) *QueuelikeChannel[TOut, TIn] {
	q := &QueuelikeChannel[TOut, TIn]{
		inner:  inner,
		sched:  sched,
		notify: make(chan struct{}),
	}
	inner.SetHandlers(q.handleMessage, q.handleDisconnect)
	return q
}

func (q *QueuelikeChannel[TOut, TIn]) ChannelType() string { return "QueuelikeChannel" }

func (q *QueuelikeChannel[TOut, TIn]) Write(msg TOut) error { return q.inner.Write(msg) }

func (q *QueuelikeChannel[TOut, TIn]) Disconnect() { q.inner.Disconnect() }

// SetHandlers re-subscribes the channel in push mode: queued messages
// flush first, in order, then future deliveries go straight to onMessage.
func (q *QueuelikeChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	q.mu.Lock()
	q.onMessage = onMessage
	q.onDisconn = onDisconnected
	q.handlersSet = true

	buffered := q.queue
	q.queue = nil
	wasDisconnected := q.disconnected
	q.mu.Unlock()

	for _, v := range buffered {
		v := v
		q.sched.ScheduleImmediately(func() { onMessage(v) }, q)
	}
	if wasDisconnected {
		q.sched.ScheduleImmediately(onDisconnected, q)
	}
}

func (q *QueuelikeChannel[TOut, TIn]) handleMessage(msg TIn) {
	q.mu.Lock()
	if q.handlersSet {
		onMessage := q.onMessage
		q.mu.Unlock()
		q.sched.ScheduleImmediately(func() { onMessage(msg) }, q)
		return
	}
	q.queue = append(q.queue, msg)
	q.wake()
	q.mu.Unlock()
}

func (q *QueuelikeChannel[TOut, TIn]) handleDisconnect() {
	q.mu.Lock()
	if q.disconnected {
		q.mu.Unlock()
		return
	}
	q.disconnected = true

	if q.handlersSet {
		onDisconnected := q.onDisconn
		q.mu.Unlock()
		q.sched.ScheduleImmediately(onDisconnected, q)
		return
	}
	q.wake()
	q.mu.Unlock()
}

// wake must be called with q.mu held: it releases every current waiter
// and arms a fresh notify channel for the next wait.
func (q *QueuelikeChannel[TOut, TIn]) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Get blocks until a message is available or the channel disconnects.
func (q *QueuelikeChannel[TOut, TIn]) Get() (TIn, error) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			msg := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.disconnected {
			q.mu.Unlock()
			var zero TIn
			return zero, ErrDisconnected
		}
		ch := q.notify
		q.mu.Unlock()
		<-ch
	}
}

// GetNonblock returns the next buffered message without blocking; ok is
// false if none is currently queued.
func (q *QueuelikeChannel[TOut, TIn]) GetNonblock() (msg TIn, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return msg, false
	}
	msg = q.queue[0]
	q.queue = q.queue[1:]
	return msg, true
}

// GetTimeout blocks for up to timeout for a message. ok is true iff a
// message was returned; a disconnect with no buffered message returns
// ErrDisconnected, and a plain timeout returns ok=false with a nil error.
func (q *QueuelikeChannel[TOut, TIn]) GetTimeout(timeout time.Duration) (msg TIn, ok bool, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			msg = q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return msg, true, nil
		}
		if q.disconnected {
			q.mu.Unlock()
			return msg, false, ErrDisconnected
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return msg, false, nil
		}
	}
}

// HasPendingValues reports whether a message is currently buffered.
func (q *QueuelikeChannel[TOut, TIn]) HasPendingValues() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) > 0
}
