package channel

import (
	"sync"

	"github.com/cumulusmesh/fabric/scheduler"
)

// PriorityFunc maps an outbound message to a natural number used to pick
// a sub-channel: message m routes to sub-channel priority(m) % N.
type PriorityFunc[TOut any] func(msg TOut) uint64

// MultiChannel combines N sub-channels into one logical channel. Writes
// are routed to sub-channel priority(msg) % N so that a head-of-line
// block on one sub-stream never starves traffic on the others; reads from
// every sub-channel are merged in arrival order, so cross-stream ordering
// between priority classes is not guaranteed. Disconnecting any one
// sub-channel disconnects the whole logical channel.
type MultiChannel[TOut, TIn any] struct {
	subs     []Channel[TOut, TIn]
	priority PriorityFunc[TOut]

	cb *inMemoryCallbacks[TIn]

	disconnectOnce sync.Once
}

// NewMultiChannel wraps subs (must be non-empty) as one logical channel.
func NewMultiChannel[TOut, TIn any](subs []Channel[TOut, TIn], priority PriorityFunc[TOut], sched *scheduler.Scheduler) *MultiChannel[TOut, TIn] {
	mc := &MultiChannel[TOut, TIn]{
		subs:     subs,
		priority: priority,
		cb:       newInMemoryCallbacks[TIn](sched),
	}
	for _, sub := range subs {
		sub.SetHandlers(mc.cb.receive, mc.onSubDisconnected)
	}
	return mc
}

func (mc *MultiChannel[TOut, TIn]) ChannelType() string { return "MultiChannel" }

func (mc *MultiChannel[TOut, TIn]) Write(msg TOut) error {
	idx := mc.priority(msg) % uint64(len(mc.subs))
	return mc.subs[idx].Write(msg)
}

func (mc *MultiChannel[TOut, TIn]) Disconnect() {
	for _, sub := range mc.subs {
		sub.Disconnect()
	}
}

func (mc *MultiChannel[TOut, TIn]) onSubDisconnected() {
	mc.disconnectOnce.Do(func() {
		mc.Disconnect()
		mc.cb.disconnect()
	})
}

func (mc *MultiChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	mc.cb.setHandlers(onMessage, onDisconnected)
}
