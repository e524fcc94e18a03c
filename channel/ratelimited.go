package channel

import (
	"sync"
	"time"

	"github.com/cumulusmesh/fabric/scheduler"
)

// CostFunc assigns a cost, in the group's cost units, to one message —
// e.g. its byte length for a byte-cost budget, or a flat 1 for a
// unit-cost budget.
type CostFunc[T any] func(msg T) uint64

const rateLimitTick = 10 * time.Millisecond

// RateLimitedChannelGroup owns one shared cost budget, replenished at
// throughput cost-units/second and divided round-robin across every
// channel currently wrapped from it, so no single busy channel can starve
// the others' share of the group's bandwidth.
type RateLimitedChannelGroup struct {
	throughput float64

	mu     sync.Mutex
	budget float64
	ids    map[uint64]*rateLimitedIDState
	order  []uint64
	rrIdx  int
	nextID uint64

	sched   *scheduler.Scheduler
	stopped chan struct{}
}

type rateLimitedIDState struct {
	pending []rateLimitedTask
}

type rateLimitedTask struct {
	cost uint64
	run  func()
}

// NewRateLimitedChannelGroup starts the group's releaser goroutine at the
// given throughput (cost units per second).
func NewRateLimitedChannelGroup(throughput float64, sched *scheduler.Scheduler) *RateLimitedChannelGroup {
	g := &RateLimitedChannelGroup{
		throughput: throughput,
		ids:        make(map[uint64]*rateLimitedIDState),
		sched:      sched,
		stopped:    make(chan struct{}),
	}
	go g.releaseLoop()
	return g
}

// Stop halts the releaser goroutine. Any tasks still queued are dropped.
func (g *RateLimitedChannelGroup) Stop() {
	close(g.stopped)
}

func (g *RateLimitedChannelGroup) releaseLoop() {
	ticker := time.NewTicker(rateLimitTick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-g.stopped:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			g.releaseTick(elapsed)
		}
	}
}

func (g *RateLimitedChannelGroup) releaseTick(elapsed time.Duration) {
	g.mu.Lock()
	g.budget += g.throughput * elapsed.Seconds()

	var toRun []func()
	for {
		progressed := false
		for range g.order {
			if len(g.order) == 0 {
				break
			}
			if g.rrIdx >= len(g.order) {
				g.rrIdx = 0
			}
			id := g.order[g.rrIdx]
			g.rrIdx++

			st := g.ids[id]
			if st == nil || len(st.pending) == 0 {
				continue
			}
			task := st.pending[0]
			if float64(task.cost) > g.budget {
				continue
			}
			st.pending = st.pending[1:]
			g.budget -= float64(task.cost)
			toRun = append(toRun, task.run)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	g.mu.Unlock()

	for _, run := range toRun {
		run()
	}
}

func (g *RateLimitedChannelGroup) register() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.ids[id] = &rateLimitedIDState{}
	g.order = append(g.order, id)
	return id
}

func (g *RateLimitedChannelGroup) enqueue(id uint64, cost uint64, run func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.ids[id]
	if !ok {
		return // dropped (disconnected) — discard rather than leak or resurrect the id
	}
	st.pending = append(st.pending, rateLimitedTask{cost: cost, run: run})
}

func (g *RateLimitedChannelGroup) drop(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, id)
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// rateLimitedChannel wraps a Channel so every write and every inbound
// delivery is paced through its group's shared budget.
type rateLimitedChannel[TOut, TIn any] struct {
	group *RateLimitedChannelGroup
	id    uint64
	inner Channel[TOut, TIn]

	outCost CostFunc[TOut]
	inCost  CostFunc[TIn]

	cb *inMemoryCallbacks[TIn]

	mu           sync.Mutex
	disconnected bool
}

// Wrap returns a channel that paces inner's writes and deliveries through
// g's shared budget, costing outbound messages with outCost and inbound
// ones with inCost.
func Wrap[TOut, TIn any](g *RateLimitedChannelGroup, inner Channel[TOut, TIn], sched *scheduler.Scheduler, outCost CostFunc[TOut], inCost CostFunc[TIn]) Channel[TOut, TIn] {
	rlc := &rateLimitedChannel[TOut, TIn]{
		group:   g,
		id:      g.register(),
		inner:   inner,
		outCost: outCost,
		inCost:  inCost,
		cb:      newInMemoryCallbacks[TIn](sched),
	}
	inner.SetHandlers(rlc.handleInnerMessage, rlc.handleInnerDisconnect)
	return rlc
}

func (rlc *rateLimitedChannel[TOut, TIn]) ChannelType() string { return "RateLimitedChannel" }

func (rlc *rateLimitedChannel[TOut, TIn]) Write(msg TOut) error {
	rlc.mu.Lock()
	if rlc.disconnected {
		rlc.mu.Unlock()
		return ErrDisconnected
	}
	rlc.mu.Unlock()

	cost := rlc.outCost(msg)
	rlc.group.enqueue(rlc.id, cost, func() {
		if err := rlc.inner.Write(msg); err != nil {
			// The inner channel disconnected asynchronously; its own
			// disconnect handler (handleInnerDisconnect) will observe
			// this and flip the wrapper over.
			_ = err
		}
	})
	return nil
}

func (rlc *rateLimitedChannel[TOut, TIn]) Disconnect() {
	rlc.mu.Lock()
	if rlc.disconnected {
		rlc.mu.Unlock()
		return
	}
	rlc.disconnected = true
	rlc.mu.Unlock()

	rlc.group.drop(rlc.id)
	rlc.inner.Disconnect()
}

func (rlc *rateLimitedChannel[TOut, TIn]) SetHandlers(onMessage OnMessage[TIn], onDisconnected OnDisconnected) {
	rlc.cb.setHandlers(onMessage, onDisconnected)
}

func (rlc *rateLimitedChannel[TOut, TIn]) handleInnerMessage(msg TIn) {
	cost := rlc.inCost(msg)
	rlc.group.enqueue(rlc.id, cost, func() {
		rlc.cb.receive(msg)
	})
}

func (rlc *rateLimitedChannel[TOut, TIn]) handleInnerDisconnect() {
	rlc.mu.Lock()
	rlc.disconnected = true
	rlc.mu.Unlock()

	rlc.group.drop(rlc.id)
	rlc.cb.disconnect()
}

// ByteCost is a ready-made CostFunc for []byte messages: cost equals
// message length.
func ByteCost(msg []byte) uint64 { return uint64(len(msg)) }

// UnitCost is a ready-made CostFunc charging a flat 1 per message,
// regardless of content.
func UnitCost[T any](T) uint64 { return 1 }
