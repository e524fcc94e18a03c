package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/scheduler"
)

// TestRateLimitFairness: two channels in one group at throughput 1000
// bytes/s, each sending 1000 1-byte messages, split the budget fairly —
// total wall clock lands in the two-second neighborhood and both
// receivers see their full 1000 messages.
func TestRateLimitFairness(t *testing.T) {
	if testing.Short() {
		t.Skip("wall-clock fairness test skipped in -short mode")
	}

	sched := scheduler.New(8)
	group := NewRateLimitedChannelGroup(1000, sched)
	defer group.Stop()

	innerA, peerA := NewInMemoryChannelPair[[]byte, []byte](sched)
	innerB, peerB := NewInMemoryChannelPair[[]byte, []byte](sched)

	rlA := Wrap[[]byte, []byte](group, innerA, sched, ByteCost, ByteCost)
	rlB := Wrap[[]byte, []byte](group, innerB, sched, ByteCost, ByteCost)

	var countA, countB int32
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	peerA.SetHandlers(func([]byte) {
		if atomic.AddInt32(&countA, 1) == 1000 {
			close(doneA)
		}
	}, func() {})
	peerB.SetHandlers(func([]byte) {
		if atomic.AddInt32(&countB, 1) == 1000 {
			close(doneB)
		}
	}, func() {})

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			require.NoError(t, rlA.Write([]byte{byte(i)}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			require.NoError(t, rlB.Write([]byte{byte(i)}))
		}
	}()
	wg.Wait()

	timeout := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-doneA:
			doneA = nil
		case <-doneB:
			doneB = nil
		case <-timeout:
			t.Fatal("rate-limited channels never delivered all 1000 messages each")
		}
		if doneA == nil && doneB == nil {
			break
		}
	}

	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 1500*time.Millisecond)
	require.LessOrEqual(t, elapsed, 3*time.Second)
	require.EqualValues(t, 1000, atomic.LoadInt32(&countA))
	require.EqualValues(t, 1000, atomic.LoadInt32(&countB))
}

// TestRateLimitSingleChannelThroughput: one channel at throughput 1000
// bytes/s sending 1000 1-byte messages takes between 0.5s and 1.5s of
// wall clock end to end.
func TestRateLimitSingleChannelThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("wall-clock throughput test skipped in -short mode")
	}

	sched := scheduler.New(8)
	group := NewRateLimitedChannelGroup(1000, sched)
	defer group.Stop()

	inner, peer := NewInMemoryChannelPair[[]byte, []byte](sched)
	rl := Wrap[[]byte, []byte](group, inner, sched, ByteCost, ByteCost)

	var count int32
	done := make(chan struct{})
	peer.SetHandlers(func([]byte) {
		if atomic.AddInt32(&count, 1) == 1000 {
			close(done)
		}
	}, func() {})

	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, rl.Write([]byte{byte(i)}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rate-limited channel never delivered all 1000 messages")
	}

	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	require.LessOrEqual(t, elapsed, 1500*time.Millisecond)
}

func TestRateLimitedChannelDropsQueueOnDisconnect(t *testing.T) {
	sched := scheduler.New(4)
	group := NewRateLimitedChannelGroup(1, sched) // deliberately slow
	defer group.Stop()

	inner, peer := NewInMemoryChannelPair[[]byte, []byte](sched)
	rl := Wrap[[]byte, []byte](group, inner, sched, ByteCost, ByteCost)

	var delivered int32
	peer.SetHandlers(func([]byte) { atomic.AddInt32(&delivered, 1) }, func() {})

	for i := 0; i < 50; i++ {
		require.NoError(t, rl.Write([]byte{byte(i)}))
	}

	rl.Disconnect()
	time.Sleep(200 * time.Millisecond)

	require.ErrorIs(t, rl.Write([]byte("x")), ErrDisconnected)
	require.Less(t, int(atomic.LoadInt32(&delivered)), 50, "most of the backlog should have been dropped, not drained, after disconnect")
}

func TestRateLimitedChannelDisconnectPropagatesFromInner(t *testing.T) {
	sched := scheduler.New(4)
	group := NewRateLimitedChannelGroup(1000, sched)
	defer group.Stop()

	inner, peer := NewInMemoryChannelPair[[]byte, []byte](sched)
	rl := Wrap[[]byte, []byte](group, inner, sched, ByteCost, ByteCost)

	done := make(chan struct{})
	rl.SetHandlers(func([]byte) {}, func() { close(done) })

	peer.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rate-limited wrapper never observed inner disconnect")
	}
}
