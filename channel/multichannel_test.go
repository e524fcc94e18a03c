package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/scheduler"
)

type prioritizedMsg struct {
	Priority uint64
	Payload  int
}

func byPriority(m prioritizedMsg) uint64 { return m.Priority }

func TestMultiChannelRoutesByPriorityModN(t *testing.T) {
	sched := scheduler.New(8)
	const n = 4

	var subs []Channel[prioritizedMsg, prioritizedMsg]
	var peers []Channel[prioritizedMsg, prioritizedMsg]
	for i := 0; i < n; i++ {
		a, b := NewInMemoryChannelPair[prioritizedMsg, prioritizedMsg](sched)
		subs = append(subs, a)
		peers = append(peers, b)
	}

	landed := make([]int, n)
	var mu sync.Mutex
	var total int
	done := make(chan struct{})

	for i, peer := range peers {
		i := i
		peer.SetHandlers(func(msg prioritizedMsg) {
			mu.Lock()
			landed[i]++
			total++
			if total == 8 {
				close(done)
			}
			mu.Unlock()
		}, func() {})
	}

	mc := NewMultiChannel[prioritizedMsg, prioritizedMsg](subs, byPriority, sched)

	for p := uint64(0); p < 8; p++ {
		require.NoError(t, mc.Write(prioritizedMsg{Priority: p, Payload: int(p)}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages landed on expected sub-channels")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		require.Equal(t, 2, landed[i], "sub-channel %d should receive exactly 2 messages (priorities i and i+4)", i)
	}
}

func TestMultiChannelMergesReceivesFromAllSubChannels(t *testing.T) {
	sched := scheduler.New(8)
	const n = 3

	var subs []Channel[prioritizedMsg, prioritizedMsg]
	var peers []Channel[prioritizedMsg, prioritizedMsg]
	for i := 0; i < n; i++ {
		a, b := NewInMemoryChannelPair[prioritizedMsg, prioritizedMsg](sched)
		subs = append(subs, a)
		peers = append(peers, b)
	}

	mc := NewMultiChannel[prioritizedMsg, prioritizedMsg](subs, byPriority, sched)

	var mu sync.Mutex
	var count int
	done := make(chan struct{})
	mc.SetHandlers(func(prioritizedMsg) {
		mu.Lock()
		count++
		if count == n {
			close(done)
		}
		mu.Unlock()
	}, func() {})

	for i, peer := range peers {
		require.NoError(t, peer.Write(prioritizedMsg{Priority: uint64(i), Payload: i}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages from sub-channels never merged to the logical channel")
	}
}

func TestMultiChannelDisconnectingOneSubDisconnectsLogicalChannel(t *testing.T) {
	sched := scheduler.New(8)
	const n = 3

	var subs []Channel[prioritizedMsg, prioritizedMsg]
	var peers []Channel[prioritizedMsg, prioritizedMsg]
	for i := 0; i < n; i++ {
		a, b := NewInMemoryChannelPair[prioritizedMsg, prioritizedMsg](sched)
		subs = append(subs, a)
		peers = append(peers, b)
	}

	mc := NewMultiChannel[prioritizedMsg, prioritizedMsg](subs, byPriority, sched)

	done := make(chan struct{})
	mc.SetHandlers(func(prioritizedMsg) {}, func() { close(done) })

	peers[1].Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnecting one sub-channel did not disconnect the logical channel")
	}
}
