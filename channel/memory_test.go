package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/scheduler"
)

func TestInMemoryChannelBuffersUntilHandlersInstalled(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)

	require.NoError(t, a.Write("one"))
	require.NoError(t, a.Write("two"))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	b.SetHandlers(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	}, func() {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered messages never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"one", "two"}, got)
}

func TestInMemoryChannelOrderingAfterHandlersInstalled(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[int, int](sched)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	const n = 100

	b.SetHandlers(func(msg int) {
		mu.Lock()
		got = append(got, msg)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	}, func() {})

	for i := 0; i < n; i++ {
		require.NoError(t, a.Write(i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages never all arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestInMemoryChannelDisconnectIsIdempotentAndPropagates(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)

	var fires int
	var mu sync.Mutex
	done := make(chan struct{})

	b.SetHandlers(func(string) {}, func() {
		mu.Lock()
		fires++
		mu.Unlock()
		close(done)
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Disconnect()
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never fired")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fires)

	require.ErrorIs(t, a.Write("after disconnect"), ErrDisconnected)
	require.ErrorIs(t, b.Write("also after disconnect"), ErrDisconnected)
}

func TestInMemoryChannelDeferredDisconnectDeliveredOnLateInstall(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)

	a.Disconnect()

	done := make(chan struct{})
	b.SetHandlers(func(string) {}, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred disconnect not delivered on late handler install")
	}
}
