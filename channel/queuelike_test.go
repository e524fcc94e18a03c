package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cumulusmesh/fabric/scheduler"
)

// Write A, B, C; Get() pulls A; installing handlers flushes B and C in
// order; a later write D then arrives straight through the push path.
func TestQueuelikeChannelBecomesNormalChannel(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)

	q := NewQueuelikeChannel[string, string](sched, b)

	require.NoError(t, a.Write("A"))
	require.NoError(t, a.Write("B"))
	require.NoError(t, a.Write("C"))

	// Give the scheduler a moment to deliver the buffered sends into q's
	// queue before pulling from it.
	time.Sleep(20 * time.Millisecond)

	got, err := q.Get()
	require.NoError(t, err)
	require.Equal(t, "A", got)

	var vec []string
	done := make(chan struct{})
	q.SetHandlers(func(msg string) {
		vec = append(vec, msg)
		if len(vec) == 2 {
			close(done)
		}
	}, func() {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered B and C never flushed to the new handler")
	}
	require.Equal(t, []string{"B", "C"}, vec)

	moreDone := make(chan struct{})
	q.SetHandlers(func(msg string) {
		vec = append(vec, msg)
		close(moreDone)
	}, func() {})
	require.NoError(t, a.Write("D"))

	select {
	case <-moreDone:
	case <-time.After(2 * time.Second):
		t.Fatal("push-mode delivery after re-subscribe never arrived")
	}
	require.Equal(t, []string{"B", "C", "D"}, vec)
}

func TestQueuelikeChannelGetTimeoutExpires(t *testing.T) {
	sched := scheduler.New(4)
	_, b := NewInMemoryChannelPair[string, string](sched)
	q := NewQueuelikeChannel[string, string](sched, b)

	_, ok, err := q.GetTimeout(30 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueuelikeChannelGetUnblocksOnDisconnect(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)
	q := NewQueuelikeChannel[string, string](sched, b)

	done := make(chan error, 1)
	go func() {
		_, err := q.Get()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Disconnect()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Get never unblocked on disconnect")
	}
}

func TestQueuelikeChannelHasPendingValuesAndNonblock(t *testing.T) {
	sched := scheduler.New(4)
	a, b := NewInMemoryChannelPair[string, string](sched)
	q := NewQueuelikeChannel[string, string](sched, b)

	require.False(t, q.HasPendingValues())

	require.NoError(t, a.Write("X"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, q.HasPendingValues())

	msg, ok := q.GetNonblock()
	require.True(t, ok)
	require.Equal(t, "X", msg)

	_, ok = q.GetNonblock()
	require.False(t, ok)
}
