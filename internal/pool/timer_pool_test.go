package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	t.Run("reused active timer is rearmed", func(t *testing.T) {
		require := require.New(t)
		timer1 := GetTimer(100 * time.Millisecond)
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(150 * time.Millisecond)
		<-timer2.C
		require.GreaterOrEqual(time.Since(begin), 140*time.Millisecond)
		PutTimer(timer2)
	})

	t.Run("concurrency", func(_ *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(5 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestWaitOrDone(t *testing.T) {
	t.Run("done closed", func(t *testing.T) {
		done := make(chan struct{})
		close(done)
		require.True(t, WaitOrDone(context.Background(), done, time.Second))
	})

	t.Run("deadline", func(t *testing.T) {
		require.False(t, WaitOrDone(context.Background(), make(chan struct{}), 10*time.Millisecond))
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.False(t, WaitOrDone(ctx, make(chan struct{}), time.Second))
	})
}

func TestSleep(t *testing.T) {
	require := require.New(t)
	require.NoError(Sleep(context.Background(), 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(Sleep(ctx, time.Second), context.Canceled)
}
