// Package pool holds the pooled resources owned by a client: staging buffers for outgoing
// frames and timers for bounded waits.
package pool

import (
	"context"
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer firing after d from the pool.
//
// Return the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		if t.Reset(d) {
			// drain a stale tick left by an active timer
			select {
			case <-t.C:
			default:
			}
		}

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// WaitOrDone blocks until done is closed, d elapses, or ctx is canceled.
// It reports whether done was closed.
func WaitOrDone(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-done:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Sleep pauses for d or until ctx is canceled, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
