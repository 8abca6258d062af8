package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type opItem struct {
	kind  string
	addrs []string
}

func queueFactories() map[string]func() Queue[*opItem] {
	return map[string]func() Queue[*opItem]{
		"slice":     func() Queue[*opItem] { return NewSliceQueue[*opItem](1) },
		"lock-free": NewLockFreeQueue[*opItem],
	}
}

func TestQueue(t *testing.T) {
	for name, newQueue := range queueFactories() {
		t.Run(name+"/empty", func(t *testing.T) {
			require := require.New(t)
			q := newQueue()

			require.True(q.IsEmpty())
			require.Equal(0, q.Length())
			_, ok := q.Dequeue()
			require.False(ok)
			_, ok = q.Peek()
			require.False(ok)
		})

		t.Run(name+"/fifo order", func(t *testing.T) {
			require := require.New(t)
			q := newQueue()

			add := &opItem{kind: "add", addrs: []string{"D100"}}
			remove := &opItem{kind: "remove", addrs: []string{"M0"}}
			q.Enqueue(add)
			q.Enqueue(remove)
			require.Equal(2, q.Length())

			head, ok := q.Peek()
			require.True(ok)
			require.Same(add, head)
			require.Equal(2, q.Length())

			got, ok := q.Dequeue()
			require.True(ok)
			require.Same(add, got)
			got, ok = q.Dequeue()
			require.True(ok)
			require.Same(remove, got)
			require.True(q.IsEmpty())
		})

		t.Run(name+"/reset", func(t *testing.T) {
			require := require.New(t)
			q := newQueue()
			q.Enqueue(&opItem{kind: "add"})
			q.Reset()
			require.True(q.IsEmpty())
			_, ok := q.Dequeue()
			require.False(ok)
		})
	}
}

func TestLockFreeQueueConcurrentProducers(t *testing.T) {
	require := require.New(t)
	q := NewLockFreeQueue[int]()

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()
	require.Equal(producers*perProducer, q.Length())

	count := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			break
		}
		count++
	}
	require.Equal(producers*perProducer, count)
	require.True(q.IsEmpty())
}

func BenchmarkLockFreeQueue(b *testing.B) {
	q := NewLockFreeQueue[int]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(i)
		_, _ = q.Dequeue()
	}
}
