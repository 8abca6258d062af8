package mcclient

import (
	"sync"

	"github.com/arloliu/go-mcprotocol/internal/queue"
)

// mailbox is the unbounded event inbox of the client loop. Posting never blocks, so timers
// and transport goroutines can't stall on a busy loop.
type mailbox struct {
	mu     sync.RWMutex
	closed bool
	events queue.Queue[event]
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		events: queue.NewLockFreeQueue[event](),
		wake:   make(chan struct{}, 1),
	}
}

// post enqueues ev and reports whether the mailbox accepted it.
func (m *mailbox) post(ev event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}
	m.events.Enqueue(ev)

	select {
	case m.wake <- struct{}{}:
	default:
	}

	return true
}

func (m *mailbox) next() (event, bool) {
	return m.events.Dequeue()
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
