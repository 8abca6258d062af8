package mcclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-mcprotocol/internal/pool"
	"github.com/arloliu/go-mcprotocol/logger"
)

// taskManager tracks the goroutines owned by a client: the event loop, dial attempts and
// socket readers.
type taskManager struct {
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
}

func newTaskManager(l logger.Logger) *taskManager {
	return &taskManager{logger: l}
}

// start runs fn in a new goroutine. A panic in fn is logged and ends the task.
func (mgr *taskManager) start(name string, fn func()) {
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.taskCount())
		}()
		mgr.callWithRecover(name, fn)
	}()
}

// callWithRecover calls fn with panic protection.
func (mgr *taskManager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// wait blocks until every task terminated or d elapsed, and reports whether all terminated.
func (mgr *taskManager) wait(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	return pool.WaitOrDone(context.Background(), done, d)
}

func (mgr *taskManager) taskCount() int {
	return int(mgr.count.Load())
}
