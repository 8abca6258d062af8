package mcclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-mcprotocol/logger"
)

// ConnState represents the stages of an MC protocol connection.
type ConnState uint32

// Connection states. Values 2 and 3 are reserved for session negotiation phases that the
// 1E frame doesn't have.
const (
	// IdleState indicates that no transport is open.
	IdleState ConnState = 0
	// ConnectingState indicates that a dial is in progress.
	ConnectingState ConnState = 1
	// ConnectedState indicates that the transport is open and requests can be sent.
	ConnectedState ConnState = 4
)

// IsIdle returns if the state is idle.
func (cs ConnState) IsIdle() bool { return cs == IdleState }

// IsConnecting returns if the state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case IdleState:
		return "idle"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is invoked when the connection state changes.
//
// Note: the handler is invoked in blocking mode on the goroutine performing the transition.
// Take care with long-running implementations.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state.
//
// State reads are lock free; transitions are serialized and wake up WaitState callers.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr in IdleState.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &ConnStateMgr{
		logger:   l,
		handlers: make([]ConnStateChangeHandler, 0, len(handlers)),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(IdleState))
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or until the context is done.
// It returns nil if the desired state is reached, or the context error otherwise.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			cs.logger.Debug("wait connection state canceled", "cur_state", cs.State(), "desired_state", state)
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// ToIdle transitions to IdleState. It is allowed from any state.
func (cs *ConnStateMgr) ToIdle() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur.IsIdle() {
		return
	}

	cs.setState(IdleState)
	cs.invokeHandlers(cur, IdleState)
}

// ToConnecting transitions to ConnectingState.
//
// It returns ErrInvalidTransition unless the current state is IdleState. Already connecting
// is reported as an invalid transition too, so callers never open a second socket.
func (cs *ConnStateMgr) ToConnecting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if !cur.IsIdle() {
		return ErrInvalidTransition
	}

	cs.setState(ConnectingState)
	cs.invokeHandlers(cur, ConnectingState)

	return nil
}

// ToConnected transitions to ConnectedState.
//
// It returns ErrInvalidTransition unless the current state is ConnectingState.
func (cs *ConnStateMgr) ToConnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur.IsConnected() {
		return nil
	}
	if !cur.IsConnecting() {
		return ErrInvalidTransition
	}

	cs.setState(ConnectedState)
	cs.invokeHandlers(cur, ConnectedState)

	return nil
}

// IsIdle returns if the current state is idle.
func (cs *ConnStateMgr) IsIdle() bool { return cs.State().IsIdle() }

// IsConnected returns if the current state is connected.
func (cs *ConnStateMgr) IsConnected() bool { return cs.State().IsConnected() }

// setState stores newState and wakes up waiting goroutines. cs.mu must be held.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	cs.logger.Debug("connection state changed", "prev_state", prevState, "new_state", newState)
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
