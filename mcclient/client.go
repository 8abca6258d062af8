package mcclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-mcprotocol/internal/pool"
	"github.com/arloliu/go-mcprotocol/internal/queue"
	"github.com/arloliu/go-mcprotocol/logger"
	"github.com/arloliu/go-mcprotocol/mc"
)

// CommErrAlias is a synthetic alias resolvable by FindItem. Its value is true whenever the
// client isn't connected.
const CommErrAlias = "_COMMERR"

// ConnectHandler is called with the result of every connection attempt, nil on success.
type ConnectHandler func(err error)

// ReadCallback receives the result of a read cycle. values maps every alias of the read set
// to its value, or to mc.QualityBad (single elements) or []mc.Quality (arrays) when the item
// has bad elements.
type ReadCallback func(anyBad bool, values map[string]any)

// WriteCallback receives the aggregate quality of a write cycle.
type WriteCallback func(anyBad bool)

// TranslationFunc maps a user alias to a device address. The identity mapping is used when
// none is installed.
type TranslationFunc func(alias string) string

// ItemValue is a snapshot of an item after its last read cycle.
type ItemValue struct {
	Alias string
	Addr  string
	// Value is the decoded value, or the type's bad value when Quality is bad.
	Value     any
	Quality   mc.Quality
	Qualities []mc.Quality
	Timestamp time.Time
}

// Client is an MC protocol 1E frame client for one PLC connection.
type Client struct {
	ctx       context.Context
	ctxCancel context.CancelFunc
	cfg       *ConnectionConfig
	logger    logger.Logger

	stateMgr *ConnStateMgr
	tasks    *taskManager
	mbox     *mailbox
	loopDone chan struct{}

	opened    atomic.Bool
	closed    atomic.Bool
	writeBusy atomic.Bool

	cache   *xsync.MapOf[string, ItemValue]
	seq     mc.SequenceGenerator
	metrics ConnectionMetrics

	// fields below are owned by the event loop goroutine

	conn      net.Conn
	connGen   uint64
	onConnect ConnectHandler
	framer    replyFramer
	token     uint64
	closing   bool

	resetPending bool
	resetTimer   *time.Timer

	translate TranslationFunc
	reparse   bool
	itemOps   queue.Queue[itemOp]
	aliases   []string
	items     []*mc.Item

	read  cycle
	write cycle

	readDone     ReadCallback
	writeDone    WriteCallback
	writeAnyBad  bool
	writeInQueue bool
}

// cycle is the state of one read or write transaction set.
type cycle struct {
	blocks  []*mc.Block
	packets []*mc.Packet
	// valid is false when the read blocks must be rebuilt before the next cycle
	valid  bool
	active bool
	ascii  bool
}

// NewClient creates a client with the given configuration and starts its event loop.
//
// ctx bounds the lifetime of the client: canceling it has the same effect as Close.
// The connection is opened by Open.
func NewClient(ctx context.Context, cfg *ConnectionConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	l := cfg.logger.With("conn", cfg.Name())
	c := &Client{
		cfg:      cfg,
		logger:   l,
		stateMgr: NewConnStateMgr(l),
		tasks:    newTaskManager(l),
		mbox:     newMailbox(),
		loopDone: make(chan struct{}),
		cache:    xsync.NewMapOf[string, ItemValue](),
		itemOps:  queue.NewSliceQueue[itemOp](4),
	}
	c.ctx, c.ctxCancel = context.WithCancel(ctx)

	c.tasks.start("eventLoop", c.runLoop)

	return c, nil
}

// GetLogger returns the logger of the client.
func (c *Client) GetLogger() logger.Logger {
	return c.logger
}

// GetConfig returns the connection configuration of the client.
func (c *Client) GetConfig() *ConnectionConfig {
	return c.cfg
}

// GetMetrics returns the metrics of the client.
func (c *Client) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return c.stateMgr.State()
}

// WaitState blocks until the connection reaches state or ctx is done.
func (c *Client) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// AddConnStateChangeHandler registers handlers invoked on connection state changes.
func (c *Client) AddConnStateChangeHandler(handlers ...ConnStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// Open starts connecting to the PLC. onConnect, if not nil, is called with the result of
// every connection attempt, including automatic reconnects.
//
// Open doesn't wait for the connection; use WaitState to block until connected.
func (c *Client) Open(onConnect ConnectHandler) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.opened.Store(true)

	if !c.mbox.post(openEvent{onConnect: onConnect}) {
		return ErrClientClosed
	}

	return nil
}

// Close closes the connection and stops the event loop.
//
// In-flight packets complete as bad quality and every scheduled cycle receives its callback
// before Close returns. It returns ErrCloseTimeout if that takes longer than the close timeout.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mbox.post(closeEvent{})

	c.cfg.mu.RLock()
	closeTimeout := c.cfg.closeTimeout
	c.cfg.mu.RUnlock()

	// c.ctx is canceled only after the loop drained, so pending dials can still complete
	drained := pool.WaitOrDone(context.Background(), c.loopDone, closeTimeout)
	c.ctxCancel()
	if !drained {
		return fmt.Errorf("%w: %s", ErrCloseTimeout, c.cfg.Name())
	}
	if !c.tasks.wait(closeTimeout) {
		c.logger.Warn("tasks still running after close", "task_count", c.tasks.taskCount())
	}

	return nil
}

// UpdateConfigOptions applies runtime options to the client configuration.
// It returns an error if an option can't be changed at runtime.
func (c *Client) UpdateConfigOptions(opts ...ConnOption) error {
	rebuild := false
	reparse := false

	for _, opt := range opts {
		connOpt, ok := opt.(*connOptFunc)
		if !ok {
			return errors.New("invalid ConnOption type")
		}
		if !connOpt.runtime {
			return fmt.Errorf("option %s can't be changed at runtime", connOpt.name)
		}

		switch connOpt.name {
		case "WithOptimization", "WithMaxGap":
			rebuild = true
		case "WithOctalInputOutput":
			reparse = true
		}

		if err := opt.apply(c.cfg); err != nil {
			return err
		}
	}

	if rebuild || reparse {
		c.mbox.post(invalidateEvent{reparse: reparse})
	}

	return nil
}

// SetASCII selects ASCII (true) or binary (false) framing from the next cycle on.
func (c *Client) SetASCII(val bool) {
	_ = c.UpdateConfigOptions(WithASCII(val))
}

// SetOctalInputOutput toggles octal interpretation of X and Y offsets. The read set is
// parsed again before the next read cycle.
func (c *Client) SetOctalInputOutput(val bool) {
	_ = c.UpdateConfigOptions(WithOctalInputOutput(val))
}

// SetOptimization toggles merging of neighboring read items.
func (c *Client) SetOptimization(val bool) {
	_ = c.UpdateConfigOptions(WithOptimization(val))
}

// SetTranslationFunc installs the alias to address translation. A nil fn restores the
// identity mapping. The read set is parsed again before the next read cycle.
func (c *Client) SetTranslationFunc(fn TranslationFunc) {
	c.mbox.post(translateEvent{fn: fn})
}

// AddItems adds aliases to the polled read set. The change is applied at the start of the
// next read cycle; aliases that don't resolve to a valid address are logged and dropped.
func (c *Client) AddItems(aliases []string) {
	c.mbox.post(itemsEvent{op: itemOp{kind: opAdd, aliases: aliases}})
}

// RemoveItems removes aliases from the read set at the start of the next read cycle.
// Items are matched by their translated address.
func (c *Client) RemoveItems(aliases []string) {
	c.mbox.post(itemsEvent{op: itemOp{kind: opRemove, aliases: aliases}})
}

// RemoveAllItems empties the read set at the start of the next read cycle.
func (c *Client) RemoveAllItems() {
	c.mbox.post(itemsEvent{op: itemOp{kind: opRemoveAll}})
}

// ReadAllItems schedules a read cycle over the read set. done is called exactly once.
//
// A cycle requested while another read or write cycle is active is retried until the active
// cycle finished. If the client is idle, pending requests complete as bad quality and a
// reconnect is started.
func (c *Client) ReadAllItems(done ReadCallback) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.opened.Load() {
		return ErrNotOpened
	}
	if done == nil {
		done = func(bool, map[string]any) {}
	}
	if !c.mbox.post(readEvent{done: done}) {
		return ErrClientClosed
	}

	return nil
}

// WriteItem writes a single value. See WriteItems.
func (c *Client) WriteItem(alias string, value any, done WriteCallback) error {
	return c.WriteItems([]string{alias}, []any{value}, done)
}

// WriteItems schedules a write cycle. done is called exactly once with the aggregate quality.
//
// A write requested during a read cycle is queued and dispatched when the read finished.
// It returns ErrWriteInProgress if another write cycle hasn't completed yet.
func (c *Client) WriteItems(aliases []string, values []any, done WriteCallback) error {
	if len(aliases) != len(values) {
		return fmt.Errorf("%w: %d addresses for %d values", mc.ErrInvalidWriteValue, len(aliases), len(values))
	}
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.opened.Load() {
		return ErrNotOpened
	}
	if !c.writeBusy.CompareAndSwap(false, true) {
		return ErrWriteInProgress
	}
	if done == nil {
		done = func(bool) {}
	}
	if !c.mbox.post(writeEvent{aliases: aliases, values: values, done: done}) {
		c.writeBusy.Store(false)
		return ErrClientClosed
	}

	return nil
}

// FindItem returns the snapshot of an item from the last read cycle.
//
// CommErrAlias always resolves, to true whenever the client isn't connected.
func (c *Client) FindItem(alias string) (ItemValue, bool) {
	if alias == CommErrAlias {
		return ItemValue{
			Alias:     CommErrAlias,
			Value:     !c.stateMgr.IsConnected(),
			Quality:   mc.QualityOK,
			Qualities: []mc.Quality{mc.QualityOK},
			Timestamp: time.Now(),
		}, true
	}

	return c.cache.Load(alias)
}

// safeCall invokes a user callback on the loop goroutine with panic protection.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in callback", "callback", name, "panic", r)
		}
	}()

	fn()
}
