package mcclient

import (
	"net"

	"github.com/arloliu/go-mcprotocol/mc"
)

// event is a unit of work for the client loop. Every change of loop-owned state goes
// through one.
type event interface{}

type direction uint8

const (
	dirRead direction = iota
	dirWrite
)

func (d direction) String() string {
	if d == dirWrite {
		return "write"
	}

	return "read"
}

type (
	openEvent struct {
		onConnect ConnectHandler
	}
	closeEvent struct{}

	dialResultEvent struct {
		gen  uint64
		conn net.Conn
		err  error
	}
	dataEvent struct {
		gen  uint64
		data []byte
	}
	transportErrorEvent struct {
		gen uint64
		err error
	}
	resetEvent struct {
		gen uint64
	}
	timeoutEvent struct {
		dir   direction
		pkt   *mc.Packet
		token uint64
	}

	readEvent struct {
		done ReadCallback
	}
	writeEvent struct {
		aliases []string
		values  []any
		done    WriteCallback
	}
	itemsEvent struct {
		op itemOp
	}
	translateEvent struct {
		fn TranslationFunc
	}
	invalidateEvent struct {
		reparse bool
	}
)

type itemOpKind uint8

const (
	opAdd itemOpKind = iota
	opRemove
	opRemoveAll
)

type itemOp struct {
	kind    itemOpKind
	aliases []string
}

// runLoop is the client event loop. It exits once the client is closing and no cycle is
// left to complete.
func (c *Client) runLoop() {
	defer close(c.loopDone)

	ctxDone := c.ctx.Done()
	for {
		for {
			ev, ok := c.mbox.next()
			if !ok {
				break
			}
			c.handle(ev)
		}

		if c.closing && !c.hasWork() {
			break
		}

		select {
		case <-c.mbox.wake:
		case <-ctxDone:
			ctxDone = nil
			c.beginShutdown()
		}
	}

	c.mbox.close()
	// events posted before the mailbox closed still get handled
	for {
		ev, ok := c.mbox.next()
		if !ok {
			break
		}
		c.handle(ev)
	}
	c.logger.Debug("event loop terminated")
}

func (c *Client) handle(ev event) {
	switch e := ev.(type) {
	case openEvent:
		c.onConnect = e.onConnect
		c.initiate()
	case closeEvent:
		c.beginShutdown()
	case dialResultEvent:
		c.handleDialResult(e)
	case dataEvent:
		c.handleData(e)
	case transportErrorEvent:
		c.handleTransportError(e)
	case resetEvent:
		c.handleResetTimer(e)
	case timeoutEvent:
		c.handleTimeout(e)
	case readEvent:
		c.handleReadRequest(e.done)
	case writeEvent:
		c.handleWriteRequest(e)
	case itemsEvent:
		c.itemOps.Enqueue(e.op)
	case translateEvent:
		c.translate = e.fn
		c.invalidate(true)
	case invalidateEvent:
		c.invalidate(e.reparse)
	default:
		c.logger.Warn("unknown event", "event", ev)
	}
}

// hasWork reports whether a cycle is still waiting for its callback.
func (c *Client) hasWork() bool {
	return c.read.active || c.write.active || c.writeInQueue
}

// beginShutdown drops the transport and expires every in-flight packet. New cycles are
// refused from now on.
func (c *Client) beginShutdown() {
	if c.closing {
		return
	}
	c.logger.Info("closing connection")
	c.closing = true
	c.dropTransport()
	c.stateMgr.ToIdle()
	c.expireOutstanding()
}
