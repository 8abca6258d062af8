package mcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const readBufferSize = 4096

// initiate starts a connection attempt. It is a no-op unless the state is idle, so a
// second socket is never opened while one is being dialed or in use.
func (c *Client) initiate() {
	if c.closing || !c.stateMgr.IsIdle() {
		return
	}
	if c.resetPending || c.conn != nil {
		c.dropTransport()
	}
	if err := c.stateMgr.ToConnecting(); err != nil {
		c.logger.Debug("skip connection attempt", "state", c.stateMgr.State(), "error", err)
		return
	}

	c.connGen++
	gen := c.connGen
	c.metrics.incConnRetryGauge()

	c.cfg.mu.RLock()
	connectTimeout := c.cfg.connectTimeout
	c.cfg.mu.RUnlock()

	addr := c.cfg.Address()
	dial := c.cfg.dialer()
	c.logger.Debug("connecting", "address", addr, "attempt", c.metrics.ConnRetryGauge.Load())

	c.tasks.start("dial", func() {
		ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
		defer cancel()

		conn, err := dial(ctx, "tcp", addr)
		if !c.mbox.post(dialResultEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Client) handleDialResult(e dialResultEvent) {
	if e.gen != c.connGen || c.closing || !c.stateMgr.State().IsConnecting() {
		if e.conn != nil {
			_ = e.conn.Close()
		}

		return
	}

	if e.err != nil {
		c.stateMgr.ToIdle()
		err := fmt.Errorf("%w: dial %s: %w", ErrTransport, c.cfg.Address(), e.err)
		c.logger.Error("failed to connect", "error", err)
		c.notifyConnect(err)

		return
	}

	c.conn = e.conn
	c.framer.reset(c.cfg.ASCII())
	if err := c.stateMgr.ToConnected(); err != nil {
		c.logger.Error("unexpected connection state", "state", c.stateMgr.State(), "error", err)
	}
	c.metrics.resetConnRetryGauge()
	c.logger.Info("connected", "local", e.conn.LocalAddr(), "remote", e.conn.RemoteAddr())

	gen := e.gen
	conn := e.conn
	c.tasks.start("reader", func() {
		c.readLoop(gen, conn)
	})

	c.notifyConnect(nil)
}

func (c *Client) notifyConnect(err error) {
	if c.onConnect == nil {
		return
	}
	onConnect := c.onConnect
	c.safeCall("connect", func() { onConnect(err) })
}

// readLoop forwards socket data to the event loop until the socket fails or is closed.
func (c *Client) readLoop(gen uint64, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.mbox.post(dataEvent{gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			c.mbox.post(transportErrorEvent{gen: gen, err: err})
			return
		}
	}
}

func (c *Client) handleTransportError(e transportErrorEvent) {
	if e.gen != c.connGen || c.closing {
		return
	}

	err := e.err
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: connection closed by peer", ErrTransport)
	} else {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.connectionFailed(err)
}

// connectionFailed moves to idle and schedules a reset after a transport error.
func (c *Client) connectionFailed(err error) {
	c.logger.Error("connection failed", "error", err)
	c.stateMgr.ToIdle()
	c.connectionReset()
}

// connectionReset schedules the socket teardown. While a read cycle is active the reset
// waits for the cycle to deliver its callback; otherwise it fires after the reset delay.
// A scheduled reset is never duplicated.
func (c *Client) connectionReset() {
	c.resetPending = true
	if c.resetTimer != nil || c.read.active {
		return
	}

	gen := c.connGen
	c.resetTimer = time.AfterFunc(c.cfg.resetDelayValue(), func() {
		c.mbox.post(resetEvent{gen: gen})
	})
}

func (c *Client) handleResetTimer(e resetEvent) {
	if e.gen != c.connGen || !c.resetPending {
		return
	}
	c.resetTimer = nil
	c.resetNow()
}

// resetNow closes the transport and completes every in-flight packet as bad quality.
func (c *Client) resetNow() {
	c.logger.Info("connection reset")
	c.dropTransport()
	c.stateMgr.ToIdle()
	c.metrics.incResetCount()
	c.expireOutstanding()
}

// dropTransport closes the socket and invalidates events of the current generation.
func (c *Client) dropTransport() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	c.resetPending = false

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close socket", "error", err)
		}
		c.conn = nil
	}
	c.connGen++

	if n := c.framer.reset(c.framer.ascii); n > 0 {
		c.logger.Debug("discard buffered reply bytes", "bytes", n)
	}
}

// expireOutstanding lets every sent packet without reply time out right away.
func (c *Client) expireOutstanding() {
	for _, cyc := range []struct {
		dir direction
		cyc *cycle
	}{{dirRead, &c.read}, {dirWrite, &c.write}} {
		if !cyc.cyc.active {
			continue
		}
		for _, p := range cyc.cyc.packets {
			if p.Outstanding() {
				c.armTimeout(cyc.dir, p, 0)
			}
		}
	}
}
