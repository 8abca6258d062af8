package mcclient

import (
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/go-mcprotocol/internal/pool"
	"github.com/arloliu/go-mcprotocol/mc"
)

func (c *Client) isWaiting() bool {
	return c.read.active || c.write.active
}

func (c *Client) cycleOf(dir direction) *cycle {
	if dir == dirWrite {
		return &c.write
	}

	return &c.read
}

// handleReadRequest starts a read cycle, or retries later while another cycle is active.
func (c *Client) handleReadRequest(done ReadCallback) {
	if c.closing {
		c.safeCall("read", func() { done(true, map[string]any{}) })
		return
	}

	if c.isWaiting() {
		c.logger.Debug("read cycle deferred", "read_active", c.read.active, "write_active", c.write.active)
		time.AfterFunc(c.cfg.readRetryIntervalValue(), func() {
			if !c.mbox.post(readEvent{done: done}) {
				// the loop is gone; the callback is still owed
				c.safeCall("read", func() { done(true, map[string]any{}) })
			}
		})

		return
	}

	if c.reparse {
		c.reparseItems()
	}
	c.applyItemOps()
	if !c.read.valid {
		c.rebuildReadPackets()
	}

	if len(c.read.packets) == 0 {
		c.metrics.incReadCycleCount()
		c.safeCall("read", func() { done(false, map[string]any{}) })

		return
	}

	c.read.active = true
	c.read.ascii = c.cfg.ASCII()
	c.readDone = done
	c.sendNext(dirRead)
}

// applyItemOps applies queued add and remove requests to the read set.
func (c *Client) applyItemOps() {
	for {
		op, ok := c.itemOps.Dequeue()
		if !ok {
			return
		}
		c.read.valid = false

		switch op.kind {
		case opAdd:
			c.addItems(op.aliases)

		case opRemove:
			addrs := make(map[string]struct{}, len(op.aliases))
			for _, alias := range op.aliases {
				addrs[c.translateAlias(alias)] = struct{}{}
			}
			c.items = slices.DeleteFunc(c.items, func(it *mc.Item) bool {
				if _, ok := addrs[it.Addr]; ok {
					c.cache.Delete(it.Alias)
					return true
				}

				return false
			})
			c.syncAliases()

		case opRemoveAll:
			c.items = nil
			c.aliases = nil
			c.cache.Clear()
		}
	}
}

func (c *Client) addItems(aliases []string) {
	for _, alias := range aliases {
		if slices.Contains(c.aliases, alias) {
			continue
		}
		it, err := c.parseItem(alias)
		if err != nil {
			c.logger.Warn("drop read item", "alias", alias, "error", err)
			continue
		}
		c.aliases = append(c.aliases, alias)
		c.items = append(c.items, it)
	}
}

func (c *Client) syncAliases() {
	c.aliases = c.aliases[:0]
	for _, it := range c.items {
		c.aliases = append(c.aliases, it.Alias)
	}
}

func (c *Client) translateAlias(alias string) string {
	if c.translate == nil {
		return alias
	}

	return c.translate(alias)
}

func (c *Client) parseItem(alias string) (*mc.Item, error) {
	addr := c.translateAlias(alias)
	it, err := mc.ParseAddress(addr, c.cfg.OctalInputOutput())
	if err != nil {
		return nil, err
	}
	it.Alias = alias

	return it, nil
}

// invalidate forces the read blocks to be rebuilt before the next read cycle; with reparse,
// the read set is also parsed again from its aliases.
func (c *Client) invalidate(reparse bool) {
	c.read.valid = false
	if reparse {
		c.reparse = true
	}
}

// reparseItems parses the read set again, e.g. after the translation or octal mode changed.
func (c *Client) reparseItems() {
	c.reparse = false
	c.read.valid = false
	c.cache.Clear()

	aliases := c.aliases
	c.items = nil
	c.aliases = nil
	c.addItems(aliases)
}

func (c *Client) rebuildReadPackets() {
	c.read.blocks = mc.BuildReadBlocks(c.items, c.cfg.optimizeOptions())
	c.read.packets = mc.Packetize(mc.CollectRequests(c.read.blocks), &c.seq)
	c.read.valid = true
	c.logger.Debug("read packets rebuilt", "items", len(c.items), "blocks", len(c.read.blocks), "packets", len(c.read.packets))
}

// handleWriteRequest parses and encodes a write batch and starts it, or queues it behind
// the active read cycle.
func (c *Client) handleWriteRequest(e writeEvent) {
	if c.closing {
		c.writeBusy.Store(false)
		c.safeCall("write", func() { e.done(true) })

		return
	}

	ascii := c.cfg.ASCII()
	anyBad := false
	blocks := make([]*mc.Block, 0, len(e.aliases))
	for i, alias := range e.aliases {
		it, err := c.parseItem(alias)
		if err == nil {
			it.WriteValue = e.values[i]
			var b *mc.Block
			if b, err = mc.BuildWriteBlock(it, ascii); err == nil {
				blocks = append(blocks, b)
				continue
			}
		}
		c.logger.Warn("drop write item", "alias", alias, "error", err)
		anyBad = true
	}

	c.write.blocks = blocks
	c.write.packets = mc.Packetize(mc.CollectRequests(blocks), &c.seq)
	c.write.ascii = ascii
	c.writeAnyBad = anyBad
	c.writeDone = e.done

	if len(c.write.packets) == 0 {
		c.finishWriteCycle()
		return
	}

	if c.read.active {
		c.logger.Debug("write cycle queued behind read cycle")
		c.writeInQueue = true

		return
	}
	c.startWriteCycle()
}

func (c *Client) startWriteCycle() {
	c.writeInQueue = false
	c.write.active = true
	c.sendNext(dirWrite)
}

// sendNext sends the first unsent packet of the cycle. At most one packet is in flight.
func (c *Client) sendNext(dir direction) bool {
	for _, p := range c.cycleOf(dir).packets {
		if p.Outstanding() {
			return true
		}
		if !p.Sent {
			c.sendPacket(dir, p)
			return true
		}
	}

	return false
}

// sendPacket encodes and writes one packet. Without a connection the packet times out
// right away and a reconnect is started.
func (c *Client) sendPacket(dir direction, p *mc.Packet) {
	c.token++
	p.Token = c.token
	p.Sent = true
	p.Received = false
	p.TimedOut = false
	p.SentAt = time.Now()

	if c.conn == nil || !c.stateMgr.IsConnected() {
		c.logger.Debug("not connected, packet fails", "dir", dir, "seq", p.Seq)
		p.TimedOut = true
		c.armTimeout(dir, p, 0)
		if c.stateMgr.IsIdle() && c.opened.Load() {
			c.initiate()
		}

		return
	}

	cyc := c.cycleOf(dir)
	opts := c.cfg.codecOptions()
	opts.ASCII = cyc.ascii

	bp := pool.GetBuffer()
	defer pool.PutBuffer(bp)
	*bp = mc.AppendRequest(*bp, p.Request(), dir == dirWrite, opts)
	frame := *bp
	if opts.ASCII {
		hp := pool.GetBuffer()
		defer pool.PutBuffer(hp)
		*hp = mc.AppendAsciize(*hp, frame)
		frame = *hp
	}

	if n := c.framer.reset(opts.ASCII); n > 0 {
		c.logger.Warn("discard unsolicited reply bytes", "bytes", n)
	}
	c.armTimeout(dir, p, c.cfg.Timeout())

	c.cfg.mu.RLock()
	deadline := c.cfg.writeDeadline
	c.cfg.mu.RUnlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		c.logger.Debug("set write deadline", "error", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.connectionFailed(fmt.Errorf("%w: write: %w", ErrTransport, err))
		return
	}
	c.metrics.incPacketSendCount()
	c.logger.Debug("packet sent", "dir", dir, "seq", p.Seq, "token", p.Token, "bytes", len(frame))
}

// armTimeout starts the packet's timer. Its event carries the send token so a timer of an
// earlier send is ignored.
func (c *Client) armTimeout(dir direction, p *mc.Packet, d time.Duration) {
	token := p.Token
	p.ArmTimeout(d, func() {
		c.mbox.post(timeoutEvent{dir: dir, pkt: p, token: token})
	})
}

func (c *Client) handleTimeout(e timeoutEvent) {
	p := e.pkt
	if !p.Outstanding() || p.Token != e.token {
		return
	}
	if !p.TimedOut {
		c.logger.Warn("reply timeout", "dir", e.dir, "seq", p.Seq, "elapsed", time.Since(p.SentAt))
	}
	p.TimedOut = true
	c.metrics.incPacketTimeoutCount()
	c.complete(e.dir, p, nil)
}

// oldestOutstanding returns the packet a reply belongs to. The protocol echoes nothing, so
// replies go to the earliest sent packet still waiting.
func (c *Client) oldestOutstanding() (*mc.Packet, direction) {
	var oldest *mc.Packet
	var dir direction
	for _, d := range []direction{dirRead, dirWrite} {
		cyc := c.cycleOf(d)
		if !cyc.active {
			continue
		}
		for _, p := range cyc.packets {
			if p.Outstanding() && !p.TimedOut && (oldest == nil || p.Token < oldest.Token) {
				oldest = p
				dir = d
			}
		}
	}

	return oldest, dir
}

func (c *Client) handleData(e dataEvent) {
	if e.gen != c.connGen {
		return
	}
	c.framer.feed(e.data)

	for c.framer.buffered() > 0 {
		p, dir := c.oldestOutstanding()
		if p == nil {
			n := c.framer.reset(c.framer.ascii)
			c.logger.Warn("drop unsolicited data", "bytes", n)

			return
		}

		payloadLen := 0
		if dir == dirRead {
			payloadLen = p.Request().ByteLength
		}
		frame, err := c.framer.next(payloadLen)
		if err != nil {
			c.connectionFailed(fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}
		if frame == nil {
			return
		}
		if c.framer.buffered() > 0 {
			// one request is outstanding at a time, so trailing bytes belong to this reply
			excess := c.framer.drain()
			c.logger.Warn("reply longer than expected", "dir", dir, "seq", p.Seq, "extra_bytes", len(excess))
			frame = append(frame, excess...)
		}

		c.metrics.incPacketRecvCount()
		c.complete(dir, p, frame)
	}
}

// complete decodes the reply of p, or classifies a missing reply as bad quality, and
// advances the cycle.
func (c *Client) complete(dir direction, p *mc.Packet, data []byte) {
	p.ClearTimeout()
	p.Received = true

	var err error
	if dir == dirRead {
		err = mc.DecodeReadReply(data, p.Request())
	} else {
		err = mc.DecodeWriteReply(data, p.Request())
	}
	if err != nil && data != nil {
		c.logger.Warn("request failed", "dir", dir, "seq", p.Seq, "error", err)
	}

	if c.sendNext(dir) {
		return
	}

	if dir == dirRead {
		c.finishReadCycle()
	} else {
		c.finishWriteCycle()
	}
}

// finishReadCycle reassembles the blocks, delivers the values and runs what waited for the
// cycle: a pending reset, then a queued write.
func (c *Client) finishReadCycle() {
	ascii := c.read.ascii
	for _, b := range c.read.blocks {
		b.Reassemble()
	}

	anyBad := false
	for _, b := range c.read.blocks {
		if b.ExtractItems(ascii) {
			anyBad = true
		}
	}

	now := time.Now()
	values := make(map[string]any, len(c.items))
	badCount := 0
	for _, it := range c.items {
		values[it.Alias] = it.ResultValue()
		if !it.Quality().IsOK() {
			badCount++
		}
		c.cache.Store(it.Alias, ItemValue{
			Alias:     it.Alias,
			Addr:      it.Addr,
			Value:     it.Clone().Value(),
			Quality:   it.Quality(),
			Qualities: it.Qualities(),
			Timestamp: now,
		})
	}

	for _, b := range c.read.blocks {
		b.Release()
	}
	for _, p := range c.read.packets {
		p.Reset()
	}

	done := c.readDone
	c.readDone = nil
	c.read.active = false
	c.metrics.incReadCycleCount()
	c.metrics.addBadQualityCount(badCount)
	c.logger.Debug("read cycle finished", "items", len(c.items), "bad", badCount)

	c.safeCall("read", func() { done(anyBad, values) })

	if c.resetPending && c.resetTimer == nil {
		c.resetNow()
	}
	if c.writeInQueue {
		c.startWriteCycle()
	}
}

func (c *Client) finishWriteCycle() {
	anyBad := c.writeAnyBad
	badCount := 0
	for _, b := range c.write.blocks {
		if b.FinishWrite() {
			anyBad = true
			badCount++
		}
	}

	for _, p := range c.write.packets {
		p.Reset()
	}
	c.write = cycle{}
	done := c.writeDone
	c.writeDone = nil
	c.writeAnyBad = false
	c.writeBusy.Store(false)

	c.metrics.incWriteCycleCount()
	c.metrics.addBadQualityCount(badCount)
	c.logger.Debug("write cycle finished", "bad", anyBad)

	c.safeCall("write", func() { done(anyBad) })
}
