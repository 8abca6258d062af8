package mc

import (
	"sync/atomic"
	"time"
)

// MaxSequence is the largest internal sequence number before it wraps to 1.
const MaxSequence = 32767

// SequenceGenerator hands out packet sequence numbers in [1, MaxSequence].
// The zero value is ready to use and safe for concurrent use.
type SequenceGenerator struct {
	last atomic.Uint32
}

// Next returns the next sequence number, wrapping from MaxSequence to 1.
func (g *SequenceGenerator) Next() uint16 {
	for {
		cur := g.last.Load()
		next := cur + 1
		if next > MaxSequence {
			next = 1
		}
		if g.last.CompareAndSwap(cur, next) {
			return uint16(next) //nolint:gosec
		}
	}
}

// Packet is the envelope of exactly one request in flight. Its sequence number is only used
// for diagnostics and timer bookkeeping and never goes on the wire.
type Packet struct {
	Seq      uint16
	Requests []*Request

	Sent     bool
	Received bool
	TimedOut bool
	SentAt   time.Time
	// Token identifies the current send of the packet, so stale timer events can be told apart.
	Token uint64

	timer *time.Timer
}

// Packetize wraps each request into its own packet.
func Packetize(reqs []*Request, seq *SequenceGenerator) []*Packet {
	packets := make([]*Packet, 0, len(reqs))
	for _, req := range reqs {
		packets = append(packets, &Packet{
			Seq:      seq.Next(),
			Requests: []*Request{req},
		})
	}

	return packets
}

// Request returns the packet's request.
func (p *Packet) Request() *Request { return p.Requests[0] }

// Outstanding reports whether the packet was sent and is still waiting for its reply.
func (p *Packet) Outstanding() bool { return p.Sent && !p.Received }

// ArmTimeout starts the packet's single timer, replacing any previous one.
func (p *Packet) ArmTimeout(d time.Duration, f func()) {
	p.ClearTimeout()
	p.timer = time.AfterFunc(d, f)
}

// ClearTimeout stops the packet's timer if one is armed.
func (p *Packet) ClearTimeout() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Reset clears the timer and the per-cycle flags.
func (p *Packet) Reset() {
	p.ClearTimeout()
	p.Sent = false
	p.Received = false
	p.TimedOut = false
}
