package mcclient

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a client connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// ReadCycleCount indicates the number of completed read cycles.
	ReadCycleCount atomic.Uint64
	// WriteCycleCount indicates the number of completed write cycles.
	WriteCycleCount atomic.Uint64

	// PacketSendCount indicates the number of request frames written to the socket.
	PacketSendCount atomic.Uint64
	// PacketRecvCount indicates the number of reply frames received.
	PacketRecvCount atomic.Uint64
	// PacketTimeoutCount indicates the number of requests completed without a reply.
	PacketTimeoutCount atomic.Uint64

	// BadQualityCount indicates the number of items reported with bad quality.
	BadQualityCount atomic.Uint64

	// ResetCount indicates the number of connection resets.
	ResetCount atomic.Uint64

	// ConnRetryGauge indicates the number of dial attempts since the last successful connect.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incReadCycleCount() {
	m.ReadCycleCount.Add(1)
}

func (m *ConnectionMetrics) incWriteCycleCount() {
	m.WriteCycleCount.Add(1)
}

func (m *ConnectionMetrics) incPacketSendCount() {
	m.PacketSendCount.Add(1)
}

func (m *ConnectionMetrics) incPacketRecvCount() {
	m.PacketRecvCount.Add(1)
}

func (m *ConnectionMetrics) incPacketTimeoutCount() {
	m.PacketTimeoutCount.Add(1)
}

func (m *ConnectionMetrics) addBadQualityCount(n int) {
	if n > 0 {
		m.BadQualityCount.Add(uint64(n))
	}
}

func (m *ConnectionMetrics) incResetCount() {
	m.ResetCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
