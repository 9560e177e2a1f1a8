package telemetry

import (
	"sync"
	"sync/atomic"
)

type MetricsCollector struct {
	framesTapToSock atomic.Int64
	framesSockToTap atomic.Int64
	bytesTapToSock  atomic.Int64
	bytesSockToTap  atomic.Int64
	oversizeDrops   atomic.Int64

	activeWorkers atomic.Int64
	totalWorkers  atomic.Int64

	chanMu    sync.Mutex
	chanBytes map[string]int64
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{chanBytes: map[string]int64{}}
}

func (m *MetricsCollector) AddTapToSock(frames, bytes int64) {
	m.framesTapToSock.Add(frames)
	m.bytesTapToSock.Add(bytes)
}

func (m *MetricsCollector) AddSockToTap(frames, bytes int64) {
	m.framesSockToTap.Add(frames)
	m.bytesSockToTap.Add(bytes)
}

// IncOversizeDrop counts an ingress datagram whose decoded length
// exceeded the MTU and was discarded.
func (m *MetricsCollector) IncOversizeDrop() {
	m.oversizeDrops.Add(1)
}

func (m *MetricsCollector) OversizeDrops() int64 {
	return m.oversizeDrops.Load()
}

func (m *MetricsCollector) IncActive() {
	m.activeWorkers.Add(1)
	m.totalWorkers.Add(1)
}

func (m *MetricsCollector) DecActive() {
	m.activeWorkers.Add(-1)
}

func (m *MetricsCollector) AddChannelBytes(name string, n int64) {
	m.chanMu.Lock()
	m.chanBytes[name] += n
	m.chanMu.Unlock()
}

type MetricsSnapshot struct {
	FramesTapToSock int64            `json:"frames_tap_to_sock"`
	FramesSockToTap int64            `json:"frames_sock_to_tap"`
	BytesTapToSock  int64            `json:"bytes_tap_to_sock"`
	BytesSockToTap  int64            `json:"bytes_sock_to_tap"`
	OversizeDrops   int64            `json:"oversize_drops"`
	ActiveWorkers   int64            `json:"active_workers"`
	TotalWorkers    int64            `json:"total_workers_started"`
	ChannelBytes    map[string]int64 `json:"channel_bytes"`
}

func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.chanMu.Lock()
	cb := make(map[string]int64, len(m.chanBytes))
	for k, v := range m.chanBytes {
		cb[k] = v
	}
	m.chanMu.Unlock()

	return MetricsSnapshot{
		FramesTapToSock: m.framesTapToSock.Load(),
		FramesSockToTap: m.framesSockToTap.Load(),
		BytesTapToSock:  m.bytesTapToSock.Load(),
		BytesSockToTap:  m.bytesSockToTap.Load(),
		OversizeDrops:   m.oversizeDrops.Load(),
		ActiveWorkers:   m.activeWorkers.Load(),
		TotalWorkers:    m.totalWorkers.Load(),
		ChannelBytes:    cb,
	}
}
