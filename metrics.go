package jinue

import (
	"sync/atomic"
	"time"

	"github.com/jinuekernel/jinue/internal/interfaces"
)

// LatencyBuckets defines the IPC latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing,
// wide enough to span both a same-core rendezvous (microseconds) and a
// send left blocked behind a slow receiver.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics accumulates the kernel-wide counters cmd/jinue-console
// exposes as Prometheus gauges/counters: context switches, IPC
// traffic, and page-allocator pressure.
type Metrics struct {
	// Scheduler counters
	ContextSwitches atomic.Uint64 // Total context switches
	ThreadExits     atomic.Uint64 // Context switches whose outgoing thread exited

	// Ready-queue statistics
	ReadyDepthTotal atomic.Uint64 // Cumulative ready-queue depth samples
	ReadyDepthCount atomic.Uint64 // Number of ready-queue depth samples
	MaxReadyDepth   atomic.Uint32 // Maximum observed ready-queue depth

	// IPC counters
	SendOps    atomic.Uint64 // Total Send calls completed
	ReceiveOps atomic.Uint64 // Total Receive calls completed
	IPCBytes   atomic.Uint64 // Total bytes transferred by IPC
	IPCErrors  atomic.Uint64 // IPC calls that did not complete successfully

	// Page allocator counters
	PageAllocs      atomic.Uint64 // Total Alloc/Reclaim attempts
	PageAllocFails  atomic.Uint64 // Attempts that found the freelist empty

	// IPC latency tracking
	TotalLatencyNs atomic.Uint64 // Cumulative IPC latency in nanoseconds
	IPCOpCount     atomic.Uint64 // Total IPC operations (for average latency)

	// Latency histogram buckets (cumulative counts): bucket[i] holds
	// the count of IPC operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // Kernel boot timestamp (UnixNano)
	StopTime  atomic.Int64 // Kernel shutdown timestamp (UnixNano), 0 while running
}

// NewMetrics creates a fresh, running Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordContextSwitch records one scheduler handoff.
func (m *Metrics) RecordContextSwitch(fromZombie bool) {
	m.ContextSwitches.Add(1)
	if fromZombie {
		m.ThreadExits.Add(1)
	}
}

// RecordReadyDepth records one ready-queue depth sample.
func (m *Metrics) RecordReadyDepth(depth int) {
	d := uint64(depth)
	m.ReadyDepthTotal.Add(d)
	m.ReadyDepthCount.Add(1)

	for {
		current := m.MaxReadyDepth.Load()
		if uint32(depth) <= current {
			break
		}
		if m.MaxReadyDepth.CompareAndSwap(current, uint32(depth)) {
			break
		}
	}
}

// RecordIPC records one completed send or receive.
func (m *Metrics) RecordIPC(op string, bytes uint64, latencyNs uint64, success bool) {
	switch op {
	case "send":
		m.SendOps.Add(1)
	case "receive":
		m.ReceiveOps.Add(1)
	}
	if success {
		m.IPCBytes.Add(bytes)
	} else {
		m.IPCErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPageAlloc records one allocator attempt.
func (m *Metrics) RecordPageAlloc(success bool) {
	m.PageAllocs.Add(1)
	if !success {
		m.PageAllocFails.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.IPCOpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as shut down, fixing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, plain-value copy of Metrics,
// with derived statistics computed once rather than recomputed by
// every reader.
type MetricsSnapshot struct {
	ContextSwitches uint64
	ThreadExits     uint64

	AvgReadyDepth float64
	MaxReadyDepth uint32

	SendOps    uint64
	ReceiveOps uint64
	IPCBytes   uint64
	IPCErrors  uint64

	PageAllocs     uint64
	PageAllocFails uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalIPCOps   uint64
	IPCErrorRate  float64 // percentage of IPC calls that failed
	PageAllocRate float64 // percentage of allocation attempts that failed
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ContextSwitches: m.ContextSwitches.Load(),
		ThreadExits:     m.ThreadExits.Load(),
		MaxReadyDepth:   m.MaxReadyDepth.Load(),
		SendOps:         m.SendOps.Load(),
		ReceiveOps:      m.ReceiveOps.Load(),
		IPCBytes:        m.IPCBytes.Load(),
		IPCErrors:       m.IPCErrors.Load(),
		PageAllocs:      m.PageAllocs.Load(),
		PageAllocFails:  m.PageAllocFails.Load(),
	}

	snap.TotalIPCOps = snap.SendOps + snap.ReceiveOps

	readyDepthTotal := m.ReadyDepthTotal.Load()
	readyDepthCount := m.ReadyDepthCount.Load()
	if readyDepthCount > 0 {
		snap.AvgReadyDepth = float64(readyDepthTotal) / float64(readyDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.IPCOpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.TotalIPCOps > 0 {
		snap.IPCErrorRate = float64(snap.IPCErrors) / float64(snap.TotalIPCOps) * 100.0
	}
	if snap.PageAllocs > 0 {
		snap.PageAllocRate = float64(snap.PageAllocFails) / float64(snap.PageAllocs) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.IPCOpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter, for use between test scenarios.
func (m *Metrics) Reset() {
	m.ContextSwitches.Store(0)
	m.ThreadExits.Store(0)
	m.ReadyDepthTotal.Store(0)
	m.ReadyDepthCount.Store(0)
	m.MaxReadyDepth.Store(0)
	m.SendOps.Store(0)
	m.ReceiveOps.Store(0)
	m.IPCBytes.Store(0)
	m.IPCErrors.Store(0)
	m.PageAllocs.Store(0)
	m.PageAllocFails.Store(0)
	m.TotalLatencyNs.Store(0)
	m.IPCOpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver adapts Metrics to interfaces.Observer, the interface
// every instrumented subsystem (internal/sched, internal/ipc,
// internal/pagealloc) already accepts via SetObserver.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveContextSwitch(fromZombie bool) {
	o.metrics.RecordContextSwitch(fromZombie)
}

func (o *MetricsObserver) ObserveIPC(op string, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordIPC(op, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObservePageAlloc(success bool) {
	o.metrics.RecordPageAlloc(success)
}

func (o *MetricsObserver) ObserveReadyQueueDepth(depth int) {
	o.metrics.RecordReadyDepth(depth)
}

// NoOpObserver discards every event. Nothing installs it by default: a
// subsystem whose SetObserver is never called holds a nil observer and
// skips reporting.
type NoOpObserver struct{}

func (NoOpObserver) ObserveContextSwitch(bool)              {}
func (NoOpObserver) ObserveIPC(string, uint64, uint64, bool) {}
func (NoOpObserver) ObservePageAlloc(bool)                   {}
func (NoOpObserver) ObserveReadyQueueDepth(int)               {}

// Compile-time interface checks.
var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
