package jinue

import (
	"testing"
	"time"
)

func TestMetricsIPC(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalIPCOps != 0 {
		t.Errorf("Expected 0 initial IPC ops, got %d", snap.TotalIPCOps)
	}

	m.RecordIPC("send", 64, 1_000_000, true)    // 64B send, 1ms latency, success
	m.RecordIPC("receive", 64, 500_000, true)   // 64B receive, 0.5ms latency, success
	m.RecordIPC("send", 0, 200_000, false)      // failed send, no bytes transferred

	snap = m.Snapshot()

	if snap.SendOps != 2 {
		t.Errorf("Expected 2 send ops, got %d", snap.SendOps)
	}
	if snap.ReceiveOps != 1 {
		t.Errorf("Expected 1 receive op, got %d", snap.ReceiveOps)
	}
	if snap.IPCBytes != 128 {
		t.Errorf("Expected 128 bytes transferred, got %d", snap.IPCBytes)
	}
	if snap.IPCErrors != 1 {
		t.Errorf("Expected 1 IPC error, got %d", snap.IPCErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.IPCErrorRate < expectedErrorRate-0.1 || snap.IPCErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.IPCErrorRate)
	}
}

func TestMetricsContextSwitch(t *testing.T) {
	m := NewMetrics()

	m.RecordContextSwitch(false)
	m.RecordContextSwitch(false)
	m.RecordContextSwitch(true)

	snap := m.Snapshot()
	if snap.ContextSwitches != 3 {
		t.Errorf("Expected 3 context switches, got %d", snap.ContextSwitches)
	}
	if snap.ThreadExits != 1 {
		t.Errorf("Expected 1 thread-exit switch, got %d", snap.ThreadExits)
	}
}

func TestMetricsReadyDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordReadyDepth(1)
	m.RecordReadyDepth(3)
	m.RecordReadyDepth(2)

	snap := m.Snapshot()
	if snap.MaxReadyDepth != 3 {
		t.Errorf("Expected max ready depth 3, got %d", snap.MaxReadyDepth)
	}

	expectedAvg := float64(1+3+2) / 3.0
	if snap.AvgReadyDepth < expectedAvg-0.1 || snap.AvgReadyDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg ready depth %.1f, got %.1f", expectedAvg, snap.AvgReadyDepth)
	}
}

func TestMetricsPageAlloc(t *testing.T) {
	m := NewMetrics()

	m.RecordPageAlloc(true)
	m.RecordPageAlloc(true)
	m.RecordPageAlloc(false)

	snap := m.Snapshot()
	if snap.PageAllocs != 3 {
		t.Errorf("Expected 3 alloc attempts, got %d", snap.PageAllocs)
	}
	if snap.PageAllocFails != 1 {
		t.Errorf("Expected 1 alloc failure, got %d", snap.PageAllocFails)
	}

	expectedRate := float64(1) / float64(3) * 100.0
	if snap.PageAllocRate < expectedRate-0.1 || snap.PageAllocRate > expectedRate+0.1 {
		t.Errorf("Expected alloc failure rate ~%.1f%%, got %.1f%%", expectedRate, snap.PageAllocRate)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordIPC("send", 64, 1_000_000, true)    // 1ms
	m.RecordIPC("receive", 64, 2_000_000, true) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordIPC("send", 64, 1_000_000, true)
	m.RecordContextSwitch(false)
	m.RecordReadyDepth(5)
	m.RecordPageAlloc(true)

	snap := m.Snapshot()
	if snap.TotalIPCOps == 0 {
		t.Error("Expected some IPC ops before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalIPCOps != 0 {
		t.Errorf("Expected 0 IPC ops after reset, got %d", snap.TotalIPCOps)
	}
	if snap.ContextSwitches != 0 {
		t.Errorf("Expected 0 context switches after reset, got %d", snap.ContextSwitches)
	}
	if snap.MaxReadyDepth != 0 {
		t.Errorf("Expected 0 max ready depth after reset, got %d", snap.MaxReadyDepth)
	}
	if snap.PageAllocs != 0 {
		t.Errorf("Expected 0 page allocs after reset, got %d", snap.PageAllocs)
	}
}

func TestObserver(t *testing.T) {
	observer := NoOpObserver{}
	observer.ObserveContextSwitch(false)
	observer.ObserveIPC("send", 64, 1000, true)
	observer.ObservePageAlloc(true)
	observer.ObserveReadyQueueDepth(2)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveContextSwitch(true)
	metricsObserver.ObserveIPC("receive", 128, 2000, true)
	metricsObserver.ObservePageAlloc(false)
	metricsObserver.ObserveReadyQueueDepth(4)

	snap := m.Snapshot()
	if snap.ContextSwitches != 1 || snap.ThreadExits != 1 {
		t.Errorf("Expected 1 context switch marked as thread-exit, got switches=%d exits=%d", snap.ContextSwitches, snap.ThreadExits)
	}
	if snap.ReceiveOps != 1 || snap.IPCBytes != 128 {
		t.Errorf("Expected 1 receive op with 128 bytes, got ops=%d bytes=%d", snap.ReceiveOps, snap.IPCBytes)
	}
	if snap.PageAllocFails != 1 {
		t.Errorf("Expected 1 page alloc failure, got %d", snap.PageAllocFails)
	}
	if snap.MaxReadyDepth != 4 {
		t.Errorf("Expected max ready depth 4, got %d", snap.MaxReadyDepth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordIPC("send", 64, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordIPC("receive", 64, 5_000_000, true) // 5ms
	}
	m.RecordIPC("receive", 64, 50_000_000, true) // 50ms, the single slowest op

	snap := m.Snapshot()

	if snap.TotalIPCOps != 100 {
		t.Errorf("Expected 100 total IPC ops, got %d", snap.TotalIPCOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
