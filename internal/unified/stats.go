package unified

import "sync/atomic"

// Stats is a snapshot of allocator activity.
type Stats struct {
	Allocations uint64 // buffers allocated
	Releases    uint64 // buffers freed
	LiveBuffers int64  // allocated and not yet freed
	LiveBytes   int64
	PeakBytes   int64
}

type memoryStats struct {
	allocations atomic.Uint64
	releases    atomic.Uint64
	liveBuffers atomic.Int64
	liveBytes   atomic.Int64
	peakBytes   atomic.Int64
}

func (m *memoryStats) allocated(size int) {
	m.allocations.Add(1)
	m.liveBuffers.Add(1)
	live := m.liveBytes.Add(int64(size))
	for {
		peak := m.peakBytes.Load()
		if live <= peak || m.peakBytes.CompareAndSwap(peak, live) {
			return
		}
	}
}

func (m *memoryStats) released(size int) {
	m.releases.Add(1)
	m.liveBuffers.Add(-1)
	m.liveBytes.Add(-int64(size))
}

func (m *memoryStats) snapshot() Stats {
	return Stats{
		Allocations: m.allocations.Load(),
		Releases:    m.releases.Load(),
		LiveBuffers: m.liveBuffers.Load(),
		LiveBytes:   m.liveBytes.Load(),
		PeakBytes:   m.peakBytes.Load(),
	}
}
