package app

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks operation throughput and watcher activity. All
// recording methods are safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	// Operation lifecycle
	opsSubmitted atomic.Uint64
	opsSucceeded atomic.Uint64
	opsFailed    atomic.Uint64
	opsCanceled  atomic.Uint64

	// Turnaround covers submit to terminal state, queue wait included.
	turnTotalNs atomic.Int64
	turnMinNs   atomic.Int64
	turnMaxNs   atomic.Int64
	lastTurnNs  atomic.Int64

	// File watching
	fsEvents        atomic.Uint64
	manifestChanges atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
	}
	// Initialize min to max int64 so the first sample is smaller.
	m.turnMinNs.Store(1<<63 - 1)
	return m
}

// RecordSubmitted counts an operation accepted by a queue.
func (m *Metrics) RecordSubmitted() {
	m.opsSubmitted.Add(1)
}

// RecordSucceeded records a successful operation and its turnaround.
func (m *Metrics) RecordSucceeded(turnaround time.Duration) {
	m.opsSucceeded.Add(1)
	m.recordTurnaround(turnaround)
}

// RecordFailed records a failed operation and its turnaround.
func (m *Metrics) RecordFailed(turnaround time.Duration) {
	m.opsFailed.Add(1)
	m.recordTurnaround(turnaround)
}

// RecordCanceled records a canceled operation and its turnaround.
func (m *Metrics) RecordCanceled(turnaround time.Duration) {
	m.opsCanceled.Add(1)
	m.recordTurnaround(turnaround)
}

// RecordFSEvent counts a file system event delivered by the watcher.
func (m *Metrics) RecordFSEvent() {
	m.fsEvents.Add(1)
}

// RecordManifestChange counts a manifest change applied to a folder.
func (m *Metrics) RecordManifestChange() {
	m.manifestChanges.Add(1)
}

func (m *Metrics) recordTurnaround(d time.Duration) {
	ns := d.Nanoseconds()

	m.turnTotalNs.Add(ns)
	m.lastTurnNs.Store(ns)

	// Update min (atomic compare-and-swap loop)
	for {
		old := m.turnMinNs.Load()
		if ns >= old {
			break
		}
		if m.turnMinNs.CompareAndSwap(old, ns) {
			break
		}
	}

	// Update max (atomic compare-and-swap loop)
	for {
		old := m.turnMaxNs.Load()
		if ns <= old {
			break
		}
		if m.turnMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// Snapshot returns a point-in-time view of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	succeeded := m.opsSucceeded.Load()
	failed := m.opsFailed.Load()
	canceled := m.opsCanceled.Load()
	finished := succeeded + failed + canceled

	var avgTurnNs int64
	if finished > 0 {
		avgTurnNs = m.turnTotalNs.Load() / int64(finished)
	}

	minTurnNs := m.turnMinNs.Load()
	if minTurnNs == 1<<63-1 {
		minTurnNs = 0
	}

	m.mu.RLock()
	uptime := time.Since(m.startTime)
	m.mu.RUnlock()

	return MetricsSnapshot{
		Uptime:          uptime,
		OpsSubmitted:    m.opsSubmitted.Load(),
		OpsSucceeded:    succeeded,
		OpsFailed:       failed,
		OpsCanceled:     canceled,
		AvgTurnaroundNs: avgTurnNs,
		MinTurnaroundNs: minTurnNs,
		MaxTurnaroundNs: m.turnMaxNs.Load(),
		LastTurnNs:      m.lastTurnNs.Load(),
		FSEvents:        m.fsEvents.Load(),
		ManifestChanges: m.manifestChanges.Load(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.opsSubmitted.Store(0)
	m.opsSucceeded.Store(0)
	m.opsFailed.Store(0)
	m.opsCanceled.Store(0)
	m.turnTotalNs.Store(0)
	m.turnMinNs.Store(1<<63 - 1)
	m.turnMaxNs.Store(0)
	m.lastTurnNs.Store(0)
	m.fsEvents.Store(0)
	m.manifestChanges.Store(0)

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime          time.Duration
	OpsSubmitted    uint64
	OpsSucceeded    uint64
	OpsFailed       uint64
	OpsCanceled     uint64
	AvgTurnaroundNs int64
	MinTurnaroundNs int64
	MaxTurnaroundNs int64
	LastTurnNs      int64
	FSEvents        uint64
	ManifestChanges uint64
}

// Finished returns the number of operations that reached a terminal
// state.
func (s MetricsSnapshot) Finished() uint64 {
	return s.OpsSucceeded + s.OpsFailed + s.OpsCanceled
}

// SuccessRate returns the percentage of finished operations that
// succeeded.
func (s MetricsSnapshot) SuccessRate() float64 {
	finished := s.Finished()
	if finished == 0 {
		return 0
	}
	return float64(s.OpsSucceeded) / float64(finished) * 100
}

// AvgTurnaround returns the average turnaround as a duration.
func (s MetricsSnapshot) AvgTurnaround() time.Duration {
	return time.Duration(s.AvgTurnaroundNs)
}

// Timer provides a simple way to measure elapsed time.
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer.
func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ElapsedMs returns the elapsed time in milliseconds.
func (t *Timer) ElapsedMs() float64 {
	return float64(t.Elapsed().Nanoseconds()) / 1e6
}

// Stop returns the elapsed time and resets the timer.
func (t *Timer) Stop() time.Duration {
	elapsed := t.Elapsed()
	t.start = time.Now()
	return elapsed
}
