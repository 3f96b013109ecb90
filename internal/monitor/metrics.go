package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics tracks pipeline latency and counters.
type Metrics struct {
	// Latency histograms
	ScanLatency  *LatencyHistogram
	OrderLatency *LatencyHistogram

	// Counters
	scans              uint64
	tasks              uint64
	signalsAccepted    uint64
	duplicates         uint64
	skipped            uint64
	executionsSuccess  uint64
	executionsDegraded uint64
	executionsFailed   uint64
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		ScanLatency:  NewLatencyHistogram(500),
		OrderLatency: NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ScanDone records one finished scan.
func (m *Metrics) ScanDone(elapsed time.Duration, tasks, accepted, duplicates, skipped int) {
	m.ScanLatency.RecordDuration(elapsed)
	atomic.AddUint64(&m.scans, 1)
	atomic.AddUint64(&m.tasks, uint64(tasks))
	atomic.AddUint64(&m.signalsAccepted, uint64(accepted))
	atomic.AddUint64(&m.duplicates, uint64(duplicates))
	atomic.AddUint64(&m.skipped, uint64(skipped))
}

// ExecutionDone records an execution outcome ("success", "degraded" or "failed").
func (m *Metrics) ExecutionDone(outcome string, elapsed time.Duration) {
	m.OrderLatency.RecordDuration(elapsed)
	switch outcome {
	case "success":
		atomic.AddUint64(&m.executionsSuccess, 1)
	case "degraded":
		atomic.AddUint64(&m.executionsDegraded, 1)
	default:
		atomic.AddUint64(&m.executionsFailed, 1)
	}
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	ScanLatency        LatencyStats `json:"scan_latency"`
	OrderLatency       LatencyStats `json:"order_latency"`
	Scans              uint64       `json:"scans"`
	Tasks              uint64       `json:"tasks"`
	SignalsAccepted    uint64       `json:"signals_accepted"`
	Duplicates         uint64       `json:"duplicates"`
	Skipped            uint64       `json:"skipped"`
	ExecutionsSuccess  uint64       `json:"executions_success"`
	ExecutionsDegraded uint64       `json:"executions_degraded"`
	ExecutionsFailed   uint64       `json:"executions_failed"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		ScanLatency:        m.ScanLatency.Stats(),
		OrderLatency:       m.OrderLatency.Stats(),
		Scans:              atomic.LoadUint64(&m.scans),
		Tasks:              atomic.LoadUint64(&m.tasks),
		SignalsAccepted:    atomic.LoadUint64(&m.signalsAccepted),
		Duplicates:         atomic.LoadUint64(&m.duplicates),
		Skipped:            atomic.LoadUint64(&m.skipped),
		ExecutionsSuccess:  atomic.LoadUint64(&m.executionsSuccess),
		ExecutionsDegraded: atomic.LoadUint64(&m.executionsDegraded),
		ExecutionsFailed:   atomic.LoadUint64(&m.executionsFailed),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		Timestamp:          time.Now(),
	}
}

// Fields renders the snapshot for structured logging.
func (s Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("scans", s.Scans),
		zap.Uint64("signals_accepted", s.SignalsAccepted),
		zap.Uint64("duplicates", s.Duplicates),
		zap.Uint64("skipped", s.Skipped),
		zap.Float64("scan_p50_ms", s.ScanLatency.P50),
		zap.Float64("scan_p95_ms", s.ScanLatency.P95),
		zap.Float64("order_p95_ms", s.OrderLatency.P95),
		zap.Float64("order_p99_ms", s.OrderLatency.P99),
		zap.Uint64("exec_success", s.ExecutionsSuccess),
		zap.Uint64("exec_degraded", s.ExecutionsDegraded),
		zap.Uint64("exec_failed", s.ExecutionsFailed),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
