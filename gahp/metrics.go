package gahp

import (
	"runtime"
	"slices"
	"sync"
	"time"
)

const latencyWindow = 1000

// kindStats accumulates the outcomes of one command kind.
type kindStats struct {
	count    int64
	failures int64
	// window holds the most recent latencies, oldest first.
	window []time.Duration
}

func (s *kindStats) observe(d time.Duration, failed bool) {
	s.count++
	if failed {
		s.failures++
	}
	if len(s.window) >= latencyWindow {
		s.window = slices.Delete(s.window, 0, latencyWindow/2)
	}
	s.window = append(s.window, d)
}

// Metrics tracks executed and in-flight commands per kind.
type Metrics struct {
	mu       sync.Mutex
	kinds    map[Kind]*kindStats
	inFlight int64
}

// NewMetrics returns an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{kinds: make(map[Kind]*kindStats)}
}

// Begin marks a command of kind as running. The returned func ends it and
// records its latency and outcome.
func (m *Metrics) Begin(kind Kind) func(failed bool) {
	start := time.Now()
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
	return func(failed bool) {
		d := time.Since(start)
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
		m.Record(kind, d, failed)
	}
}

// Record adds one finished command of kind that took d.
func (m *Metrics) Record(kind Kind, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsLocked(kind).observe(d, failed)
}

func (m *Metrics) statsLocked(kind Kind) *kindStats {
	s, ok := m.kinds[kind]
	if !ok {
		s = &kindStats{}
		m.kinds[kind] = s
	}
	return s
}

// Snapshot copies the current counters. Kinds with no failures have no
// Failures entry.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Commands:   make(map[string]int64, len(m.kinds)),
		Failures:   make(map[string]int64),
		Latency:    make(map[string]LatencyStats, len(m.kinds)),
		InFlight:   m.inFlight,
		Goroutines: runtime.NumGoroutine(),
	}
	for kind, s := range m.kinds {
		name := string(kind)
		snap.Commands[name] = s.count
		if s.failures > 0 {
			snap.Failures[name] = s.failures
		}
		if len(s.window) == 0 {
			continue
		}
		sorted := slices.Clone(s.window)
		slices.Sort(sorted)
		snap.Latency[name] = LatencyStats{
			P50: percentile(sorted, 50),
			P95: percentile(sorted, 95),
			P99: percentile(sorted, 99),
		}
	}
	return snap
}

// percentile picks the sample at index len*pct/100 of sorted, in
// milliseconds.
func percentile(sorted []time.Duration, pct int) int64 {
	return sorted[len(sorted)*pct/100].Milliseconds()
}

// MetricsSnapshot is logged when the helper shuts down.
type MetricsSnapshot struct {
	Commands   map[string]int64        `json:"commands"`
	Failures   map[string]int64        `json:"failures"`
	Latency    map[string]LatencyStats `json:"latency_ms"`
	InFlight   int64                   `json:"in_flight"`
	Goroutines int                     `json:"goroutines"`
}

// LatencyStats holds latency percentiles in milliseconds.
type LatencyStats struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}
