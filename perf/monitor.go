// Package perf measures query latency for the monitoring dashboard.
// It keeps a bounded window of recent durations per operation name and
// flags operations that run slower than a configurable threshold.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultWindow is how many recent samples are retained per operation.
	defaultWindow = 100

	// defaultSlowThreshold is the duration above which an operation is
	// logged as slow.
	defaultSlowThreshold = time.Second
)

// OpStats summarizes the current sample window of one operation.
type OpStats struct {
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P95   time.Duration `json:"p95"`
}

// Monitor 操作耗时监控器
// 按操作名保留最近的耗时样本, 超过容量时淘汰最旧的样本
type Monitor struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
	window  int
	slow    time.Duration
}

// New creates a monitor.
// window: samples retained per operation, <= 0 means 100
// slow: slow-operation threshold, <= 0 means 1s
func New(window int, slow time.Duration) *Monitor {
	if window <= 0 {
		window = defaultWindow
	}
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &Monitor{
		samples: make(map[string][]time.Duration),
		window:  window,
		slow:    slow,
	}
}

var (
	defaultMonitor *Monitor
	defaultOnce    sync.Once
)

// Default returns the process-wide monitor, created on first use.
func Default() *Monitor {
	defaultOnce.Do(func() {
		defaultMonitor = New(0, 0)
	})
	return defaultMonitor
}

// StartTimer records the start of a named operation and returns a stop
// function that records the elapsed duration. The stop function must be
// called exactly once; calling it again double-counts.
func (m *Monitor) StartTimer(name string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		elapsed := time.Since(start)
		m.record(name, elapsed)
		return elapsed
	}
}

func (m *Monitor) record(name string, d time.Duration) {
	m.mu.Lock()
	window := append(m.samples[name], d)
	if len(window) > m.window {
		window = window[len(window)-m.window:]
	}
	m.samples[name] = window
	slow := d > m.slow
	m.mu.Unlock()

	if slow {
		log.Warn().Str("operation", name).Dur("elapsed", d).Msg("Slow operation detected")
	}
}

// Stats returns the statistics for one operation. The second return value
// is false when no samples have been recorded under that name.
func (m *Monitor) Stats(name string) (OpStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.samples[name]
	if !ok || len(window) == 0 {
		return OpStats{}, false
	}
	return summarize(window), true
}

// AllStats returns the statistics for every recorded operation.
func (m *Monitor) AllStats() map[string]OpStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OpStats, len(m.samples))
	for name, window := range m.samples {
		if len(window) == 0 {
			continue
		}
		out[name] = summarize(window)
	}
	return out
}

// Reset drops every recorded sample.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = make(map[string][]time.Duration)
}

// summarize computes count/avg/min/max/p95 over one window.
// P95 is the value at the floor 95th-percentile index of the sorted
// window, not interpolated.
func summarize(window []time.Duration) OpStats {
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return OpStats{
		Count: len(sorted),
		Avg:   total / time.Duration(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P95:   sorted[idx],
	}
}
