// Package monitor reports pipeline health while live capture runs.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Collector supplies metrics to include in each periodic report.
// Implementations must be safe for concurrent use.
type Collector interface {
	CollectMetrics() map[string]float64
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func() map[string]float64

func (f CollectorFunc) CollectMetrics() map[string]float64 { return f() }

// Options configures a Monitor.
type Options struct {
	// ReportInterval is how often a report line is logged.
	ReportInterval time.Duration
	// MaxSamples bounds the retained latency samples per operation.
	MaxSamples int
}

// opStats aggregates latency samples for one named operation.
type opStats struct {
	samplesMs []float64
	count     int64
	totalMs   float64
	minMs     float64
	maxMs     float64
}

// Monitor samples runtime health and operation latencies and logs a
// periodic report. All methods are safe for concurrent use.
type Monitor struct {
	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startTime  time.Time
	ops        map[string]*opStats
	collectors []Collector
	frames     int64
	dropped    int64
}

// New builds a monitor. Zero option fields get defaults.
func New(opts Options, log zerolog.Logger) *Monitor {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	return &Monitor{
		opts: opts,
		log:  log,
		ops:  make(map[string]*opStats),
	}
}

// AddCollector registers a metrics source polled at each report.
func (m *Monitor) AddCollector(c Collector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = append(m.collectors, c)
}

// RecordOperation records the latency of one named operation.
func (m *Monitor) RecordOperation(name string, d time.Duration) {
	ms := float64(d.Nanoseconds()) / 1e6

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[name]
	if !ok {
		s = &opStats{minMs: ms, maxMs: ms}
		m.ops[name] = s
	}
	s.count++
	s.totalMs += ms
	if ms < s.minMs {
		s.minMs = ms
	}
	if ms > s.maxMs {
		s.maxMs = ms
	}
	if len(s.samplesMs) >= m.opts.MaxSamples {
		copy(s.samplesMs, s.samplesMs[1:])
		s.samplesMs = s.samplesMs[:len(s.samplesMs)-1]
	}
	s.samplesMs = append(s.samplesMs, ms)
}

// RecordFrame counts one delivered frame.
func (m *Monitor) RecordFrame() {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
}

// RecordDrop counts one frame that failed processing.
func (m *Monitor) RecordDrop() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

// Start launches the reporting loop. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.startTime = time.Now()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.report()
			}
		}
	}()
}

// Stop halts the reporting loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// OperationSummary describes the recorded latencies for one operation.
type OperationSummary struct {
	Count    int64   `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	RecentMs float64 `json:"recent_mean_ms"`
}

// Summary returns per-operation latency summaries.
func (m *Monitor) Summary() map[string]OperationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OperationSummary, len(m.ops))
	for name, s := range m.ops {
		sum := OperationSummary{
			Count: s.count,
			MinMs: s.minMs,
			MaxMs: s.maxMs,
		}
		if s.count > 0 {
			sum.MeanMs = s.totalMs / float64(s.count)
		}
		if len(s.samplesMs) > 0 {
			sum.RecentMs = stat.Mean(s.samplesMs, nil)
		}
		out[name] = sum
	}
	return out
}

func (m *Monitor) report() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	frames := m.frames
	dropped := m.dropped
	uptime := time.Since(m.startTime)
	collectors := make([]Collector, len(m.collectors))
	copy(collectors, m.collectors)
	m.mu.Unlock()

	evt := m.log.Info().
		Dur("uptime", uptime).
		Int64("frames", frames).
		Int64("dropped", dropped).
		Int("goroutines", runtime.NumGoroutine()).
		Uint64("heap_mb", ms.HeapAlloc>>20).
		Uint32("gc_cycles", ms.NumGC)

	for name, s := range m.Summary() {
		evt = evt.Float64(name+"_ms", s.RecentMs)
	}
	for _, c := range collectors {
		for k, v := range c.CollectMetrics() {
			evt = evt.Float64(k, v)
		}
	}
	evt.Msg("pipeline status")
}
