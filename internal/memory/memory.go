package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

// Config holds memory pressure thresholds.
type Config struct {
	// LimitBytes is the soft limit to measure against (0 = use GOMEMLIMIT)
	LimitBytes int64

	// HighWaterMark is the usage ratio below which a paused monitor resumes
	HighWaterMark float64

	// CriticalWaterMark is the usage ratio at which job dispatch is held back
	CriticalWaterMark float64

	// CheckInterval is how often heap usage is sampled
	CheckInterval time.Duration
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Monitor samples heap usage and gates job dispatch while usage is
// critical. It satisfies jobs.Gate.
type Monitor struct {
	config   Config
	limit    int64
	readHeap func() uint64

	mu       sync.RWMutex
	current  uint64
	paused   bool
	resumed  chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a monitor. Without a limit it never pauses.
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < math.MaxInt64 {
			limit = goMemLimit
			logging.Info("Memory monitor using GOMEMLIMIT: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:   config,
		limit:    limit,
		readHeap: heapAlloc,
		resumed:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start begins sampling in the background.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases every waiter.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) check() {
	alloc := m.readHeap()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = alloc
	if m.limit == 0 {
		return
	}

	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.CriticalWaterMark && !m.paused:
		logging.Warn("Memory critical (%.1f%% of limit), holding back job dispatch", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.paused:
		logging.Info("Memory recovered (%.1f%% of limit), resuming job dispatch", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// Wait blocks while memory usage is critical. It returns nil once usage
// recovers or the monitor stops, and ctx.Err() if ctx ends first.
func (m *Monitor) Wait(ctx context.Context) error {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return nil
	}
	resumed := m.resumed
	m.mu.RUnlock()

	select {
	case <-resumed:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPaused reports whether dispatch is currently held back.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Stats returns the last sampled heap size, the limit and their ratio.
func (m *Monitor) Stats() (current, limit int64, usage float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current = math.MaxInt64
	if m.current <= math.MaxInt64 {
		current = int64(m.current)
	}
	if m.limit > 0 {
		usage = float64(m.current) / float64(m.limit)
	}
	return current, m.limit, usage
}
