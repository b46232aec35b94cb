package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"mediaref/internal/logging"
	"mediaref/internal/metrics"
)

// Config holds memory monitor configuration.
type Config struct {
	// LimitBytes is the limit to measure against (0 = use GOMEMLIMIT).
	LimitBytes int64

	// CriticalWaterMark is the share of the limit at which work pauses.
	CriticalWaterMark float64

	// ResumeWaterMark is the share of the limit below which work resumes.
	ResumeWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CriticalWaterMark: 0.85,
		ResumeWaterMark:   0.7,
		CheckInterval:     5 * time.Second,
	}
}

// Monitor samples heap usage and holds back fingerprint workers while it
// is above the critical water mark. A nil Monitor never blocks.
type Monitor struct {
	config Config
	limit  int64
	alloc  func() uint64

	mu       sync.Mutex
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
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
			logging.Info("Memory monitor using GOMEMLIMIT: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Debug("Memory monitor: no memory limit, backpressure disabled")
	}
	metrics.MemoryLimitBytes.Set(float64(limit))

	return &Monitor{
		config:  config,
		limit:   limit,
		alloc:   heapAlloc,
		resumed: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start begins sampling in the background.
func (m *Monitor) Start() {
	if m == nil || m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases any waiters. It is safe to call more
// than once.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
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
	alloc := m.alloc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = alloc
	if m.limit <= 0 {
		return
	}
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case !m.paused && usage >= m.config.CriticalWaterMark:
		logging.Warn("Memory critical (%.1f%% of limit), pausing fingerprint work", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryPausesTotal.Inc()
		go runtime.GC()
	case m.paused && usage < m.config.ResumeWaterMark:
		logging.Info("Memory recovered (%.1f%% of limit), resuming fingerprint work", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// Wait blocks while memory is critical. It returns ctx's error if ctx ends
// first; a stopped monitor releases every waiter.
func (m *Monitor) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return nil
	}
	resumed := m.resumed
	m.mu.Unlock()

	select {
	case <-resumed:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether work is currently held back.
func (m *Monitor) Paused() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Usage returns the last sampled heap usage as a share of the limit, or 0
// without a limit.
func (m *Monitor) Usage() float64 {
	if m == nil || m.limit == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.current) / float64(m.limit)
}
