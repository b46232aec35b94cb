package memory

import (
	"context"
	"errors"
	"runtime/debug"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, limit int64) (*Monitor, *uint64) {
	t.Helper()
	m := NewMonitor(Config{
		LimitBytes:        limit,
		CriticalWaterMark: 0.85,
		ResumeWaterMark:   0.7,
		CheckInterval:     time.Hour,
	})
	var alloc uint64
	m.alloc = func() uint64 { return alloc }
	t.Cleanup(m.Stop)
	return m, &alloc
}

func TestMonitorPauseAndResume(t *testing.T) {
	m, alloc := newTestMonitor(t, 1000)

	tests := []struct {
		name   string
		alloc  uint64
		paused bool
	}{
		{"below high", 500, false},
		{"critical", 900, true},
		{"between marks stays paused", 800, true},
		{"recovered", 600, false},
		{"between marks stays running", 800, false},
	}
	for _, tt := range tests {
		*alloc = tt.alloc
		m.check()
		if got := m.Paused(); got != tt.paused {
			t.Errorf("%s: Paused() = %v, want %v", tt.name, got, tt.paused)
		}
	}
	if got := m.Usage(); got != 0.8 {
		t.Errorf("Usage() = %v, want 0.8", got)
	}
}

func TestMonitorWait(t *testing.T) {
	m, alloc := newTestMonitor(t, 1000)

	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() while running = %v", err)
	}

	*alloc = 950
	m.check()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Wait() returned %v while paused", err)
	case <-time.After(20 * time.Millisecond):
	}

	*alloc = 100
	m.check()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() after recovery = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() not released after recovery")
	}
}

func TestMonitorWaitContext(t *testing.T) {
	m, alloc := newTestMonitor(t, 1000)
	*alloc = 950
	m.check()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}

	m.Stop()
	m.Stop()
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after Stop = %v", err)
	}
}

func TestNilMonitor(t *testing.T) {
	var m *Monitor
	m.Start()
	m.Stop()
	if err := m.Wait(context.Background()); err != nil || m.Paused() || m.Usage() != 0 {
		t.Error("nil monitor should never block or report usage")
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	if debug.SetMemoryLimit(-1) < 1<<62 {
		t.Skip("GOMEMLIMIT is set for this process")
	}
	m, alloc := newTestMonitor(t, 0)
	*alloc = 1 << 40
	m.check()
	if m.Paused() {
		t.Error("monitor without a limit paused")
	}
}

func TestConfigure(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })

	tests := []struct {
		name      string
		limit     int64
		ratio     float64
		wantLimit int64
		wantRatio float64
	}{
		{"no container limit", 0, 0.85, 0, 0},
		{"default ratio", 1000 * 1024 * 1024, 0.85, int64(float64(1000*1024*1024) * 0.85), 0.85},
		{"custom ratio", 1 << 30, 0.5, 1 << 29, 0.5},
		{"ratio out of range", 1 << 30, 1.5, int64(float64(1<<30) * DefaultRatio), DefaultRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Configure(tt.limit, tt.ratio)
			if got.GoMemLimit != tt.wantLimit || got.Ratio != tt.wantRatio {
				t.Errorf("Configure() = %+v, want limit %d ratio %v", got, tt.wantLimit, tt.wantRatio)
			}
			if tt.wantLimit > 0 && debug.SetMemoryLimit(-1) != tt.wantLimit {
				t.Errorf("runtime limit = %d, want %d", debug.SetMemoryLimit(-1), tt.wantLimit)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024 * 1024, "1.5 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
