package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	t.Setenv(EnvVar, "")

	cpus := runtime.GOMAXPROCS(0)

	tests := []struct {
		name     string
		kind     Kind
		limit    int
		expected int
	}{
		{"cpu unlimited", CPU, 0, cpus},
		{"io unlimited", IO, 0, cpus * 2},
		{"mixed unlimited", Mixed, 0, max(int(float64(cpus)*1.5), 1)},
		{"limit below computed", IO, 1, 1},
		{"limit above computed", CPU, cpus + 10, cpus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.kind, tt.limit); got != tt.expected {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.kind, tt.limit, got, tt.expected)
			}
		})
	}
}

func TestCountOverride(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		limit    int
		expected int
	}{
		{"override used", "6", 0, 6},
		{"override capped by limit", "6", 4, 4},
		{"zero ignored", "0", 0, runtime.GOMAXPROCS(0)},
		{"negative ignored", "-3", 0, runtime.GOMAXPROCS(0)},
		{"garbage ignored", "lots", 0, runtime.GOMAXPROCS(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvVar, tt.env)
			if got := Count(CPU, tt.limit); got != tt.expected {
				t.Errorf("Count with %s=%q = %d, want %d", EnvVar, tt.env, got, tt.expected)
			}
		})
	}
}

func TestHelpersAgreeWithCount(t *testing.T) {
	t.Setenv(EnvVar, "")

	if ForCPU(8) != Count(CPU, 8) {
		t.Error("ForCPU disagrees with Count(CPU)")
	}
	if ForIO(8) != Count(IO, 8) {
		t.Error("ForIO disagrees with Count(IO)")
	}
	if ForMixed(8) != Count(Mixed, 8) {
		t.Error("ForMixed disagrees with Count(Mixed)")
	}
	if ForCPU(0) < 1 {
		t.Error("worker count must be at least 1")
	}
}

func BenchmarkCount(b *testing.B) {
	b.Setenv(EnvVar, "")
	for b.Loop() {
		_ = Count(Mixed, 10)
	}
}
