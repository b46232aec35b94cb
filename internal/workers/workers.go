package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvVar overrides every computed worker count when set to a positive integer.
const EnvVar = "FINGERPRINT_WORKERS"

// Kind is the workers-per-CPU multiplier for a class of work.
type Kind float64

const (
	// CPU is for decode and hash work: one worker per CPU.
	CPU Kind = 1.0
	// IO is for stat and read heavy work: two workers per CPU.
	IO Kind = 2.0
	// Mixed is for read-then-decode work such as fingerprint backfill.
	Mixed Kind = 1.5
)

// Count returns the worker count for a task of the given kind. It respects
// container CPU limits via GOMAXPROCS. limit caps the result; 0 means no cap.
// The FINGERPRINT_WORKERS environment variable takes precedence over the
// computed value but is still capped by limit.
func Count(kind Kind, limit int) int {
	if n, ok := override(); ok {
		return capAt(n, limit)
	}

	n := int(float64(runtime.GOMAXPROCS(0)) * float64(kind))
	return capAt(max(n, 1), limit)
}

// ForCPU returns the worker count for CPU-bound tasks.
func ForCPU(limit int) int {
	return Count(CPU, limit)
}

// ForIO returns the worker count for I/O-bound tasks.
func ForIO(limit int) int {
	return Count(IO, limit)
}

// ForMixed returns the worker count for mixed tasks.
func ForMixed(limit int) int {
	return Count(Mixed, limit)
}

func override() (int, bool) {
	v := os.Getenv(EnvVar)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func capAt(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
