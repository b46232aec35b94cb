// Package memory keeps the process inside its container memory limit.
//
// Go does not derive GOMEMLIMIT from cgroup limits the way it derives
// GOMAXPROCS from CPU quotas. [Configure] sets it from the container limit
// (memory_limit, usually fed from the Kubernetes Downward API as
// MEMORY_LIMIT) scaled by memory_ratio, leaving headroom for libvips,
// which allocates outside the Go heap. An explicit GOMEMLIMIT wins.
//
// Example Downward API wiring:
//
//	env:
//	  - name: MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
//
// # Backpressure
//
// Decoding images for fingerprints is the largest allocation the service
// makes. A [Monitor] samples heap usage and, above the critical water
// mark, holds fingerprint workers in [Monitor.Wait] until usage falls
// below the resume water mark:
//
//	mon := memory.NewMonitor(memory.DefaultConfig())
//	mon.Start()
//	defer mon.Stop()
//
//	if err := mon.Wait(ctx); err != nil {
//	    return err
//	}
//
// The monitor exports mediaref_memory_usage_ratio and
// mediaref_memory_paused.
package memory
