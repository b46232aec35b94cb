/*
Package workers sizes worker pools for containerized environments.

runtime.NumCPU reports the host's CPUs, while GOMAXPROCS follows the
container's CPU limit since Go 1.19. Counts here are derived from GOMAXPROCS
and a per-kind multiplier:

	workers.ForCPU(8)   // decode or hash: 1 per CPU, at most 8
	workers.ForIO(16)   // stat and read: 2 per CPU, at most 16
	workers.ForMixed(8) // fingerprint backfill: 1.5 per CPU, at most 8

Operators can pin the count with FINGERPRINT_WORKERS; the caller's limit
still applies:

	env:
	- name: FINGERPRINT_WORKERS
	  value: "4"

Always pass a limit when the workers share a bounded resource such as the
SQLite connection pool.
*/
package workers
