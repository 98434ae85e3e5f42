/*
Package workers sizes CPU-bound pools from the container CPU quota.

runtime.NumCPU reports the host's CPUs, so a pod limited to 2 cores on a
64-core node would otherwise start 64 libvips threads. GOMAXPROCS follows
the cgroup quota, and every helper here derives from it:

	// one per CPU, never more than 8
	n := workers.ForCPU(8)

	// an operator override wins over the derived value
	n := workers.Resolve(cfg.VipsConcurrency, 1.0, 16)
*/
package workers
