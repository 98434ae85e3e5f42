// Package memory keeps the pipeline inside its container memory limit.
//
// [Configure] derives GOMEMLIMIT from the container limit (usually passed
// in through the Kubernetes Downward API as MEMORY_LIMIT) and a ratio that
// reserves headroom for ffmpeg and libvips, which allocate outside the Go
// heap. An explicit GOMEMLIMIT always takes precedence.
//
// [Monitor] samples heap usage and, once it crosses the critical water
// mark, holds back job dispatch until usage falls below the high water
// mark. The job manager waits on it before claiming each job:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	opts := jobs.DefaultOptions()
//	opts.Gate = monitor
package memory
