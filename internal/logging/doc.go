// Package logging provides the leveled, printf-style logging used across the
// pipeline. It is a thin facade over zerolog so callers keep the
// logging.Info("...: %v", err) form while output stays structured.
//
// Levels:
//   - DEBUG: verbose diagnostics, enabled by DEBUG=true or LOG_LEVEL=debug
//   - INFO: normal operation
//   - WARN: recoverable problems (skipped jobs, missing metadata)
//   - ERROR: failed jobs and I/O errors
//   - FATAL: startup failures that terminate the process
//
// LOG_FORMAT=json switches from the console writer to JSON lines. With
// attaches fields (queue, job, attempt) for per-job log lines.
package logging
