// Package metrics provides Prometheus instrumentation for the media pipeline.
//
// All metrics are prefixed with "media_pipeline_" and registered through
// promauto, so importing the package is enough to expose them on the
// /metrics endpoint.
//
// # Metric Categories
//
// ## Job Queues
//
//   - JobsProcessedTotal: job executions by queue, job name and outcome
//     (success, skipped, retry, failed)
//   - JobDuration: handler duration by queue and job name
//   - JobsQueuedTotal: jobs recorded in the queue store
//   - QueueActiveJobs, QueueConcurrency: live dispatcher state
//   - QueueJobs, QueuePaused: store counts refreshed by the Collector
//
// ## Processing
//
//   - ThumbnailGenerationsTotal, ThumbnailGenerationDuration
//   - TranscoderJobsTotal, TranscoderJobDuration, TranscoderJobsInProgress,
//     TranscoderHardwareFallbacks, ProbeDuration
//   - FilesMovedTotal: originals and derived files relocated by storage migrations
//   - GeodataImportsTotal, ReverseGeocodeTotal
//   - MLRequestsTotal, MLRequestDuration
//
// ## Infrastructure
//
//   - HTTP request counters and latency histograms
//   - SQLite query, transaction and file size metrics
//   - Filesystem operation and NFS retry metrics (via NewFilesystemObserver)
//
// # Collector
//
// Collector polls a StatsProvider (the queue manager and asset repository)
// on an interval and updates the gauge metrics that cannot be maintained
// incrementally.
package metrics
