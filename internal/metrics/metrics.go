package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Job queue metrics
var (
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_jobs_processed_total",
			Help: "Total number of job executions by outcome",
		},
		[]string{"queue", "job", "status"}, // success, skipped, retry, failed
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"queue", "job"},
	)

	JobsQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_jobs_queued_total",
			Help: "Total number of jobs recorded in the queue store",
		},
		[]string{"queue", "job"},
	)

	QueueActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_queue_active_jobs",
			Help: "Jobs currently executing per queue",
		},
		[]string{"queue"},
	)

	QueueConcurrency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_queue_concurrency",
			Help: "Configured worker concurrency per queue",
		},
		[]string{"queue"},
	)

	QueueJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_queue_jobs",
			Help: "Jobs per queue and state as last seen by the collector",
		},
		[]string{"queue", "state"}, // waiting, delayed, active, failed
	)

	QueuePaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_queue_paused",
			Help: "Whether the queue is paused (1) or running (0)",
		},
		[]string{"queue"},
	)
)

// Asset metrics
var (
	AssetsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_assets_total",
			Help: "Total number of assets by type",
		},
		[]string{"type"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"status"}, // created, duplicate, error
	)

	FilesMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_files_moved_total",
			Help: "Originals and derived files moved to their canonical location",
		},
		[]string{"kind"},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"format", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"format"},
	)
)

// Transcoder metrics
var (
	TranscoderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_transcoder_jobs_total",
			Help: "Total number of transcoding runs",
		},
		[]string{"codec", "accel", "status"},
	)

	TranscoderJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_transcoder_job_duration_seconds",
			Help:    "Transcoding duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	TranscoderJobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_transcoder_jobs_in_progress",
			Help: "Number of ffmpeg processes currently running",
		},
	)

	TranscoderHardwareFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_transcoder_hw_fallbacks_total",
			Help: "Hardware encodes retried in software",
		},
		[]string{"accel"},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_probe_duration_seconds",
			Help:    "ffprobe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// Metadata, geocoding and machine learning metrics
var (
	GeodataImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_geodata_imports_total",
			Help: "Geodata import attempts by outcome",
		},
		[]string{"status"}, // imported, current, error
	)

	GeodataImportDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_geodata_import_duration_seconds",
			Help: "Duration of the last geodata import",
		},
	)

	ReverseGeocodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_reverse_geocode_total",
			Help: "Reverse geocode lookups by result",
		},
		[]string{"result"}, // found, miss, error
	)

	MLRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_ml_requests_total",
			Help: "Machine learning requests by task and outcome",
		},
		[]string{"task", "status"},
	)

	MLRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_ml_request_duration_seconds",
			Help:    "Machine learning request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)

	ConfigUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_config_updates_total",
			Help: "System configuration changes observed by source",
		},
		[]string{"source"}, // api, poll, file
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the Go memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_memory_paused",
			Help: "1 while job dispatch is held back by memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_memory_gc_pauses_total",
			Help: "Times job dispatch was held back and a GC forced",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_operation_errors_total",
			Help: "Filesystem operation errors",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_retry_attempts_total",
			Help: "Filesystem operations retried after a stale NFS handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_filesystem_retry_duration_seconds",
			Help:    "Total duration of retried filesystem operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_stale_errors_total",
			Help: "ESTALE errors seen by filesystem operations",
		},
		[]string{"operation", "volume"},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
