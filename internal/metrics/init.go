package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
func InitializeMetrics(queues []string) {
	for _, q := range queues {
		QueueActiveJobs.WithLabelValues(q)
		QueueConcurrency.WithLabelValues(q)
		QueuePaused.WithLabelValues(q)
		for _, state := range []string{"active", "waiting", "delayed", "failed"} {
			QueueJobs.WithLabelValues(q, state)
		}
	}

	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	volumes := []string{"media", "database", "geodata", "unknown"}
	for _, vol := range volumes {
		for _, op := range []string{"read", "write", "stat", "readdir", "move", "unlink"} {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
		for _, op := range []string{"stat", "open"} {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, format := range []string{"jpeg", "webp", "thumbhash", "person"} {
		ThumbnailGenerationDuration.WithLabelValues(format)
		ThumbnailGenerationsTotal.WithLabelValues(format, "success")
		ThumbnailGenerationsTotal.WithLabelValues(format, "error")
	}

	for _, status := range []string{"created", "duplicate", "error"} {
		UploadsTotal.WithLabelValues(status)
	}
	for _, status := range []string{"imported", "current", "error"} {
		GeodataImportsTotal.WithLabelValues(status)
	}
	for _, result := range []string{"found", "miss", "error"} {
		ReverseGeocodeTotal.WithLabelValues(result)
	}
	for _, source := range []string{"api", "poll", "file"} {
		ConfigUpdatesTotal.WithLabelValues(source)
	}
}
