package main

import (
	"context"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/metrics"
)

type queueStatusSource interface {
	AllStatus(ctx context.Context) (map[jobs.QueueName]jobs.QueueStatus, error)
}

type assetCounter interface {
	CountAssetsByType(ctx context.Context) (map[database.AssetType]int64, error)
}

type dbMetricsUpdater interface {
	UpdateDBMetrics()
}

// statsAdapter feeds the metrics collector from the job manager and the
// asset table.
type statsAdapter struct {
	status    queueStatusSource
	assets    assetCounter
	dbMetrics dbMetricsUpdater
}

// GetStats implements metrics.StatsProvider
func (a *statsAdapter) GetStats(ctx context.Context) (metrics.Stats, error) {
	if a.dbMetrics != nil {
		a.dbMetrics.UpdateDBMetrics()
	}

	status, err := a.status.AllStatus(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	counts, err := a.assets.CountAssetsByType(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	stats := metrics.Stats{
		Queues:      make(map[string]metrics.QueueStats, len(status)),
		TotalImages: counts[database.AssetTypeImage],
		TotalVideos: counts[database.AssetTypeVideo],
		TotalOther:  counts[database.AssetTypeOther],
	}
	for name, st := range status {
		stats.Queues[string(name)] = metrics.QueueStats{
			Active:  st.Active,
			Waiting: st.Waiting,
			Delayed: st.Delayed,
			Failed:  st.Failed,
			Paused:  st.Paused,
		}
	}
	return stats, nil
}
