package metrics

import (
	"context"
	"time"

	"media-pipeline/internal/logging"
)

// StatsProvider reports point-in-time queue and catalog statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// QueueStats holds the per-state job counts of a single queue.
type QueueStats struct {
	Active  int64
	Waiting int64
	Delayed int64
	Failed  int64
	Paused  bool
}

// Stats holds the current statistics
type Stats struct {
	Queues      map[string]QueueStats
	TotalImages int64
	TotalVideos int64
	TotalOther  int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	done          chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for the loop to exit.
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)

	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.statsProvider.GetStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	for queue, qs := range stats.Queues {
		QueueJobs.WithLabelValues(queue, "active").Set(float64(qs.Active))
		QueueJobs.WithLabelValues(queue, "waiting").Set(float64(qs.Waiting))
		QueueJobs.WithLabelValues(queue, "delayed").Set(float64(qs.Delayed))
		QueueJobs.WithLabelValues(queue, "failed").Set(float64(qs.Failed))
		paused := 0.0
		if qs.Paused {
			paused = 1
		}
		QueuePaused.WithLabelValues(queue).Set(paused)
	}

	AssetsTotal.WithLabelValues("image").Set(float64(stats.TotalImages))
	AssetsTotal.WithLabelValues("video").Set(float64(stats.TotalVideos))
	AssetsTotal.WithLabelValues("other").Set(float64(stats.TotalOther))

	logging.Debug("Metrics collected: queues=%d, images=%d, videos=%d",
		len(stats.Queues), stats.TotalImages, stats.TotalVideos)
}
