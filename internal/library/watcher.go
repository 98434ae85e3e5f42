package library

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
)

const defaultDebounce = 2 * time.Second

// Refresher queues a full scan of every configured library.
type Refresher interface {
	RefreshLibraries(ctx context.Context) error
}

// Queue records jobs.
type Queue interface {
	Queue(ctx context.Context, job jobs.Job) error
}

// Source reports file changes below paths until ctx is done.
type Source interface {
	Watch(ctx context.Context, paths []string, handler func(filesystem.Event)) error
}

// Config describes one external library.
type Config struct {
	Dir   string
	Owner string
	// ScanInterval between full rescans; 0 scans once at startup.
	ScanInterval time.Duration
	// Watch queues single files as they are written.
	Watch bool
	// Debounce is how long a file must stay quiet before it is queued.
	Debounce time.Duration
}

// Status is the watcher state reported on the health endpoint.
type Status struct {
	LastScan    time.Time `json:"lastScan,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	FilesQueued int64     `json:"filesQueued"`
	Watching    bool      `json:"watching"`
}

// Watcher keeps an external library imported: it queues a full refresh at
// startup and every ScanInterval, and between scans it queues each media
// file that changes once writes to it have settled.
type Watcher struct {
	config    Config
	refresher Refresher
	queue     Queue
	source    Source

	mu       sync.Mutex
	pending  map[string]*time.Timer
	lastScan time.Time
	lastErr  error
	queued   atomic.Int64
	watching atomic.Bool

	wg sync.WaitGroup
}

// New creates a Watcher. source may be nil when Watch is off.
func New(config Config, refresher Refresher, queue Queue, source Source) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = defaultDebounce
	}
	return &Watcher{
		config:    config,
		refresher: refresher,
		queue:     queue,
		source:    source,
		pending:   make(map[string]*time.Timer),
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.scan(ctx)

	if w.config.Watch && w.source != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.watching.Store(true)
			defer w.watching.Store(false)
			if err := w.source.Watch(ctx, []string{w.config.Dir}, func(ev filesystem.Event) {
				w.handleEvent(ctx, ev)
			}); err != nil {
				logging.Error("Library watch on %s stopped: %v", w.config.Dir, err)
			}
		}()
	}

	if w.config.ScanInterval > 0 {
		ticker := time.NewTicker(w.config.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.stop()
				return
			case <-ticker.C:
				w.scan(ctx)
			}
		}
	}

	<-ctx.Done()
	w.stop()
}

func (w *Watcher) stop() {
	w.wg.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) scan(ctx context.Context) {
	logging.Debug("Queueing library refresh of %s", w.config.Dir)
	err := w.refresher.RefreshLibraries(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Error("Library refresh of %s failed: %v", w.config.Dir, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastScan = time.Now()
	w.lastErr = err
}

func (w *Watcher) handleEvent(ctx context.Context, ev filesystem.Event) {
	// removals are picked up by the next full scan
	if ev.Type == filesystem.EventUnlink || !mediatypes.IsMediaFile(ev.Path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Path]; ok {
		t.Reset(w.config.Debounce)
		return
	}
	path := ev.Path
	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.queueFile(ctx, path)
	})
}

func (w *Watcher) queueFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	job := jobs.LibraryRefreshAsset{OwnerID: w.config.Owner, Path: path}
	if err := w.queue.Queue(ctx, job); err != nil {
		logging.Error("Failed to queue changed library file %s: %v", path, err)
		return
	}
	w.queued.Add(1)
	logging.Debug("Queued changed library file %s", path)
}

// Status returns the last scan outcome and watch state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		LastScan:    w.lastScan,
		FilesQueued: w.queued.Load(),
		Watching:    w.watching.Load(),
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}
