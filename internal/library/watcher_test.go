package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/jobs"
)

type countingRefresher struct{ calls atomic.Int32 }

func (r *countingRefresher) RefreshLibraries(context.Context) error {
	r.calls.Add(1)
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *recordingQueue) Queue(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) snapshot() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]jobs.Job(nil), q.jobs...)
}

// manualSource hands its handler to the test.
type manualSource struct {
	ready   chan struct{}
	handler func(filesystem.Event)
}

func newManualSource() *manualSource { return &manualSource{ready: make(chan struct{})} }

func (s *manualSource) Watch(ctx context.Context, _ []string, handler func(filesystem.Event)) error {
	s.handler = handler
	close(s.ready)
	<-ctx.Done()
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func run(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcherScansPeriodically(t *testing.T) {
	refresher := &countingRefresher{}
	w := New(Config{Dir: "/lib", Owner: "user1", ScanInterval: 10 * time.Millisecond}, refresher, &recordingQueue{}, nil)
	run(t, w)

	waitFor(t, "three scans", func() bool { return refresher.calls.Load() >= 3 })
	if w.Status().LastScan.IsZero() {
		t.Error("LastScan not recorded")
	}
}

func TestWatcherScansOnceWithoutInterval(t *testing.T) {
	refresher := &countingRefresher{}
	w := New(Config{Dir: "/lib", Owner: "user1"}, refresher, &recordingQueue{}, nil)
	run(t, w)

	waitFor(t, "startup scan", func() bool { return refresher.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("scans = %d, want 1", n)
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	source := newManualSource()
	queue := &recordingQueue{}
	w := New(Config{Dir: "/lib", Owner: "user1", Watch: true, Debounce: 30 * time.Millisecond},
		&countingRefresher{}, queue, source)
	run(t, w)
	<-source.ready

	for range 5 {
		source.handler(filesystem.Event{Type: filesystem.EventChange, Path: "/lib/a.jpg"})
		time.Sleep(5 * time.Millisecond)
	}
	source.handler(filesystem.Event{Type: filesystem.EventAdd, Path: "/lib/b.mp4"})
	source.handler(filesystem.Event{Type: filesystem.EventAdd, Path: "/lib/notes.txt"})
	source.handler(filesystem.Event{Type: filesystem.EventUnlink, Path: "/lib/c.jpg"})

	waitFor(t, "queued files", func() bool { return len(queue.snapshot()) == 2 })
	time.Sleep(50 * time.Millisecond)

	got := map[string]bool{}
	for _, j := range queue.snapshot() {
		asset, ok := j.(jobs.LibraryRefreshAsset)
		if !ok || asset.OwnerID != "user1" {
			t.Fatalf("unexpected job %#v", j)
		}
		got[asset.Path] = true
	}
	if len(got) != 2 || !got["/lib/a.jpg"] || !got["/lib/b.mp4"] {
		t.Errorf("queued %v", got)
	}
	if st := w.Status(); st.FilesQueued != 2 || !st.Watching {
		t.Errorf("status = %+v", st)
	}
}

func TestWatcherWithFilesystem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fsnotify test in short mode")
	}

	dir := t.TempDir()
	queue := &recordingQueue{}
	w := New(Config{Dir: dir, Owner: "user1", Watch: true, Debounce: 20 * time.Millisecond},
		&countingRefresher{}, queue, filesystem.NewStorage(filesystem.DefaultRetryConfig()))
	run(t, w)
	waitFor(t, "watch start", func() bool { return w.Status().Watching })
	// fsnotify registers directories before Watching flips, give it a moment
	time.Sleep(20 * time.Millisecond)

	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "queued photo", func() bool { return len(queue.snapshot()) >= 1 })
	if j := queue.snapshot()[0].(jobs.LibraryRefreshAsset); j.Path != path {
		t.Errorf("queued %s, want %s", j.Path, path)
	}
}
