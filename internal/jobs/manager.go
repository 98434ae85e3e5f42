package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"

	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	// Attempts is the maximum number of executions of a job, first run
	// included.
	Attempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// PollInterval bounds how long a dispatcher sleeps before checking the
	// store again when it was not woken by a local enqueue.
	PollInterval time.Duration
	// Concurrency is the initial worker count per queue; missing queues
	// get 1.
	Concurrency map[QueueName]int
	// WorkerID names this process in job leases. Processes sharing a store
	// must use distinct ids; a restarted process keeping its id takes its
	// orphaned jobs back at Start instead of waiting for the lease.
	WorkerID string
	// Lease is how long a claimed job stays reserved. Running jobs are
	// renewed every third of it; jobs of a process that stopped renewing
	// go back to waiting once it runs out.
	Lease time.Duration
	// Gate, when set, is waited on before every claim. Dispatch stops
	// claiming new work while it blocks; running jobs are unaffected.
	Gate Gate
}

// Gate holds dispatch back, e.g. while the process is short on memory.
type Gate interface {
	Wait(ctx context.Context) error
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Attempts:     3,
		Backoff:      5 * time.Second,
		PollInterval: time.Second,
		Lease:        time.Minute,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// CompleteFunc is called after a handler succeeded. It is not called for
// skipped or failed jobs.
type CompleteFunc func(ctx context.Context, job Job) error

// QueueStatus is the reported state of one queue.
type QueueStatus struct {
	Counts
	Completed int64 `json:"completed"`
	Paused    bool  `json:"paused"`
	IsActive  bool  `json:"isActive"`
}

type queue struct {
	name      QueueName
	limiter   *limiter
	wake      chan struct{}
	completed atomic.Int64
}

func (q *queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Manager owns the queues: it records jobs in the store and, once started,
// runs one dispatcher per queue that claims jobs and hands them to the
// registry's handlers with at most the queue's concurrency in flight.
type Manager struct {
	store    Store
	registry *Registry
	opts     Options
	queues   map[QueueName]*queue

	mu         sync.Mutex
	onComplete []CompleteFunc
	started    bool
	stop       chan struct{}
	stopLeases chan struct{}
	dispatch   sync.WaitGroup
	inflight   sync.WaitGroup
	leases     sync.WaitGroup

	runMu   sync.Mutex
	running map[int64]struct{}

	now func() time.Time
}

// NewManager creates a manager over store. Handlers come from registry.
func NewManager(store Store, registry *Registry, opts Options) *Manager {
	def := DefaultOptions()
	if opts.Attempts < 1 {
		opts.Attempts = def.Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Lease <= 0 {
		opts.Lease = def.Lease
	}
	if opts.WorkerID == "" {
		opts.WorkerID = defaultWorkerID()
	}

	m := &Manager{
		store:    store,
		registry: registry,
		opts:     opts,
		queues:   make(map[QueueName]*queue, len(AllQueues)),
		running:  make(map[int64]struct{}),
		now:      time.Now,
	}
	for _, name := range AllQueues {
		n := opts.Concurrency[name]
		if n < 1 {
			n = 1
		}
		m.queues[name] = &queue{name: name, limiter: newLimiter(n), wake: make(chan struct{}, 1)}
		metrics.QueueConcurrency.WithLabelValues(string(name)).Set(float64(n))
	}
	return m
}

// OnComplete adds a hook run after every successful job.
func (m *Manager) OnComplete(fn CompleteFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

func toRecord(job Job, now time.Time) (Record, error) {
	queueName, ok := QueueFor(job.Name())
	if !ok {
		return Record{}, fmt.Errorf("job %s is not declared", job.Name())
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s payload: %w", job.Name(), err)
	}
	return Record{Queue: queueName, Name: job.Name(), Payload: payload, RunAt: now, CreatedAt: now}, nil
}

// Queue records a job. It returns once the job is stored, not when it ran.
func (m *Manager) Queue(ctx context.Context, job Job) error {
	return m.QueueAll(ctx, job)
}

// QueueAll records several jobs in one store call.
func (m *Manager) QueueAll(ctx context.Context, batch ...Job) error {
	if len(batch) == 0 {
		return nil
	}
	now := m.now()
	recs := make([]Record, 0, len(batch))
	for _, job := range batch {
		rec, err := toRecord(job, now)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	if _, err := m.store.Enqueue(ctx, recs...); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	woken := map[QueueName]bool{}
	for _, rec := range recs {
		metrics.JobsQueuedTotal.WithLabelValues(string(rec.Queue), string(rec.Name)).Inc()
		if !woken[rec.Queue] {
			m.queues[rec.Queue].notify()
			woken[rec.Queue] = true
		}
	}
	return nil
}

// GetJobCounts returns the per-state counts of a queue. Completed counts
// jobs finished by this process since it started.
func (m *Manager) GetJobCounts(ctx context.Context, name QueueName) (QueueStatus, error) {
	q, ok := m.queues[name]
	if !ok {
		return QueueStatus{}, fmt.Errorf("unknown queue %q", name)
	}
	counts, err := m.store.Counts(ctx, name, m.now())
	if err != nil {
		return QueueStatus{}, err
	}
	paused, err := m.store.IsPaused(ctx, name)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		Counts:    counts,
		Completed: q.completed.Load(),
		Paused:    paused,
		IsActive:  counts.Active > 0,
	}, nil
}

// IsActive reports whether any job of the queue is executing.
func (m *Manager) IsActive(ctx context.Context, name QueueName) (bool, error) {
	counts, err := m.store.Counts(ctx, name, m.now())
	if err != nil {
		return false, err
	}
	return counts.Active > 0, nil
}

// Empty discards waiting and delayed jobs. Running jobs finish normally.
func (m *Manager) Empty(ctx context.Context, name QueueName) (int64, error) {
	n, err := m.store.Empty(ctx, name)
	if err != nil {
		return 0, err
	}
	logging.Info("Emptied queue %s: %d jobs removed", name, n)
	return n, nil
}

// Pause stops the queue from claiming new jobs, in every process sharing
// the store.
func (m *Manager) Pause(ctx context.Context, name QueueName) error {
	return m.store.SetPaused(ctx, name, true)
}

// Resume undoes Pause.
func (m *Manager) Resume(ctx context.Context, name QueueName) error {
	if err := m.store.SetPaused(ctx, name, false); err != nil {
		return err
	}
	if q, ok := m.queues[name]; ok {
		q.notify()
	}
	return nil
}

// SetConcurrency changes the worker count of a queue. Jobs already running
// are not affected; the new limit applies to the next dispatch.
func (m *Manager) SetConcurrency(name QueueName, n int) {
	q, ok := m.queues[name]
	if !ok {
		return
	}
	if n < 1 {
		n = 1
	}
	q.limiter.setLimit(n)
	metrics.QueueConcurrency.WithLabelValues(string(name)).Set(float64(n))
	q.notify()
}

// Concurrency returns the current worker count of a queue.
func (m *Manager) Concurrency(name QueueName) int {
	q, ok := m.queues[name]
	if !ok {
		return 0
	}
	limit, _ := q.limiter.size()
	return limit
}

// WorkerID returns the name this manager holds job leases under.
func (m *Manager) WorkerID() string {
	return m.opts.WorkerID
}

func (m *Manager) lease() Lease {
	return Lease{Worker: m.opts.WorkerID, Until: m.now().Add(m.opts.Lease)}
}

// Start verifies the registry, returns jobs orphaned by a previous run of
// this worker or by a worker whose lease expired to waiting and launches
// the dispatchers. Jobs other live workers are running are left alone.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("job manager already started")
	}
	if err := m.registry.Verify(); err != nil {
		return fmt.Errorf("job registry: %w", err)
	}

	n, err := m.store.RequeueActive(ctx, m.opts.WorkerID, m.now())
	if err != nil {
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if n > 0 {
		logging.Warn("Requeued %d jobs interrupted by a previous shutdown", n)
	}

	m.started = true
	m.stop = make(chan struct{})
	m.stopLeases = make(chan struct{})
	m.leases.Add(1)
	go m.keepLeases(m.stopLeases)
	for _, name := range AllQueues {
		q := m.queues[name]
		m.dispatch.Add(1)
		go m.runQueue(q, m.stop)
	}
	logging.Info("Job dispatchers started for %d queues as worker %s", len(m.queues), m.opts.WorkerID)
	return nil
}

// Stop halts dispatching and waits for running jobs until ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stop)
	stopLeases := m.stopLeases
	m.mu.Unlock()

	m.dispatch.Wait()

	// leases are renewed until the running jobs are done or abandoned
	defer func() {
		close(stopLeases)
		m.leases.Wait()
	}()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Info("All running jobs finished")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

func (m *Manager) runQueue(q *queue, stop <-chan struct{}) {
	defer m.dispatch.Done()

	stopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-stopCtx.Done():
		}
	}()

	for {
		if err := q.limiter.acquire(stopCtx); err != nil {
			return
		}
		if m.opts.Gate != nil {
			if err := m.opts.Gate.Wait(stopCtx); err != nil {
				q.limiter.release()
				return
			}
		}

		rec, ok := m.nextRecord(stopCtx, q)
		if !ok {
			q.limiter.release()
			return
		}

		m.inflight.Add(1)
		m.track(rec.ID, true)
		metrics.QueueActiveJobs.WithLabelValues(string(q.name)).Inc()
		go func() {
			defer func() {
				metrics.QueueActiveJobs.WithLabelValues(string(q.name)).Dec()
				m.track(rec.ID, false)
				q.limiter.release()
				m.inflight.Done()
			}()
			m.execute(q, rec)
		}()
	}
}

// nextRecord blocks until a job is claimed or the dispatcher is stopped.
func (m *Manager) nextRecord(ctx context.Context, q *queue) (*Record, bool) {
	for {
		rec, err := m.store.Claim(ctx, q.name, m.now(), m.lease())
		if err != nil && ctx.Err() == nil {
			logging.Error("Claiming job from %s failed: %v", q.name, err)
		}
		if rec != nil {
			return rec, true
		}

		timer := time.NewTimer(m.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Manager) execute(q *queue, rec *Record) {
	// Running jobs are not cancelled by Stop; they finish or the process
	// exits.
	ctx := context.Background()
	log := logging.With("queue", string(q.name), "job", string(rec.Name), "id", rec.ID, "attempt", rec.Attempts)
	start := m.now()

	job, err := m.run(ctx, rec)
	metrics.JobDuration.WithLabelValues(string(q.name), string(rec.Name)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		m.finish(ctx, q, rec, "success")
		log.Debug("Job completed in %v", time.Since(start))
		m.runHooks(ctx, job, log)

	case errors.Is(err, ErrSkipped):
		m.finish(ctx, q, rec, "skipped")
		log.Debug("Job skipped: %v", err)

	case IsPermanent(err) || rec.Attempts >= m.opts.Attempts:
		if ferr := m.store.Fail(ctx, rec.ID, m.opts.WorkerID, err.Error()); ferr != nil {
			log.Error("Recording job failure: %v", ferr)
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(q.name), string(rec.Name), "failed").Inc()
		log.Error("Job failed: %v", err)

	default:
		delay := m.backoff(rec.Attempts)
		if rerr := m.store.Retry(ctx, rec.ID, m.opts.WorkerID, m.now().Add(delay), err.Error()); rerr != nil {
			log.Error("Scheduling retry: %v", rerr)
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(q.name), string(rec.Name), "retry").Inc()
		log.Warn("Job failed, retrying in %v: %v", delay, err)
	}
}

func (m *Manager) run(ctx context.Context, rec *Record) (job Job, err error) {
	h, ok := m.registry.lookup(rec.Name)
	if !ok {
		return nil, Permanent(fmt.Errorf("no handler for job %s", rec.Name))
	}
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(ctx, rec.Payload)
}

func (m *Manager) finish(ctx context.Context, q *queue, rec *Record, status string) {
	if err := m.store.Complete(ctx, rec.ID, m.opts.WorkerID); err != nil {
		logging.Error("Completing job %d: %v", rec.ID, err)
	}
	q.completed.Add(1)
	metrics.JobsProcessedTotal.WithLabelValues(string(q.name), string(rec.Name), status).Inc()
}

func (m *Manager) track(id int64, running bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if running {
		m.running[id] = struct{}{}
	} else {
		delete(m.running, id)
	}
}

func (m *Manager) runningIDs() []int64 {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// keepLeases renews the leases of running jobs and hands jobs of workers
// that stopped renewing back to the queues.
func (m *Manager) keepLeases(stop <-chan struct{}) {
	defer m.leases.Done()

	ticker := time.NewTicker(m.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.renewLeases()
		}
	}
}

func (m *Manager) renewLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Lease/3)
	defer cancel()

	if ids := m.runningIDs(); len(ids) > 0 {
		if err := m.store.Renew(ctx, m.lease(), ids...); err != nil {
			logging.Error("Renewing leases of %d running jobs: %v", len(ids), err)
		}
	}

	n, err := m.store.RequeueActive(ctx, "", m.now())
	if err != nil {
		logging.Error("Requeueing jobs with expired leases: %v", err)
		return
	}
	if n > 0 {
		logging.Warn("Requeued %d jobs whose worker stopped renewing its lease", n)
		for _, q := range m.queues {
			q.notify()
		}
	}
}

func (m *Manager) runHooks(ctx context.Context, job Job, log logging.Fields) {
	m.mu.Lock()
	hooks := append([]CompleteFunc(nil), m.onComplete...)
	m.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx, job); err != nil {
			log.Error("Queueing follow-up jobs: %v", err)
		}
	}
}

// backoff returns Backoff * 2^(attempt-1).
func (m *Manager) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := m.opts.Backoff
	for i := 1; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

// AllStatus returns the status of every queue.
func (m *Manager) AllStatus(ctx context.Context) (map[QueueName]QueueStatus, error) {
	out := make(map[QueueName]QueueStatus, len(AllQueues))
	for _, name := range AllQueues {
		st, err := m.GetJobCounts(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = st
	}
	return out, nil
}
