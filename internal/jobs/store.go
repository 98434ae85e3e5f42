package jobs

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the persisted state of a job row. Successful jobs are deleted,
// so there is no completed status.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

// Record is a job as stored.
type Record struct {
	ID        int64
	Queue     QueueName
	Name      Name
	Payload   []byte
	Status    Status
	Attempts  int
	RunAt     time.Time
	LastError string
	CreatedAt time.Time
	// ClaimedBy and LeaseUntil are set while the job is active.
	ClaimedBy  string
	LeaseUntil time.Time
}

// Lease names the worker claiming a job and how long the claim holds
// without renewal. An active job whose lease ran out is presumed orphaned
// by a dead process.
type Lease struct {
	Worker string
	Until  time.Time
}

// Counts are the per-state job counts of a queue. Delayed jobs are waiting
// jobs whose retry time has not come yet.
type Counts struct {
	Active  int64 `json:"active"`
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Store persists jobs. Implementations must make Claim atomic across
// processes sharing the store.
type Store interface {
	// Enqueue records jobs and returns how many were inserted. A job whose
	// (name, payload) is already waiting is skipped.
	Enqueue(ctx context.Context, recs ...Record) (int, error)
	// Claim marks the oldest runnable waiting job of an unpaused queue as
	// active under lease, increments its attempts and returns it; nil when
	// none.
	Claim(ctx context.Context, queue QueueName, now time.Time, lease Lease) (*Record, error)
	// Renew extends the lease of the listed jobs still held by
	// lease.Worker.
	Renew(ctx context.Context, lease Lease, ids ...int64) error
	// Complete deletes a finished job. Complete, Retry and Fail do nothing
	// when worker no longer holds the job.
	Complete(ctx context.Context, id int64, worker string) error
	// Retry puts an active job back to waiting, runnable at runAt.
	Retry(ctx context.Context, id int64, worker string, runAt time.Time, lastErr string) error
	// Fail marks a job failed; failed jobs are never claimed again.
	Fail(ctx context.Context, id int64, worker string, lastErr string) error
	Counts(ctx context.Context, queue QueueName, now time.Time) (Counts, error)
	// Empty deletes waiting and delayed jobs, leaving active ones alone.
	Empty(ctx context.Context, queue QueueName) (int64, error)
	// RequeueActive returns active jobs to waiting when they are held by
	// worker or their lease expired before now. Jobs leased by other live
	// workers are left alone. An empty worker only requeues expired leases.
	RequeueActive(ctx context.Context, worker string, now time.Time) (int64, error)
	SetPaused(ctx context.Context, queue QueueName, paused bool) error
	IsPaused(ctx context.Context, queue QueueName) (bool, error)
}

// MemoryStore is an in-process Store for tests and single-binary use
// without a database.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*Record
	paused map[QueueName]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Record), paused: make(map[QueueName]bool)}
}

func (s *MemoryStore) waitingDuplicate(name Name, payload []byte, except int64) bool {
	for id, r := range s.rows {
		if id != except && r.Status == StatusWaiting && r.Name == name && bytes.Equal(r.Payload, payload) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Enqueue(ctx context.Context, recs ...Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, rec := range recs {
		if s.waitingDuplicate(rec.Name, rec.Payload, 0) {
			continue
		}
		s.nextID++
		r := rec
		r.ID = s.nextID
		r.Status = StatusWaiting
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		s.rows[r.ID] = &r
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Claim(ctx context.Context, queue QueueName, now time.Time, lease Lease) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused[queue] {
		return nil, nil
	}

	var best *Record
	for _, r := range s.rows {
		if r.Queue != queue || r.Status != StatusWaiting || r.RunAt.After(now) {
			continue
		}
		if best == nil || r.RunAt.Before(best.RunAt) || (r.RunAt.Equal(best.RunAt) && r.ID < best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = StatusActive
	best.Attempts++
	best.ClaimedBy = lease.Worker
	best.LeaseUntil = lease.Until
	out := *best
	return &out, nil
}

// held returns the row when worker holds it as an active job.
func (s *MemoryStore) held(id int64, worker string) (*Record, bool) {
	r, ok := s.rows[id]
	if !ok || r.Status != StatusActive || r.ClaimedBy != worker {
		return nil, false
	}
	return r, true
}

func (s *MemoryStore) Renew(ctx context.Context, lease Lease, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.held(id, lease.Worker); ok {
			r.LeaseUntil = lease.Until
		}
	}
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id int64, worker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held(id, worker); ok {
		delete(s.rows, id)
	}
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, id int64, worker string, runAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.held(id, worker)
	if !ok {
		return nil
	}
	if s.waitingDuplicate(r.Name, r.Payload, id) {
		delete(s.rows, id)
		return nil
	}
	r.Status = StatusWaiting
	r.RunAt = runAt
	r.LastError = lastErr
	r.ClaimedBy, r.LeaseUntil = "", time.Time{}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id int64, worker string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.held(id, worker); ok {
		r.Status = StatusFailed
		r.LastError = lastErr
		r.ClaimedBy, r.LeaseUntil = "", time.Time{}
	}
	return nil
}

func (s *MemoryStore) Counts(ctx context.Context, queue QueueName, now time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	for _, r := range s.rows {
		if r.Queue != queue {
			continue
		}
		switch r.Status {
		case StatusActive:
			c.Active++
		case StatusFailed:
			c.Failed++
		case StatusWaiting:
			if r.RunAt.After(now) {
				c.Delayed++
			} else {
				c.Waiting++
			}
		}
	}
	return c, nil
}

func (s *MemoryStore) Empty(ctx context.Context, queue QueueName) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.rows {
		if r.Queue == queue && r.Status == StatusWaiting {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RequeueActive(ctx context.Context, worker string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.rows {
		if r.Status != StatusActive {
			continue
		}
		if !(worker != "" && r.ClaimedBy == worker) && r.LeaseUntil.After(now) {
			continue
		}
		if s.waitingDuplicate(r.Name, r.Payload, id) {
			delete(s.rows, id)
		} else {
			r.Status = StatusWaiting
			r.ClaimedBy, r.LeaseUntil = "", time.Time{}
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) SetPaused(ctx context.Context, queue QueueName, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[queue] = paused
	return nil
}

func (s *MemoryStore) IsPaused(ctx context.Context, queue QueueName) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[queue], nil
}

// Snapshot returns all rows ordered by id. Tests use it to assert on the
// queue contents.
func (s *MemoryStore) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
