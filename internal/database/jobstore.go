package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"media-pipeline/internal/jobs"
)

// JobStore persists job queues in SQLite so every process sharing the
// database file sees the same queues.
type JobStore struct {
	d *Database
}

var _ jobs.Store = (*JobStore)(nil)

// Jobs returns the job store backed by this database.
func (d *Database) Jobs() *JobStore {
	return &JobStore{d: d}
}

func (s *JobStore) Enqueue(ctx context.Context, recs ...jobs.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	inserted := 0
	start := time.Now()
	err := s.d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO jobs (queue, name, payload, status, attempts, run_at, created_at)
			VALUES (?, ?, ?, 'waiting', 0, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now()
		for _, r := range recs {
			runAt := r.RunAt
			if runAt.IsZero() {
				runAt = now
			}
			res, err := stmt.ExecContext(ctx, string(r.Queue), string(r.Name), r.Payload, runAt.UnixMilli(), now.UnixMilli())
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	recordQuery("enqueue_jobs", start, err)
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *JobStore) Claim(ctx context.Context, queue jobs.QueueName, now time.Time, lease jobs.Lease) (*jobs.Record, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		r                          jobs.Record
		runAt, createdAt, leaseEnd int64
		queueName, jobName, status string
	)
	start := time.Now()
	err := s.d.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'active', attempts = attempts + 1, claimed_by = ?, lease_until = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND status = 'waiting' AND run_at <= ?
				AND NOT EXISTS (SELECT 1 FROM queue_state WHERE queue = ? AND paused = 1)
			ORDER BY run_at, id
			LIMIT 1
		)
		RETURNING id, queue, name, payload, status, attempts, run_at, last_error, created_at, claimed_by, lease_until`,
		lease.Worker, lease.Until.UnixMilli(), string(queue), now.UnixMilli(), string(queue)).
		Scan(&r.ID, &queueName, &jobName, &r.Payload, &status, &r.Attempts, &runAt, &r.LastError, &createdAt, &r.ClaimedBy, &leaseEnd)
	recordQuery("claim_job", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Queue = jobs.QueueName(queueName)
	r.Name = jobs.Name(jobName)
	r.Status = jobs.Status(status)
	r.RunAt = time.UnixMilli(runAt)
	r.CreatedAt = time.UnixMilli(createdAt)
	r.LeaseUntil = time.UnixMilli(leaseEnd)
	return &r, nil
}

func (s *JobStore) Renew(ctx context.Context, lease jobs.Lease, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	err := s.d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE jobs SET lease_until = ?
			WHERE id = ? AND status = 'active' AND claimed_by = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, lease.Until.UnixMilli(), id, lease.Worker); err != nil {
				return err
			}
		}
		return nil
	})
	recordQuery("renew_job_leases", start, err)
	return err
}

func (s *JobStore) Complete(ctx context.Context, id int64, worker string) error {
	_, err := s.d.exec(ctx, "complete_job", `
		DELETE FROM jobs WHERE id = ? AND status = 'active' AND claimed_by = ?`, id, worker)
	return err
}

func (s *JobStore) Retry(ctx context.Context, id int64, worker string, runAt time.Time, lastErr string) error {
	// an identical job may have been queued while this one ran; the
	// partial unique index then rejects the update and the copy is dropped
	res, err := s.d.exec(ctx, "retry_job", `
		UPDATE OR IGNORE jobs SET status = 'waiting', run_at = ?, last_error = ?, claimed_by = '', lease_until = 0
		WHERE id = ? AND status = 'active' AND claimed_by = ?`, runAt.UnixMilli(), lastErr, id, worker)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.Complete(ctx, id, worker)
	}
	return nil
}

func (s *JobStore) Fail(ctx context.Context, id int64, worker string, lastErr string) error {
	_, err := s.d.exec(ctx, "fail_job", `
		UPDATE jobs SET status = 'failed', last_error = ?, claimed_by = '', lease_until = 0
		WHERE id = ? AND status = 'active' AND claimed_by = ?`, lastErr, id, worker)
	return err
}

func (s *JobStore) Counts(ctx context.Context, queue jobs.QueueName, now time.Time) (jobs.Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c jobs.Counts
	start := time.Now()
	err := s.d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'active'), 0),
			COALESCE(SUM(status = 'waiting' AND run_at <= ?), 0),
			COALESCE(SUM(status = 'waiting' AND run_at > ?), 0),
			COALESCE(SUM(status = 'failed'), 0)
		FROM jobs WHERE queue = ?`, now.UnixMilli(), now.UnixMilli(), string(queue)).
		Scan(&c.Active, &c.Waiting, &c.Delayed, &c.Failed)
	recordQuery("count_jobs", start, err)
	return c, err
}

func (s *JobStore) Empty(ctx context.Context, queue jobs.QueueName) (int64, error) {
	res, err := s.d.exec(ctx, "empty_queue", `DELETE FROM jobs WHERE queue = ? AND status = 'waiting'`, string(queue))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// orphaned matches active jobs held by a worker (when not empty) or whose
// lease ran out.
const orphaned = `status = 'active' AND ((? <> '' AND claimed_by = ?) OR lease_until <= ?)`

func (s *JobStore) RequeueActive(ctx context.Context, worker string, now time.Time) (int64, error) {
	res, err := s.d.exec(ctx, "requeue_active", `
		UPDATE OR IGNORE jobs SET status = 'waiting', claimed_by = '', lease_until = 0
		WHERE `+orphaned, worker, worker, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	// leftovers collided with an identical waiting job
	dropped, err := s.d.exec(ctx, "requeue_active", `DELETE FROM jobs WHERE `+orphaned, worker, worker, now.UnixMilli())
	if err != nil {
		return n, err
	}
	d, _ := dropped.RowsAffected()
	return n + d, nil
}

func (s *JobStore) SetPaused(ctx context.Context, queue jobs.QueueName, paused bool) error {
	_, err := s.d.exec(ctx, "set_queue_paused", `
		INSERT INTO queue_state (queue, paused) VALUES (?, ?)
		ON CONFLICT(queue) DO UPDATE SET paused = excluded.paused`, string(queue), paused)
	return err
}

func (s *JobStore) IsPaused(ctx context.Context, queue jobs.QueueName) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var paused bool
	start := time.Now()
	err := s.d.db.QueryRowContext(ctx, `SELECT paused FROM queue_state WHERE queue = ?`, string(queue)).Scan(&paused)
	recordQuery("is_queue_paused", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return paused, err
}
