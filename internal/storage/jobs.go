package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kirokuhq/kiroku/internal/model"
)

// EnqueueJob inserts a pending job and returns its id. next_retry_at
// defaults to now, so the job is claimable immediately.
func (db *DB) EnqueueJob(ctx context.Context, jobType model.JobType, payload model.JobPayload) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO background_jobs (type, payload)
		 VALUES ($1, $2)
		 RETURNING id`,
		jobType, payload,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: enqueue job: %w", err)
	}
	return id, nil
}

// ClaimJob atomically leases one eligible job: status pending or failed,
// next_retry_at due, retry_count under budget, oldest first. The row is
// marked processing and its retry_count incremented in the same statement.
// next_retry_at is stamped with the claim time; while the row is
// processing it doubles as the lease timestamp that RequeueStaleJobs
// checks. FOR UPDATE SKIP LOCKED guarantees no two claimers (in-process
// or cross-process) ever receive the same row, without blocking each
// other. Returns nil when no job is eligible.
func (db *DB) ClaimJob(ctx context.Context) (*model.Job, error) {
	var j model.Job
	err := db.pool.QueryRow(ctx,
		`UPDATE background_jobs
		 SET status = 'processing', retry_count = retry_count + 1, next_retry_at = now()
		 WHERE id = (
		     SELECT id FROM background_jobs
		     WHERE status IN ('pending', 'failed')
		       AND next_retry_at <= now()
		       AND retry_count < $1
		     ORDER BY created_at ASC
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING id, type, payload, status, retry_count, next_retry_at, last_error, created_at`,
		model.MaxJobAttempts,
	).Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &j.RetryCount, &j.NextRetryAt, &j.LastError, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: claim job: %w", err)
	}
	return &j, nil
}

// MarkJobDone records successful completion. retry_count and last_error
// are left untouched so the attempt history survives for audit.
func (db *DB) MarkJobDone(ctx context.Context, jobID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE background_jobs SET status = 'done' WHERE id = $1`, jobID,
	); err != nil {
		return fmt.Errorf("storage: mark job done: %w", err)
	}
	return nil
}

// MarkJobFailed records a failed attempt and schedules the next retry at
// now + 2^retryCount minutes. Once retry_count reaches the budget the row
// stays status=failed forever: the claim predicate never selects it again.
func (db *DB) MarkJobFailed(ctx context.Context, jobID uuid.UUID, retryCount int, errMsg string) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE background_jobs
		 SET status = 'failed',
		     last_error = $1,
		     next_retry_at = now() + interval '1 minute' * power(2, $2::int)
		 WHERE id = $3`,
		errMsg, retryCount, jobID,
	); err != nil {
		return fmt.Errorf("storage: mark job failed: %w", err)
	}
	return nil
}

// RequeueStaleJobs flips processing rows whose claim is older than
// olderThan back to failed so the claim predicate picks them up again.
// Such rows belong to an instance that died mid-job without marking an
// outcome; the claim already consumed the attempt, so no extra backoff
// is applied. Rows that burned the whole retry budget stay where the
// predicate ignores them, same as any other dead-lettered job. Returns
// the number of requeued jobs.
func (db *DB) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE background_jobs
		 SET status = 'failed',
		     last_error = 'worker lost mid-job',
		     next_retry_at = now()
		 WHERE status = 'processing'
		   AND next_retry_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob fetches a job by id.
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	var j model.Job
	err := db.pool.QueryRow(ctx,
		`SELECT id, type, payload, status, retry_count, next_retry_at, last_error, created_at
		 FROM background_jobs WHERE id = $1`, jobID,
	).Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &j.RetryCount, &j.NextRetryAt, &j.LastError, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, fmt.Errorf("storage: job %s: %w", jobID, ErrNotFound)
		}
		return model.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return j, nil
}

// CountClaimableJobs returns the number of jobs the claim predicate would
// currently consider. Used by the worker's depth gauge.
func (db *DB) CountClaimableJobs(ctx context.Context) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM background_jobs
		 WHERE status IN ('pending', 'failed')
		   AND next_retry_at <= now()
		   AND retry_count < $1`,
		model.MaxJobAttempts,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count claimable jobs: %w", err)
	}
	return n, nil
}
