// Package jobs runs the background worker that drains the durable job
// queue. Each claimed job is dispatched to a registered handler; failures
// are rescheduled with exponential backoff until the retry budget runs out.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// DefaultPollInterval is how long the worker sleeps when the queue is empty.
const DefaultPollInterval = 2 * time.Second

// jobTimeout bounds a single handler invocation. Pipeline stages make two
// model calls plus an embedding, so the budget is generous.
const jobTimeout = 2 * time.Minute

// A processing row older than staleJobThreshold belongs to an instance
// that died without marking an outcome; the threshold must comfortably
// exceed jobTimeout so a slow but live handler is never requeued.
const (
	staleJobThreshold  = 10 * time.Minute
	staleSweepInterval = time.Minute
)

// Handler processes one claimed job.
type Handler func(ctx context.Context, payload model.JobPayload) error

// Worker polls the background_jobs table and dispatches claimed jobs.
// Multiple workers may run against the same database; the claim statement
// guarantees each job is processed by exactly one of them at a time.
type Worker struct {
	db           *storage.DB
	handlers     map[model.JobType]Handler
	logger       *slog.Logger
	pollInterval time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final sweep
}

// NewWorker creates a worker with no handlers registered.
func NewWorker(db *storage.DB, logger *slog.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{
		db:           db,
		handlers:     make(map[model.JobType]Handler),
		logger:       logger,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (w *Worker) Register(jobType model.JobType, h Handler) {
	w.handlers[jobType] = h
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("jobs: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, sweeps the remaining claimable jobs,
// and blocks until done or the context expires. The ctx parameter is passed
// to the final sweep so it respects the caller's deadline.
func (w *Worker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("jobs: drain timed out")
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	var lastStaleSweep time.Time
	for {
		select {
		case <-ctx.Done():
			// Final sweep: prefer the drain context so in-flight work
			// respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.sweep(drainCtx)
			}
			w.once.Do(func() { close(w.done) })
			return
		default:
		}

		if time.Since(lastStaleSweep) >= staleSweepInterval {
			lastStaleSweep = time.Now()
			if n, err := w.db.RequeueStaleJobs(ctx, staleJobThreshold); err != nil {
				if ctx.Err() == nil {
					w.logger.Error("jobs: stale requeue failed", "error", err)
				}
			} else if n > 0 {
				w.logger.Warn("jobs: requeued stale jobs", "count", n)
			}
		}

		job, err := w.db.ClaimJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("jobs: claim failed", "error", err)
			w.sleep(ctx, 2*w.pollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		w.process(ctx, job)
	}
}

// process dispatches one claimed job and records the outcome.
func (w *Worker) process(ctx context.Context, job *model.Job) {
	w.logger.Info("jobs: processing",
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.RetryCount,
	)

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	err := w.dispatch(jobCtx, job)
	if err == nil {
		if markErr := w.db.MarkJobDone(ctx, job.ID); markErr != nil {
			w.logger.Error("jobs: mark done failed", "job_id", job.ID, "error", markErr)
		}
		return
	}

	w.logger.Error("jobs: job failed",
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.RetryCount,
		"error", err,
	)
	// RetryCount on the claimed row is post-increment, so the backoff
	// schedule is 2, 4, 8 minutes across the three attempts.
	if markErr := w.db.MarkJobFailed(ctx, job.ID, job.RetryCount, err.Error()); markErr != nil {
		w.logger.Error("jobs: mark failed failed", "job_id", job.ID, "error", markErr)
	}
	if job.RetryCount >= model.MaxJobAttempts {
		w.logger.Warn("jobs: dead-letter",
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.RetryCount,
			"last_error", err.Error(),
		)
	}
}

func (w *Worker) dispatch(ctx context.Context, job *model.Job) error {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("jobs: unknown job type %q", job.Type)
	}
	return h(ctx, job.Payload)
}

// sweep processes every currently claimable job, for graceful shutdown.
func (w *Worker) sweep(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.db.ClaimJob(ctx)
		if err != nil || job == nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// registerMetrics registers an observable gauge for queue depth monitoring.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("kiroku/jobs")

	_, _ = meter.Int64ObservableGauge("kiroku.jobs.depth",
		metric.WithDescription("Number of claimable jobs in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := w.db.CountClaimableJobs(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(n)
			return nil
		}),
	)
}
