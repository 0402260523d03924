package repository

import (
	"context"
	"time"

	"github.com/user/listing-monitor/internal/entity"
)

// JobQueue is a durable, prioritized queue of scan jobs with retry and
// stalled-job recovery.
type JobQueue interface {
	// Enqueue adds a waiting job and returns its id.
	Enqueue(ctx context.Context, job *entity.ScanJob) (string, error)
	// Dequeue claims the highest-priority due job for workerToken and counts
	// an attempt. It returns nil, nil when nothing is due.
	Dequeue(ctx context.Context, workerToken string) (*entity.ScanJob, error)
	// Ack completes a claimed job. It returns entity.ErrJobNotActive when the
	// claim was lost.
	Ack(ctx context.Context, jobID string) error
	// Fail records a failed attempt and either schedules a retry with backoff
	// or marks the job failed for good.
	Fail(ctx context.Context, jobID string, reason string) (entity.FailOutcome, error)
	// Abandon marks a claimed job failed without retrying it.
	Abandon(ctx context.Context, jobID string, reason string) error
	// Release returns a claimed job to waiting without counting the attempt.
	Release(ctx context.Context, jobID string) error
	// Purge drops the waiting jobs of a scan and returns how many were dropped.
	Purge(ctx context.Context, scanID int64) (int, error)
	// RecoverStalled returns jobs whose claim outlived the visibility timeout
	// to waiting.
	RecoverStalled(ctx context.Context) (int, error)
	Stats(ctx context.Context) (entity.QueueStats, error)
}

// RateLimiter enforces a global ceiling of dispatches per rolling window.
type RateLimiter interface {
	// Reserve takes a slot and returns zero, or returns how long to wait
	// before a slot frees up without taking one.
	Reserve(ctx context.Context) (time.Duration, error)
}
