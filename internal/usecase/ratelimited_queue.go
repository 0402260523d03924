package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
	"github.com/user/listing-monitor/pkg/metrics"
)

// RateLimitedQueue dispatches a dequeued job only once the global limiter
// grants a slot, so the dispatch rate stays bounded whatever the worker count.
// A job is never held while waiting for a slot, so limiter waits do not eat
// into its visibility lease.
type RateLimitedQueue struct {
	repository.JobQueue
	limiter repository.RateLimiter
	maxWait time.Duration
}

func NewRateLimitedQueue(queue repository.JobQueue, limiter repository.RateLimiter) *RateLimitedQueue {
	return &RateLimitedQueue{JobQueue: queue, limiter: limiter, maxWait: time.Second}
}

// Dequeue claims a job and takes a dispatch slot for it. When no slot is free
// the claim is released without counting the attempt and the claim is retried
// after the limiter's wait.
func (q *RateLimitedQueue) Dequeue(ctx context.Context, workerToken string) (*entity.ScanJob, error) {
	for {
		job, err := q.JobQueue.Dequeue(ctx, workerToken)
		if err != nil || job == nil {
			return job, err
		}
		wait, err := q.limiter.Reserve(ctx)
		if err != nil {
			if rerr := q.release(ctx, job.JobID); rerr != nil {
				return nil, rerr
			}
			return nil, fmt.Errorf("reserve dispatch slot: %w", err)
		}
		if wait <= 0 {
			return job, nil
		}
		if err := q.release(ctx, job.JobID); err != nil {
			return nil, err
		}
		metrics.RateLimitWaits.Inc()
		if wait > q.maxWait {
			wait = q.maxWait
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *RateLimitedQueue) release(ctx context.Context, jobID string) error {
	// ctx may already be done.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.JobQueue.Release(releaseCtx, jobID); err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return nil
}
