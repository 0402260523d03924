package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/listing-monitor/internal/entity"
)

type queuedJob struct {
	job         entity.ScanJob
	seq         uint64
	availableAt time.Time
	leaseUntil  time.Time
}

// QueueRepoImpl is a single-process job queue with the same retry, priority
// and visibility timeout semantics as the Redis queue.
type QueueRepoImpl struct {
	mu         sync.Mutex
	policy     entity.RetryPolicy
	visibility time.Duration
	now        func() time.Time

	seq       uint64
	jobs      map[string]*queuedJob
	completed int64
	failed    int64
}

func NewQueueRepo(policy entity.RetryPolicy, visibility time.Duration) *QueueRepoImpl {
	return &QueueRepoImpl{
		policy:     policy,
		visibility: visibility,
		now:        time.Now,
		jobs:       make(map[string]*queuedJob),
	}
}

// SetClock replaces the queue's time source.
func (q *QueueRepoImpl) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *QueueRepoImpl) Enqueue(_ context.Context, job *entity.ScanJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := *job
	if j.JobID == "" {
		j.JobID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = q.now()
	}
	j.Priority = entity.ClampPriority(j.Priority)
	j.State = entity.JobWaiting
	j.AttemptCount = 0
	q.seq++
	q.jobs[j.JobID] = &queuedJob{job: j, seq: q.seq, availableAt: j.EnqueuedAt}
	return j.JobID, nil
}

func (q *QueueRepoImpl) Dequeue(_ context.Context, workerToken string) (*entity.ScanJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var best *queuedJob
	for _, j := range q.jobs {
		if j.job.State != entity.JobWaiting || j.availableAt.After(now) {
			continue
		}
		if best == nil || j.job.Priority > best.job.Priority ||
			(j.job.Priority == best.job.Priority && j.seq < best.seq) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.job.State = entity.JobActive
	best.job.WorkerToken = workerToken
	best.job.AttemptCount++
	best.leaseUntil = now.Add(q.visibility)
	out := best.job
	return &out, nil
}

func (q *QueueRepoImpl) active(jobID string) (*queuedJob, error) {
	j, ok := q.jobs[jobID]
	if !ok || j.job.State != entity.JobActive {
		return nil, entity.ErrJobNotActive
	}
	return j, nil
}

func (q *QueueRepoImpl) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.active(jobID); err != nil {
		return err
	}
	delete(q.jobs, jobID)
	q.completed++
	return nil
}

func (q *QueueRepoImpl) Fail(_ context.Context, jobID string, reason string) (entity.FailOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.active(jobID)
	if err != nil {
		return "", err
	}
	j.job.LastError = reason
	j.job.WorkerToken = ""
	if q.policy.Exhausted(j.job.AttemptCount) {
		j.job.State = entity.JobFailed
		q.failed++
		return entity.FailExhausted, nil
	}
	j.job.State = entity.JobWaiting
	j.availableAt = q.now().Add(q.policy.Backoff(j.job.AttemptCount))
	return entity.FailRetried, nil
}

func (q *QueueRepoImpl) Abandon(_ context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.active(jobID)
	if err != nil {
		return err
	}
	j.job.LastError = reason
	j.job.WorkerToken = ""
	j.job.State = entity.JobFailed
	q.failed++
	return nil
}

func (q *QueueRepoImpl) Release(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.active(jobID)
	if err != nil {
		return err
	}
	j.job.State = entity.JobWaiting
	j.job.WorkerToken = ""
	if j.job.AttemptCount > 0 {
		j.job.AttemptCount--
	}
	j.availableAt = q.now()
	return nil
}

func (q *QueueRepoImpl) Purge(_ context.Context, scanID int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, j := range q.jobs {
		if j.job.ScanID == scanID && j.job.State == entity.JobWaiting {
			delete(q.jobs, id)
			n++
		}
	}
	return n, nil
}

func (q *QueueRepoImpl) RecoverStalled(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	n := 0
	for _, j := range q.jobs {
		if j.job.State == entity.JobActive && now.After(j.leaseUntil) {
			j.job.State = entity.JobWaiting
			j.job.WorkerToken = ""
			j.availableAt = now
			n++
		}
	}
	return n, nil
}

func (q *QueueRepoImpl) Stats(context.Context) (entity.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := entity.QueueStats{Completed: q.completed, Failed: q.failed}
	for _, j := range q.jobs {
		switch j.job.State {
		case entity.JobWaiting:
			s.Waiting++
		case entity.JobActive:
			s.Active++
		}
	}
	return s, nil
}

// Job returns a copy of a job still held by the queue.
func (q *QueueRepoImpl) Job(jobID string) (entity.ScanJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return entity.ScanJob{}, false
	}
	return j.job, true
}
