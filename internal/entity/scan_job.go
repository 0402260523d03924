package entity

import "time"

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// ScanJob is one unit of extraction work owned by the job queue.
type ScanJob struct {
	JobID        string    `json:"job_id"`
	ScanID       int64     `json:"scan_id"`
	Target       Target    `json:"target"`
	Priority     int       `json:"priority"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"-"`
	State        JobState  `json:"-"`
	WorkerToken  string    `json:"-"`
	LastError    string    `json:"-"`
}

// FailOutcome is the result of reporting a failed attempt to the queue.
type FailOutcome string

const (
	FailRetried   FailOutcome = "retried"
	FailExhausted FailOutcome = "exhausted"
)

// QueueStats counts jobs by state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// MaxPriority bounds ScanJob.Priority; higher runs first.
const MaxPriority = 9

// ClampPriority keeps p within [0, MaxPriority].
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// RetryPolicy decides how often and how late a failed job runs again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Exhausted reports whether a job that has made attempts attempts may not run again.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Backoff returns the delay before the next attempt after attempts failures:
// BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
