package entity

import "time"

type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether no further counter updates are accepted.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// FailureReason distinguishes the ways a scan ends up failed.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonThresholdExceeded FailureReason = "threshold_exceeded"
	ReasonDeadlineExceeded  FailureReason = "deadline_exceeded"
	ReasonCancelled         FailureReason = "cancelled"
	ReasonEnqueueFailed     FailureReason = "enqueue_failed"
)

// ScanSession mirrors the `scan_sessions` table.
type ScanSession struct {
	ScanID       int64
	Status       ScanStatus
	Reason       FailureReason
	Full         bool
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Deadline     time.Time
	JobsTotal    int
	JobsDone     int
	JobsFailed   int
	NewCount     int
	UpdatedCount int
	DeletedCount int
}

// ScanDelta is an atomic increment applied to a session's counters.
type ScanDelta struct {
	Done    int
	Failed  int
	New     int
	Updated int
	Deleted int
}

// Settled reports whether every job has either completed or failed.
func (s *ScanSession) Settled() bool {
	return s.JobsDone+s.JobsFailed >= s.JobsTotal
}

func (s *ScanSession) FailureRate() float64 {
	if s.JobsTotal == 0 {
		return 0
	}
	return float64(s.JobsFailed) / float64(s.JobsTotal)
}

// Apply adds d to the counters. It returns false, leaving s untouched, when the
// increment would settle more jobs than the session owns.
func (s *ScanSession) Apply(d ScanDelta) bool {
	if s.JobsDone+s.JobsFailed+d.Done+d.Failed > s.JobsTotal {
		return false
	}
	s.JobsDone += d.Done
	s.JobsFailed += d.Failed
	s.NewCount += d.New
	s.UpdatedCount += d.Updated
	s.DeletedCount += d.Deleted
	return true
}

// ScanProgress is the read-only view polled by dashboards.
type ScanProgress struct {
	ScanID       int64         `json:"scan_id"`
	Status       ScanStatus    `json:"status"`
	Reason       FailureReason `json:"reason,omitempty"`
	Percent      float64       `json:"percent"`
	JobsTotal    int           `json:"jobs_total"`
	JobsDone     int           `json:"jobs_done"`
	JobsFailed   int           `json:"jobs_failed"`
	NewCount     int           `json:"new_count"`
	UpdatedCount int           `json:"updated_count"`
	DeletedCount int           `json:"deleted_count"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func (s *ScanSession) Progress() ScanProgress {
	p := ScanProgress{
		ScanID:       s.ScanID,
		Status:       s.Status,
		Reason:       s.Reason,
		JobsTotal:    s.JobsTotal,
		JobsDone:     s.JobsDone,
		JobsFailed:   s.JobsFailed,
		NewCount:     s.NewCount,
		UpdatedCount: s.UpdatedCount,
		DeletedCount: s.DeletedCount,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
	}
	if s.JobsTotal > 0 {
		p.Percent = float64(s.JobsDone+s.JobsFailed) * 100 / float64(s.JobsTotal)
	}
	return p
}
