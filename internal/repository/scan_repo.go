package repository

import (
	"context"
	"time"

	"github.com/user/listing-monitor/internal/entity"
)

// ScanRepository persists scan sessions and their aggregate counters.
type ScanRepository interface {
	// Create assigns a new, monotonically increasing scan id.
	Create(ctx context.Context, s *entity.ScanSession) (int64, error)
	Get(ctx context.Context, scanID int64) (*entity.ScanSession, error)
	// MarkRunning moves a pending scan to running. It reports false if the
	// scan was not pending.
	MarkRunning(ctx context.Context, scanID int64, at time.Time) (bool, error)
	// RecordJob atomically adds d to the counters of a non-terminal scan and
	// returns the updated session. It returns entity.ErrScanNotActive when the
	// scan is terminal or the increment would exceed jobs_total.
	RecordJob(ctx context.Context, scanID int64, d entity.ScanDelta) (*entity.ScanSession, error)
	// SetChangeCounts overwrites the new/updated/deleted counters of a
	// non-terminal scan. It returns entity.ErrScanNotActive for terminal scans.
	SetChangeCounts(ctx context.Context, scanID int64, c entity.ChangeCounts) error
	// Finalize moves a non-terminal scan to a terminal status. It reports
	// false if the scan was already terminal.
	Finalize(ctx context.Context, scanID int64, status entity.ScanStatus, reason entity.FailureReason, at time.Time) (bool, error)
	// ListActive returns pending and running scans.
	ListActive(ctx context.Context) ([]*entity.ScanSession, error)
	// List returns the most recent scans, newest first.
	List(ctx context.Context, limit int) ([]*entity.ScanSession, error)
	CountByStatus(ctx context.Context) (map[entity.ScanStatus]int64, error)
}
