package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/listing-monitor/internal/entity"
)

const scanColumns = `scan_id, status, reason, full_scan, created_at, started_at, completed_at, deadline,
	jobs_total, jobs_done, jobs_failed, new_count, updated_count, deleted_count`

const activeStatuses = `('pending', 'running')`

// ScanRepoImpl keeps scan sessions in the scan_sessions table. Counter
// updates are single conditional statements so concurrent workers never
// lose an increment.
type ScanRepoImpl struct {
	db *pgxpool.Pool
}

// NewScanRepo creates a new instance of ScanRepoImpl.
func NewScanRepo(db *pgxpool.Pool) *ScanRepoImpl {
	return &ScanRepoImpl{db: db}
}

func (r *ScanRepoImpl) Create(ctx context.Context, s *entity.ScanSession) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO scan_sessions (status, reason, full_scan, created_at, deadline, jobs_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING scan_id`,
		string(s.Status), string(s.Reason), s.Full, s.CreatedAt, s.Deadline, s.JobsTotal,
	).Scan(&id)
	return id, err
}

func (r *ScanRepoImpl) Get(ctx context.Context, scanID int64) (*entity.ScanSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+scanColumns+` FROM scan_sessions WHERE scan_id = $1`, scanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	return s, err
}

func (r *ScanRepoImpl) MarkRunning(ctx context.Context, scanID int64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE scan_sessions SET status = 'running', started_at = $2
		WHERE scan_id = $1 AND status = 'pending'`,
		scanID, at,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, r.exists(ctx, scanID)
	}
	return true, nil
}

func (r *ScanRepoImpl) RecordJob(ctx context.Context, scanID int64, d entity.ScanDelta) (*entity.ScanSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `
		UPDATE scan_sessions SET
			jobs_done = jobs_done + $2,
			jobs_failed = jobs_failed + $3,
			new_count = new_count + $4,
			updated_count = updated_count + $5,
			deleted_count = deleted_count + $6
		WHERE scan_id = $1
		  AND status IN `+activeStatuses+`
		  AND jobs_done + jobs_failed + $2 + $3 <= jobs_total
		RETURNING `+scanColumns,
		scanID, d.Done, d.Failed, d.New, d.Updated, d.Deleted,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := r.exists(ctx, scanID); err != nil {
			return nil, err
		}
		return nil, entity.ErrScanNotActive
	}
	return s, err
}

func (r *ScanRepoImpl) SetChangeCounts(ctx context.Context, scanID int64, c entity.ChangeCounts) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE scan_sessions SET new_count = $2, updated_count = $3, deleted_count = $4
		WHERE scan_id = $1 AND status IN `+activeStatuses,
		scanID, c.New, c.Updated, c.Deleted,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if err := r.exists(ctx, scanID); err != nil {
			return err
		}
		return entity.ErrScanNotActive
	}
	return nil
}

func (r *ScanRepoImpl) Finalize(ctx context.Context, scanID int64, status entity.ScanStatus, reason entity.FailureReason, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE scan_sessions SET
			status = $2,
			reason = $3,
			completed_at = $4,
			started_at = COALESCE(started_at, $4)
		WHERE scan_id = $1 AND status IN `+activeStatuses,
		scanID, string(status), string(reason), at,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, r.exists(ctx, scanID)
	}
	return true, nil
}

func (r *ScanRepoImpl) ListActive(ctx context.Context) ([]*entity.ScanSession, error) {
	return r.list(ctx, `SELECT `+scanColumns+` FROM scan_sessions WHERE status IN `+activeStatuses+` ORDER BY scan_id`)
}

func (r *ScanRepoImpl) List(ctx context.Context, limit int) ([]*entity.ScanSession, error) {
	var l *int
	if limit > 0 {
		l = &limit
	}
	return r.list(ctx, `SELECT `+scanColumns+` FROM scan_sessions ORDER BY scan_id DESC LIMIT $1::integer`, l)
}

func (r *ScanRepoImpl) CountByStatus(ctx context.Context) (map[entity.ScanStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM scan_sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.ScanStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entity.ScanStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *ScanRepoImpl) list(ctx context.Context, query string, args ...any) ([]*entity.ScanSession, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ScanSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// exists returns entity.ErrNotFound for an unknown scan and nil otherwise.
func (r *ScanRepoImpl) exists(ctx context.Context, scanID int64) error {
	var found bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scan_sessions WHERE scan_id = $1)`, scanID).Scan(&found); err != nil {
		return err
	}
	if !found {
		return entity.ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*entity.ScanSession, error) {
	var (
		s              entity.ScanSession
		status, reason string
	)
	if err := row.Scan(
		&s.ScanID,
		&status,
		&reason,
		&s.Full,
		&s.CreatedAt,
		&s.StartedAt,
		&s.CompletedAt,
		&s.Deadline,
		&s.JobsTotal,
		&s.JobsDone,
		&s.JobsFailed,
		&s.NewCount,
		&s.UpdatedCount,
		&s.DeletedCount,
	); err != nil {
		return nil, err
	}
	s.Status = entity.ScanStatus(status)
	s.Reason = entity.FailureReason(reason)
	return &s, nil
}
