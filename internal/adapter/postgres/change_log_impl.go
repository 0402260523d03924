package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/listing-monitor/internal/entity"
)

type ChangeLogRepoImpl struct {
	db *pgxpool.Pool
}

// NewChangeLogRepo creates a new instance of ChangeLogRepoImpl.
func NewChangeLogRepo(db *pgxpool.Pool) *ChangeLogRepoImpl {
	return &ChangeLogRepoImpl{db: db}
}

func (r *ChangeLogRepoImpl) Query(ctx context.Context, f entity.ChangeFilter) ([]entity.ChangeRecord, error) {
	var since *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}

	rows, err := r.db.Query(ctx, `
		SELECT change_id, scan_id, entity_id, change_type, field_name, old_value, new_value, change_score, detected_at
		FROM change_records
		WHERE ($1::text = '' OR entity_id = $1)
		  AND ($2::bigint = 0 OR scan_id = $2)
		  AND ($3::timestamptz IS NULL OR detected_at >= $3)
		ORDER BY detected_at, seq
		LIMIT $4::integer`,
		f.EntityID, f.ScanID, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.ChangeRecord
	for rows.Next() {
		var (
			rec        entity.ChangeRecord
			changeType string
		)
		if err := rows.Scan(
			&rec.ChangeID,
			&rec.ScanID,
			&rec.EntityID,
			&changeType,
			&rec.FieldName,
			&rec.OldValue,
			&rec.NewValue,
			&rec.ChangeScore,
			&rec.DetectedAt,
		); err != nil {
			return nil, err
		}
		rec.ChangeType = entity.ChangeType(changeType)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ChangeLogRepoImpl) CountByScan(ctx context.Context, scanID int64) (entity.ChangeCounts, error) {
	var c entity.ChangeCounts
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE change_type = 'new'),
			COUNT(DISTINCT entity_id) FILTER (WHERE change_type = 'updated'),
			COUNT(*) FILTER (WHERE change_type = 'deleted')
		FROM change_records
		WHERE scan_id = $1`,
		scanID,
	).Scan(&c.New, &c.Updated, &c.Deleted)
	return c, err
}
