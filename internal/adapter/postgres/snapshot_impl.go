package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/listing-monitor/internal/entity"
)

const uniqueViolation = "23505"

const snapshotColumns = `entity_id, fields, fingerprint, last_seen_scan_id, lifecycle_scan_id,
	active, version, first_seen_at, updated_at`

// SnapshotRepoImpl provides the SnapshotRepository on top of PostgreSQL.
// A commit writes the snapshot and its change records in one transaction.
type SnapshotRepoImpl struct {
	db *pgxpool.Pool
}

// NewSnapshotRepo creates a new instance of SnapshotRepoImpl.
func NewSnapshotRepo(db *pgxpool.Pool) *SnapshotRepoImpl {
	return &SnapshotRepoImpl{db: db}
}

func (r *SnapshotRepoImpl) Get(ctx context.Context, entityID string) (*entity.Entity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM entity_snapshots WHERE entity_id = $1`, entityID)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	return e, err
}

func (r *SnapshotRepoImpl) Commit(ctx context.Context, c entity.SnapshotCommit) error {
	e := c.Entity
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("encode fields of %s: %w", e.EntityID, err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	next := c.ExpectedVersion + 1
	var tag pgconn.CommandTag
	if c.ExpectedVersion == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO entity_snapshots (`+snapshotColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (entity_id) DO NOTHING`,
			e.EntityID, fields, e.Fingerprint, e.LastSeenScanID, e.LifecycleScanID,
			e.Active, next, e.FirstSeenAt, e.UpdatedAt,
		)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE entity_snapshots SET
				fields = $2, fingerprint = $3, last_seen_scan_id = $4, lifecycle_scan_id = $5,
				active = $6, version = $7, first_seen_at = $8, updated_at = $9
			WHERE entity_id = $1 AND version = $10`,
			e.EntityID, fields, e.Fingerprint, e.LastSeenScanID, e.LifecycleScanID,
			e.Active, next, e.FirstSeenAt, e.UpdatedAt, c.ExpectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", e.EntityID, err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrSnapshotWriteConflict
	}

	if len(c.Records) > 0 {
		batch := &pgx.Batch{}
		for _, rec := range c.Records {
			batch.Queue(`
				INSERT INTO change_records
					(change_id, scan_id, entity_id, change_type, field_name, old_value, new_value, change_score, detected_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				rec.ChangeID, rec.ScanID, rec.EntityID, string(rec.ChangeType), rec.FieldName,
				rec.OldValue, rec.NewValue, rec.ChangeScore, rec.DetectedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%s: %w", pgErr.ConstraintName, entity.ErrSnapshotWriteConflict)
			}
			return fmt.Errorf("append change records for %s: %w", e.EntityID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.Version = next
	return nil
}

func (r *SnapshotRepoImpl) ListUnseen(ctx context.Context, scanID int64, afterID string, limit int) ([]*entity.Entity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM entity_snapshots
		WHERE active AND last_seen_scan_id < $1 AND entity_id > $2
		ORDER BY entity_id
		LIMIT $3`,
		scanID, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SnapshotRepoImpl) Count(ctx context.Context) (active, total int64, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE active), COUNT(*) FROM entity_snapshots`,
	).Scan(&active, &total)
	return active, total, err
}

func scanEntity(row pgx.Row) (*entity.Entity, error) {
	var (
		e      entity.Entity
		fields []byte
	)
	if err := row.Scan(
		&e.EntityID,
		&fields,
		&e.Fingerprint,
		&e.LastSeenScanID,
		&e.LifecycleScanID,
		&e.Active,
		&e.Version,
		&e.FirstSeenAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &e.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", e.EntityID, err)
	}
	return &e, nil
}
