package repository

import (
	"context"

	"github.com/user/listing-monitor/internal/entity"
)

// SnapshotRepository stores the last known state of every tracked entity.
type SnapshotRepository interface {
	// Get returns entity.ErrNotFound when the entity has never been seen.
	Get(ctx context.Context, entityID string) (*entity.Entity, error)
	// Commit writes the snapshot and appends its change records atomically.
	// It returns entity.ErrSnapshotWriteConflict when the stored version no
	// longer matches c.ExpectedVersion; on success c.Entity.Version is bumped.
	Commit(ctx context.Context, c entity.SnapshotCommit) error
	// ListUnseen pages through active entities whose last_seen_scan_id is
	// older than scanID, ordered by entity id and starting after afterID.
	ListUnseen(ctx context.Context, scanID int64, afterID string, limit int) ([]*entity.Entity, error)
	// Count returns the number of active and total entities.
	Count(ctx context.Context) (active, total int64, err error)
}
