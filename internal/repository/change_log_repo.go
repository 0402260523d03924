package repository

import (
	"context"

	"github.com/user/listing-monitor/internal/entity"
)

// ChangeLogRepository is the query side of the append-only change history.
// Records are written through SnapshotRepository.Commit.
type ChangeLogRepository interface {
	Query(ctx context.Context, filter entity.ChangeFilter) ([]entity.ChangeRecord, error)
	// CountByScan tallies the records written by one scan.
	CountByScan(ctx context.Context, scanID int64) (entity.ChangeCounts, error)
}

// ChangePublisher forwards committed change records to external consumers.
type ChangePublisher interface {
	Publish(ctx context.Context, records []entity.ChangeRecord) error
}
