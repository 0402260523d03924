package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/listing-monitor/internal/entity"
)

type lifecycleKey struct {
	entityID string
	scanID   int64
}

// ChangeLogRepoImpl is an append-only, in-memory change history.
type ChangeLogRepoImpl struct {
	mu        sync.RWMutex
	records   []entity.ChangeRecord
	lifecycle map[lifecycleKey]struct{}
}

func NewChangeLogRepo() *ChangeLogRepoImpl {
	return &ChangeLogRepoImpl{lifecycle: make(map[lifecycleKey]struct{})}
}

// append enforces at most one new/deleted record per entity and scan, the
// same rule the Postgres schema enforces with a unique index.
func (r *ChangeLogRepoImpl) append(records []entity.ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if !rec.ChangeType.Lifecycle() {
			continue
		}
		if _, dup := r.lifecycle[lifecycleKey{rec.EntityID, rec.ScanID}]; dup {
			return fmt.Errorf("%s record for %s in scan %d: %w", rec.ChangeType, rec.EntityID, rec.ScanID, entity.ErrSnapshotWriteConflict)
		}
	}
	for _, rec := range records {
		if rec.ChangeType.Lifecycle() {
			r.lifecycle[lifecycleKey{rec.EntityID, rec.ScanID}] = struct{}{}
		}
		r.records = append(r.records, rec)
	}
	return nil
}

func (r *ChangeLogRepoImpl) Query(_ context.Context, f entity.ChangeFilter) ([]entity.ChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []entity.ChangeRecord
	for _, rec := range r.records {
		if f.EntityID != "" && rec.EntityID != f.EntityID {
			continue
		}
		if f.ScanID != 0 && rec.ScanID != f.ScanID {
			continue
		}
		if !f.Since.IsZero() && rec.DetectedAt.Before(f.Since) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *ChangeLogRepoImpl) CountByScan(_ context.Context, scanID int64) (entity.ChangeCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c entity.ChangeCounts
	updated := make(map[string]struct{})
	for _, rec := range r.records {
		if rec.ScanID != scanID {
			continue
		}
		switch rec.ChangeType {
		case entity.ChangeNew:
			c.New++
		case entity.ChangeDeleted:
			c.Deleted++
		case entity.ChangeUpdated:
			updated[rec.EntityID] = struct{}{}
		}
	}
	c.Updated = len(updated)
	return c, nil
}

// All returns every record in append order.
func (r *ChangeLogRepoImpl) All() []entity.ChangeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entity.ChangeRecord(nil), r.records...)
}
