package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/user/listing-monitor/internal/entity"
)

// SnapshotRepoImpl keeps snapshots in process memory. Commits append their
// change records to the paired change log under the same lock.
type SnapshotRepoImpl struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	log      *ChangeLogRepoImpl
}

func NewSnapshotRepo(log *ChangeLogRepoImpl) *SnapshotRepoImpl {
	return &SnapshotRepoImpl{entities: make(map[string]*entity.Entity), log: log}
}

func (r *SnapshotRepoImpl) Get(_ context.Context, entityID string) (*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e.Clone(), nil
}

func (r *SnapshotRepoImpl) Commit(_ context.Context, c entity.SnapshotCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entities[c.Entity.EntityID]
	switch {
	case c.ExpectedVersion == 0 && exists:
		return entity.ErrSnapshotWriteConflict
	case c.ExpectedVersion != 0 && (!exists || current.Version != c.ExpectedVersion):
		return entity.ErrSnapshotWriteConflict
	}
	if err := r.log.append(c.Records); err != nil {
		return err
	}
	c.Entity.Version = c.ExpectedVersion + 1
	r.entities[c.Entity.EntityID] = c.Entity.Clone()
	return nil
}

func (r *SnapshotRepoImpl) ListUnseen(_ context.Context, scanID int64, afterID string, limit int) ([]*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Entity
	for id, e := range r.entities {
		if e.Active && e.LastSeenScanID < scanID && id > afterID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SnapshotRepoImpl) Count(context.Context) (active, total int64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		if e.Active {
			active++
		}
	}
	return active, int64(len(r.entities)), nil
}
