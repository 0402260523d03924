package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/user/listing-monitor/internal/entity"
)

type ScanRepoImpl struct {
	mu     sync.Mutex
	nextID int64
	scans  map[int64]*entity.ScanSession
}

func NewScanRepo() *ScanRepoImpl {
	return &ScanRepoImpl{scans: make(map[int64]*entity.ScanSession)}
}

func (r *ScanRepoImpl) Create(_ context.Context, s *entity.ScanSession) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := *s
	c.ScanID = r.nextID
	r.scans[c.ScanID] = &c
	return c.ScanID, nil
}

func (r *ScanRepoImpl) Get(_ context.Context, scanID int64) (*entity.ScanSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[scanID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *ScanRepoImpl) MarkRunning(_ context.Context, scanID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[scanID]
	if !ok {
		return false, entity.ErrNotFound
	}
	if s.Status != entity.ScanPending {
		return false, nil
	}
	s.Status = entity.ScanRunning
	s.StartedAt = &at
	return true, nil
}

func (r *ScanRepoImpl) RecordJob(_ context.Context, scanID int64, d entity.ScanDelta) (*entity.ScanSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[scanID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if s.Status.Terminal() || !s.Apply(d) {
		return nil, entity.ErrScanNotActive
	}
	c := *s
	return &c, nil
}

func (r *ScanRepoImpl) SetChangeCounts(_ context.Context, scanID int64, c entity.ChangeCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[scanID]
	if !ok {
		return entity.ErrNotFound
	}
	if s.Status.Terminal() {
		return entity.ErrScanNotActive
	}
	s.NewCount, s.UpdatedCount, s.DeletedCount = c.New, c.Updated, c.Deleted
	return nil
}

func (r *ScanRepoImpl) Finalize(_ context.Context, scanID int64, status entity.ScanStatus, reason entity.FailureReason, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[scanID]
	if !ok {
		return false, entity.ErrNotFound
	}
	if s.Status.Terminal() {
		return false, nil
	}
	s.Status = status
	s.Reason = reason
	s.CompletedAt = &at
	if s.StartedAt == nil {
		s.StartedAt = &at
	}
	return true, nil
}

func (r *ScanRepoImpl) ListActive(context.Context) ([]*entity.ScanSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ScanSession
	for _, s := range r.scans {
		if !s.Status.Terminal() {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID < out[j].ScanID })
	return out, nil
}

func (r *ScanRepoImpl) List(_ context.Context, limit int) ([]*entity.ScanSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.ScanSession, 0, len(r.scans))
	for _, s := range r.scans {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID > out[j].ScanID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ScanRepoImpl) CountByStatus(context.Context) (map[entity.ScanStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[entity.ScanStatus]int64)
	for _, s := range r.scans {
		counts[s.Status]++
	}
	return counts, nil
}
