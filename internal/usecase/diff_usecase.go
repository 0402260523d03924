package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
	"github.com/user/listing-monitor/pkg/metrics"
)

const reconcileBatchSize = 500

// DiffConfig tunes the diff engine.
type DiffConfig struct {
	// AuditUnchanged persists an `unchanged` record for no-op observations.
	AuditUnchanged     bool
	NumericFields      []string
	MaxConflictRetries int
	Scorer             Scorer
	LockStripes        int
}

// DiffEngine compares extractions with the stored snapshots, writes the
// resulting change records and keeps the snapshots current. It is the only
// writer of the snapshot store.
type DiffEngine struct {
	cfg        DiffConfig
	snapshots  repository.SnapshotRepository
	publisher  repository.ChangePublisher
	normalizer *Normalizer
	locks      *entityLocks
	logger     *zap.Logger
	now        func() time.Time
}

// NewDiffEngine creates a diff engine. publisher may be nil.
func NewDiffEngine(cfg DiffConfig, snapshots repository.SnapshotRepository, publisher repository.ChangePublisher, logger *zap.Logger) *DiffEngine {
	if cfg.Scorer == nil {
		cfg.Scorer = WeightedScorer{DefaultWeight: 1, LifecycleWeight: 1}
	}
	return &DiffEngine{
		cfg:        cfg,
		snapshots:  snapshots,
		publisher:  publisher,
		normalizer: NewNormalizer(cfg.NumericFields),
		locks:      newEntityLocks(cfg.LockStripes),
		logger:     logger.Named("diff"),
		now:        time.Now,
	}
}

// Apply diffs one extracted field map against the entity's snapshot.
func (d *DiffEngine) Apply(ctx context.Context, scanID int64, entityID string, fields map[string]any) ([]entity.ChangeRecord, error) {
	if entityID == "" {
		return nil, errors.New("diff: entity id is required")
	}
	norm := d.normalizer.Normalize(fields)
	fp := Fingerprint(norm)

	return d.withEntity(ctx, entityID, func(prior *entity.Entity) (*entity.SnapshotCommit, error) {
		return d.diff(scanID, entityID, prior, norm, fp)
	})
}

// MarkDeleted deactivates an entity that vanished from the source.
func (d *DiffEngine) MarkDeleted(ctx context.Context, scanID int64, entityID string) ([]entity.ChangeRecord, error) {
	return d.withEntity(ctx, entityID, func(prior *entity.Entity) (*entity.SnapshotCommit, error) {
		return d.delete(scanID, prior)
	})
}

// Reconcile marks as deleted every active entity that scanID did not observe.
// It returns the number of deleted records written.
func (d *DiffEngine) Reconcile(ctx context.Context, scanID int64) (int, error) {
	deleted := 0
	after := ""
	for {
		batch, err := d.snapshots.ListUnseen(ctx, scanID, after, reconcileBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("list unseen entities for scan %d: %w", scanID, err)
		}
		for _, e := range batch {
			after = e.EntityID
			records, err := d.MarkDeleted(ctx, scanID, e.EntityID)
			if errors.Is(err, entity.ErrStaleScan) {
				// A newer scan observed the entity after it was listed.
				d.logger.Debug("skipping entity seen by a newer scan",
					zap.Int64("scan_id", scanID), zap.String("entity_id", e.EntityID), zap.Error(err))
				continue
			}
			if err != nil {
				return deleted, fmt.Errorf("mark %s deleted: %w", e.EntityID, err)
			}
			deleted += countType(records, entity.ChangeDeleted)
		}
		if len(batch) < reconcileBatchSize {
			break
		}
	}
	d.logger.Info("reconciliation finished", zap.Int64("scan_id", scanID), zap.Int("deleted", deleted))
	return deleted, nil
}

// withEntity runs one read-diff-commit cycle under the entity lock, retrying
// on write conflicts with a fresh read.
func (d *DiffEngine) withEntity(ctx context.Context, entityID string, build func(prior *entity.Entity) (*entity.SnapshotCommit, error)) ([]entity.ChangeRecord, error) {
	unlock := d.locks.lock(entityID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		prior, err := d.snapshots.Get(ctx, entityID)
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("load snapshot %s: %w", entityID, err)
		}
		if errors.Is(err, entity.ErrNotFound) {
			prior = nil
		}

		commit, err := build(prior)
		if err != nil || commit == nil {
			return nil, err
		}

		err = d.snapshots.Commit(ctx, *commit)
		if err == nil {
			d.afterCommit(ctx, commit.Records)
			return commit.Records, nil
		}
		if !errors.Is(err, entity.ErrSnapshotWriteConflict) || attempt >= d.cfg.MaxConflictRetries {
			return nil, fmt.Errorf("commit snapshot %s: %w", entityID, err)
		}
		d.logger.Warn("snapshot write conflict, retrying diff",
			zap.String("entity_id", entityID), zap.Int("attempt", attempt+1))
	}
}

func (d *DiffEngine) diff(scanID int64, entityID string, prior *entity.Entity, fields entity.Fields, fp string) (*entity.SnapshotCommit, error) {
	now := d.now()

	if prior != nil && scanID < prior.LastSeenScanID {
		return nil, fmt.Errorf("entity %s seen by scan %d, got scan %d: %w", entityID, prior.LastSeenScanID, scanID, entity.ErrStaleScan)
	}

	// Absent, or previously deleted: a fresh lifecycle starts.
	if prior == nil || !prior.Active {
		next := &entity.Entity{
			EntityID:        entityID,
			Fields:          fields,
			Fingerprint:     fp,
			LastSeenScanID:  scanID,
			LifecycleScanID: scanID,
			Active:          true,
			FirstSeenAt:     now,
			UpdatedAt:       now,
		}
		commit := &entity.SnapshotCommit{Entity: next}
		if prior == nil {
			commit.Records = []entity.ChangeRecord{d.record(scanID, entityID, entity.ChangeNew, "", nil, nil, now)}
			return commit, nil
		}

		commit.ExpectedVersion = prior.Version
		next.Version = prior.Version
		if prior.LifecycleScanID == scanID {
			// Deleted earlier in this same scan; a second lifecycle record
			// would break at-most-one, so the return shows up as field diffs.
			next.LifecycleScanID = prior.LifecycleScanID
			next.FirstSeenAt = prior.FirstSeenAt
			commit.Records = d.fieldDiffs(scanID, entityID, prior.Fields, fields, now)
			return commit, nil
		}
		commit.Records = []entity.ChangeRecord{d.record(scanID, entityID, entity.ChangeNew, "", nil, nil, now)}
		return commit, nil
	}

	next := prior.Clone()
	next.LastSeenScanID = scanID
	commit := &entity.SnapshotCommit{Entity: next, ExpectedVersion: prior.Version}

	if prior.Fingerprint == fp {
		if d.cfg.AuditUnchanged {
			commit.Records = []entity.ChangeRecord{d.record(scanID, entityID, entity.ChangeUnchanged, "", nil, nil, now)}
		}
		if prior.LastSeenScanID == scanID && len(commit.Records) == 0 {
			return nil, nil
		}
		return commit, nil
	}

	next.Fields = fields
	next.Fingerprint = fp
	next.UpdatedAt = now
	commit.Records = d.fieldDiffs(scanID, entityID, prior.Fields, fields, now)
	return commit, nil
}

func (d *DiffEngine) delete(scanID int64, prior *entity.Entity) (*entity.SnapshotCommit, error) {
	if prior == nil || !prior.Active {
		return nil, nil
	}
	if scanID < prior.LastSeenScanID {
		return nil, fmt.Errorf("entity %s seen by scan %d, got scan %d: %w", prior.EntityID, prior.LastSeenScanID, scanID, entity.ErrStaleScan)
	}

	now := d.now()
	next := prior.Clone()
	next.Active = false
	next.LastSeenScanID = scanID
	next.UpdatedAt = now
	commit := &entity.SnapshotCommit{Entity: next, ExpectedVersion: prior.Version}

	if prior.LifecycleScanID == scanID {
		d.logger.Warn("entity created and removed within one scan, deactivating without a deleted record",
			zap.String("entity_id", prior.EntityID), zap.Int64("scan_id", scanID))
		return commit, nil
	}
	next.LifecycleScanID = scanID
	commit.Records = []entity.ChangeRecord{d.record(scanID, prior.EntityID, entity.ChangeDeleted, "", nil, nil, now)}
	return commit, nil
}

// fieldDiffs emits one updated record per field whose value differs, in field
// name order. Fields absent from both maps never appear.
func (d *DiffEngine) fieldDiffs(scanID int64, entityID string, oldFields, newFields entity.Fields, now time.Time) []entity.ChangeRecord {
	names := make(map[string]struct{}, len(oldFields)+len(newFields))
	for k := range oldFields {
		names[k] = struct{}{}
	}
	for k := range newFields {
		names[k] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var records []entity.ChangeRecord
	for _, name := range sorted {
		oldV, hadOld := oldFields[name]
		newV, hasNew := newFields[name]
		if hadOld && hasNew && valuesEqual(oldV, newV) {
			continue
		}
		var oldVal, newVal any
		if hadOld {
			oldVal = oldV
		}
		if hasNew {
			newVal = newV
		}
		records = append(records, d.record(scanID, entityID, entity.ChangeUpdated, name, oldVal, newVal, now))
	}
	return records
}

func (d *DiffEngine) record(scanID int64, entityID string, t entity.ChangeType, field string, oldV, newV any, now time.Time) entity.ChangeRecord {
	return entity.ChangeRecord{
		ChangeID:    uuid.NewString(),
		ScanID:      scanID,
		EntityID:    entityID,
		ChangeType:  t,
		FieldName:   field,
		OldValue:    valuePtr(oldV),
		NewValue:    valuePtr(newV),
		ChangeScore: d.cfg.Scorer.Score(t, field, oldV, newV),
		DetectedAt:  now,
	}
}

func (d *DiffEngine) afterCommit(ctx context.Context, records []entity.ChangeRecord) {
	var published []entity.ChangeRecord
	for _, r := range records {
		metrics.ChangesTotal.WithLabelValues(string(r.ChangeType)).Inc()
		if r.ChangeType != entity.ChangeUnchanged {
			published = append(published, r)
		}
	}
	if d.publisher == nil || len(published) == 0 {
		return
	}
	if err := d.publisher.Publish(ctx, published); err != nil {
		d.logger.Warn("failed to publish change records", zap.Int("records", len(published)), zap.Error(err))
	}
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	default:
		return FormatValue(a) == FormatValue(b)
	}
}

func valuePtr(v any) *string {
	if v == nil {
		return nil
	}
	s := FormatValue(v)
	return &s
}

func countType(records []entity.ChangeRecord, t entity.ChangeType) int {
	n := 0
	for _, r := range records {
		if r.ChangeType == t {
			n++
		}
	}
	return n
}
