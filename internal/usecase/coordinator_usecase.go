package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
	"github.com/user/listing-monitor/pkg/metrics"
	"github.com/user/listing-monitor/pkg/utils"
)

const maxChangeQueryLimit = 1000

// Reconciler marks entities a full scan did not observe as deleted.
type Reconciler interface {
	Reconcile(ctx context.Context, scanID int64) (int, error)
}

type CoordinatorConfig struct {
	FailureThreshold          float64
	Deadline                  time.Duration
	CancelGracePeriod         time.Duration
	WatchInterval             time.Duration
	ReconcileOnPartialFailure bool
	PagePriority              int
	EntityPriority            int
	PageURLTemplate           string
	EntityURLTemplate         string
}

// ScanRequest is the target set of a new scan. Pages and the FirstPage..LastPage
// range are merged; entity ids become single-listing refresh jobs.
type ScanRequest struct {
	Pages     []int
	FirstPage int
	LastPage  int
	EntityIDs []string
	// Full scans observe the whole catalog and are followed by reconciliation.
	Full     bool
	Priority *int
}

// Stats is the aggregate view served to dashboards.
type Stats struct {
	Queue          entity.QueueStats           `json:"queue"`
	Scans          map[entity.ScanStatus]int64 `json:"scans"`
	ActiveEntities int64                       `json:"active_entities"`
	TotalEntities  int64                       `json:"total_entities"`
}

// scanHandle is the in-process state of a non-terminal scan. Workers hold
// mu for reading while they apply results; finalization holds it for writing,
// so no change record is written after the scan turned terminal.
type scanHandle struct {
	id   int64
	full bool

	mu         sync.RWMutex
	closed     bool
	cancelling bool
	cancelAt   time.Time
	running    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ScanCoordinator owns scan lifecycles: it creates sessions, enqueues their
// jobs, folds worker reports into the counters and finalizes scans.
type ScanCoordinator struct {
	cfg        CoordinatorConfig
	scans      repository.ScanRepository
	queue      repository.JobQueue
	snapshots  repository.SnapshotRepository
	changes    repository.ChangeLogRepository
	reconciler Reconciler
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	handles map[int64]*scanHandle
}

func NewScanCoordinator(
	cfg CoordinatorConfig,
	scans repository.ScanRepository,
	queue repository.JobQueue,
	snapshots repository.SnapshotRepository,
	changes repository.ChangeLogRepository,
	reconciler Reconciler,
	logger *zap.Logger,
) *ScanCoordinator {
	return &ScanCoordinator{
		cfg:        cfg,
		scans:      scans,
		queue:      queue,
		snapshots:  snapshots,
		changes:    changes,
		reconciler: reconciler,
		logger:     logger.Named("coordinator"),
		now:        time.Now,
		handles:    make(map[int64]*scanHandle),
	}
}

// StartScan creates a pending scan session and enqueues one job per target.
func (c *ScanCoordinator) StartScan(ctx context.Context, req ScanRequest) (*entity.ScanSession, error) {
	targets, err := c.buildTargets(req)
	if err != nil {
		return nil, err
	}

	now := c.now()
	session := &entity.ScanSession{
		Status:    entity.ScanPending,
		Full:      req.Full,
		CreatedAt: now,
		Deadline:  now.Add(c.cfg.Deadline),
		JobsTotal: len(targets),
	}
	id, err := c.scans.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("create scan session: %w", err)
	}
	session.ScanID = id
	h := c.register(session)
	logger := c.logger.With(zap.Int64("scan_id", id))

	for _, t := range targets {
		priority := c.cfg.PagePriority
		if t.Kind == entity.TargetEntity {
			priority = c.cfg.EntityPriority
		}
		if req.Priority != nil {
			priority = *req.Priority
		}
		job := &entity.ScanJob{
			JobID:      uuid.NewString(),
			ScanID:     id,
			Target:     t,
			Priority:   entity.ClampPriority(priority),
			EnqueuedAt: now,
		}
		if _, err := c.queue.Enqueue(ctx, job); err != nil {
			logger.Error("failed to enqueue scan job, failing scan", zap.String("target", t.String()), zap.Error(err))
			c.finalize(context.WithoutCancel(ctx), h, entity.ScanFailed, entity.ReasonEnqueueFailed)
			return nil, fmt.Errorf("enqueue %s: %w", t, err)
		}
	}

	logger.Info("scan started", zap.Int("jobs", len(targets)), zap.Bool("full", req.Full))
	return session, nil
}

func (c *ScanCoordinator) buildTargets(req ScanRequest) ([]entity.Target, error) {
	pages := make(map[int]struct{})
	for _, p := range req.Pages {
		pages[p] = struct{}{}
	}
	if req.FirstPage > 0 || req.LastPage > 0 {
		if req.FirstPage <= 0 || req.LastPage < req.FirstPage {
			return nil, fmt.Errorf("%w: page range %d..%d", entity.ErrInvalidRequest, req.FirstPage, req.LastPage)
		}
		for p := req.FirstPage; p <= req.LastPage; p++ {
			pages[p] = struct{}{}
		}
	}
	ordered := make([]int, 0, len(pages))
	for p := range pages {
		if p <= 0 {
			return nil, fmt.Errorf("%w: page number %d", entity.ErrInvalidRequest, p)
		}
		ordered = append(ordered, p)
	}
	sort.Ints(ordered)

	targets := make([]entity.Target, 0, len(ordered)+len(req.EntityIDs))
	for _, p := range ordered {
		u, err := utils.BuildURL(c.cfg.PageURLTemplate, p)
		if err != nil {
			return nil, fmt.Errorf("build page url: %w", err)
		}
		targets = append(targets, entity.Target{Kind: entity.TargetPage, Page: p, URL: u})
	}
	seen := make(map[string]struct{}, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		u, err := utils.BuildURL(c.cfg.EntityURLTemplate, id)
		if err != nil {
			return nil, fmt.Errorf("build entity url: %w", err)
		}
		targets = append(targets, entity.Target{Kind: entity.TargetEntity, EntityID: id, URL: u})
	}
	if len(targets) == 0 {
		return nil, entity.ErrEmptyTargetSet
	}
	return targets, nil
}

// CancelScan stops dispatching the scan's jobs. In-flight jobs get the grace
// period to finish before the scan is finalized as failed/cancelled.
func (c *ScanCoordinator) CancelScan(ctx context.Context, scanID int64) error {
	h, err := c.handle(ctx, scanID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return entity.ErrScanNotActive
	}
	if h.cancelling {
		h.mu.Unlock()
		return nil
	}
	h.cancelling = true
	h.cancelAt = c.now().Add(c.cfg.CancelGracePeriod)
	h.mu.Unlock()

	n, err := c.queue.Purge(ctx, scanID)
	if err != nil {
		c.logger.Error("failed to purge waiting jobs of cancelled scan", zap.Int64("scan_id", scanID), zap.Error(err))
	}
	c.logger.Info("scan cancelling", zap.Int64("scan_id", scanID), zap.Int("purged", n),
		zap.Duration("grace", c.cfg.CancelGracePeriod))

	if c.cfg.CancelGracePeriod <= 0 {
		c.finalize(ctx, h, entity.ScanFailed, entity.ReasonCancelled)
	}
	return nil
}

// Admit implements ScanGate.
func (c *ScanCoordinator) Admit(ctx context.Context, job *entity.ScanJob) (context.Context, context.CancelFunc, error) {
	h, err := c.handle(ctx, job.ScanID)
	if err != nil {
		return nil, nil, err
	}

	h.mu.RLock()
	closed, cancelling, running := h.closed, h.cancelling, h.running
	h.mu.RUnlock()
	if closed {
		return nil, nil, entity.ErrScanNotActive
	}
	if cancelling {
		return nil, nil, entity.ErrScanCancelled
	}

	if !running {
		if _, err := c.scans.MarkRunning(ctx, h.id, c.now()); err != nil {
			return nil, nil, fmt.Errorf("mark scan %d running: %w", h.id, err)
		}
		h.mu.Lock()
		h.running = true
		h.mu.Unlock()
	}

	jobCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(h.ctx, cancel)
	return jobCtx, func() {
		stop()
		cancel()
	}, nil
}

// Apply implements ScanGate.
func (c *ScanCoordinator) Apply(ctx context.Context, scanID int64, fn func() error) error {
	h, err := c.handle(ctx, scanID)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return entity.ErrScanNotActive
	}
	return fn()
}

// Report implements ScanGate: it folds a settled job into the scan counters
// and finalizes the scan once every job settled.
func (c *ScanCoordinator) Report(ctx context.Context, r JobReport) {
	logger := c.logger.With(zap.Int64("scan_id", r.ScanID), zap.String("job_id", r.JobID))
	d := entity.ScanDelta{New: r.New, Updated: r.Updated, Deleted: r.Deleted}
	if r.Outcome == JobSucceeded {
		d.Done = 1
	} else {
		d.Failed = 1
	}

	s, err := c.scans.RecordJob(ctx, r.ScanID, d)
	if errors.Is(err, entity.ErrScanNotActive) {
		logger.Debug("dropping report for inactive scan")
		return
	}
	if err != nil {
		logger.Error("failed to record job result", zap.Error(err))
		return
	}
	if s.Settled() {
		c.settle(ctx, s)
	}
}

func (c *ScanCoordinator) settle(ctx context.Context, s *entity.ScanSession) {
	h, err := c.handle(ctx, s.ScanID)
	if err != nil {
		return
	}
	h.mu.RLock()
	cancelling := h.cancelling
	h.mu.RUnlock()
	if cancelling {
		c.finalize(ctx, h, entity.ScanFailed, entity.ReasonCancelled)
		return
	}
	if s.FailureRate() > c.cfg.FailureThreshold {
		c.finalize(ctx, h, entity.ScanFailed, entity.ReasonThresholdExceeded)
		return
	}
	c.finalize(ctx, h, entity.ScanCompleted, entity.ReasonNone)
}

// finalize moves the scan to a terminal status exactly once. Completed full
// scans are reconciled first, while the session still accepts counters.
func (c *ScanCoordinator) finalize(ctx context.Context, h *scanHandle, status entity.ScanStatus, reason entity.FailureReason) {
	// Abort in-flight extractions before waiting for appliers to drain.
	if status == entity.ScanFailed {
		h.cancel()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	logger := c.logger.With(zap.Int64("scan_id", h.id))

	if status == entity.ScanCompleted && h.full {
		c.reconcile(ctx, logger, h.id)
	}
	if status == entity.ScanFailed {
		if _, err := c.queue.Purge(ctx, h.id); err != nil {
			logger.Error("failed to purge jobs of failed scan", zap.Error(err))
		}
	}
	c.syncChangeCounts(ctx, logger, h.id)

	ok, err := c.scans.Finalize(ctx, h.id, status, reason, c.now())
	if err != nil {
		logger.Error("failed to finalize scan", zap.Error(err))
		return
	}
	h.closed = true
	h.cancel()
	c.mu.Lock()
	delete(c.handles, h.id)
	c.mu.Unlock()
	if !ok {
		return
	}

	metrics.ScansTotal.WithLabelValues(string(status), string(reason)).Inc()
	logger.Info("scan finished", zap.String("status", string(status)), zap.String("reason", string(reason)))
}

func (c *ScanCoordinator) reconcile(ctx context.Context, logger *zap.Logger, scanID int64) {
	s, err := c.scans.Get(ctx, scanID)
	if err != nil {
		logger.Error("failed to load scan before reconciliation", zap.Error(err))
		return
	}
	if s.JobsFailed > 0 && !c.cfg.ReconcileOnPartialFailure {
		logger.Warn("skipping reconciliation after partial failure", zap.Int("jobs_failed", s.JobsFailed))
		return
	}
	deleted, err := c.reconciler.Reconcile(ctx, scanID)
	if err != nil {
		logger.Error("reconciliation failed", zap.Int("deleted", deleted), zap.Error(err))
	}
	if deleted == 0 {
		return
	}
	if _, err := c.scans.RecordJob(ctx, scanID, entity.ScanDelta{Deleted: deleted}); err != nil {
		logger.Error("failed to record reconciled deletions", zap.Error(err))
	}
}

// syncChangeCounts replaces the reported counters with the change log tally,
// which also covers records committed by attempts that later failed.
func (c *ScanCoordinator) syncChangeCounts(ctx context.Context, logger *zap.Logger, scanID int64) {
	counts, err := c.changes.CountByScan(ctx, scanID)
	if err != nil {
		logger.Error("failed to tally change log", zap.Error(err))
		return
	}
	if err := c.scans.SetChangeCounts(ctx, scanID, counts); err != nil {
		logger.Error("failed to store change counts", zap.Error(err))
	}
}

// Run watches active scans until ctx is done: it finalizes scans whose
// deadline passed or whose cancellation grace period ran out.
func (c *ScanCoordinator) Run(ctx context.Context) {
	interval := c.cfg.WatchInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *ScanCoordinator) sweep(ctx context.Context) {
	active, err := c.scans.ListActive(ctx)
	if err != nil {
		c.logger.Error("failed to list active scans", zap.Error(err))
		return
	}
	now := c.now()
	for _, s := range active {
		h, err := c.handle(ctx, s.ScanID)
		if err != nil {
			continue
		}
		h.mu.RLock()
		cancelDue := h.cancelling && !now.Before(h.cancelAt)
		h.mu.RUnlock()

		switch {
		case cancelDue:
			c.finalize(ctx, h, entity.ScanFailed, entity.ReasonCancelled)
		case !s.Deadline.IsZero() && now.After(s.Deadline):
			c.logger.Warn("scan deadline exceeded", zap.Int64("scan_id", s.ScanID),
				zap.Int("outstanding", s.JobsTotal-s.JobsDone-s.JobsFailed), zap.Error(entity.ErrScanDeadlineExceeded))
			c.finalize(ctx, h, entity.ScanFailed, entity.ReasonDeadlineExceeded)
		case s.Settled():
			// A report was recorded but finalization did not run.
			c.settle(ctx, s)
		}
	}
}

func (c *ScanCoordinator) register(s *entity.ScanSession) *scanHandle {
	ctx, cancel := context.WithCancel(context.Background())
	if !s.Deadline.IsZero() {
		ctx, cancel = context.WithTimeout(context.Background(), s.Deadline.Sub(c.now()))
	}
	h := &scanHandle{
		id:      s.ScanID,
		full:    s.Full,
		running: s.Status == entity.ScanRunning,
		ctx:     ctx,
		cancel:  cancel,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.handles[s.ScanID]; ok {
		cancel()
		return existing
	}
	c.handles[s.ScanID] = h
	return h
}

// handle returns the scan's handle, adopting non-terminal scans created by an
// earlier process.
func (c *ScanCoordinator) handle(ctx context.Context, scanID int64) (*scanHandle, error) {
	c.mu.Lock()
	h, ok := c.handles[scanID]
	c.mu.Unlock()
	if ok {
		return h, nil
	}

	s, err := c.scans.Get(ctx, scanID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, entity.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scan %d: %w", scanID, err)
	}
	if s.Status.Terminal() {
		return nil, entity.ErrScanNotActive
	}
	return c.register(s), nil
}

// GetProgress returns the scan's counters and completion percentage.
func (c *ScanCoordinator) GetProgress(ctx context.Context, scanID int64) (*entity.ScanProgress, error) {
	s, err := c.scans.Get(ctx, scanID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, entity.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scan %d: %w", scanID, err)
	}
	p := s.Progress()
	return &p, nil
}

func (c *ScanCoordinator) ListScans(ctx context.Context, limit int) ([]entity.ScanProgress, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sessions, err := c.scans.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	out := make([]entity.ScanProgress, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Progress())
	}
	return out, nil
}

// GetChanges queries the change log by entity or scan.
func (c *ScanCoordinator) GetChanges(ctx context.Context, filter entity.ChangeFilter) ([]entity.ChangeRecord, error) {
	if filter.EntityID == "" && filter.ScanID == 0 {
		return nil, fmt.Errorf("%w: entity id or scan id is required", entity.ErrInvalidRequest)
	}
	if filter.Limit <= 0 || filter.Limit > maxChangeQueryLimit {
		filter.Limit = maxChangeQueryLimit
	}
	records, err := c.changes.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	return records, nil
}

func (c *ScanCoordinator) GetEntity(ctx context.Context, entityID string) (*entity.Entity, error) {
	return c.snapshots.Get(ctx, entityID)
}

func (c *ScanCoordinator) GetStats(ctx context.Context) (*Stats, error) {
	queue, err := c.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	scans, err := c.scans.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	active, total, err := c.snapshots.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity stats: %w", err)
	}
	return &Stats{Queue: queue, Scans: scans, ActiveEntities: active, TotalEntities: total}, nil
}
