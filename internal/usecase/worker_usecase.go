package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
	"github.com/user/listing-monitor/pkg/metrics"
)

// JobOutcome is how a job settled from the scan's point of view.
type JobOutcome string

const (
	JobSucceeded JobOutcome = "succeeded"
	JobFailed    JobOutcome = "failed"
)

// JobReport is the per-job completion event consumed by the scan coordinator.
// It is emitted once per job, after the queue accepted the settlement.
type JobReport struct {
	ScanID       int64
	JobID        string
	Outcome      JobOutcome
	Items        int
	Completeness float64
	New          int
	Updated      int
	Deleted      int
	Err          error
}

// ScanGate is the worker's view of scan lifecycles.
type ScanGate interface {
	// Admit returns a context bounded by the scan's lifetime. It fails with
	// entity.ErrScanNotActive or entity.ErrScanCancelled when the scan no
	// longer takes work.
	Admit(ctx context.Context, job *entity.ScanJob) (context.Context, context.CancelFunc, error)
	// Apply runs fn while the scan is guaranteed to stay open.
	Apply(ctx context.Context, scanID int64, fn func() error) error
	Report(ctx context.Context, r JobReport)
}

// ChangeApplier is the diff side of the worker.
type ChangeApplier interface {
	Apply(ctx context.Context, scanID int64, entityID string, fields map[string]any) ([]entity.ChangeRecord, error)
	MarkDeleted(ctx context.Context, scanID int64, entityID string) ([]entity.ChangeRecord, error)
}

type WorkerConfig struct {
	Concurrency         int
	PollInterval        time.Duration
	ExtractTimeout      time.Duration
	ConfidenceThreshold float64
	Strategies          []entity.Strategy
	ExpectedFields      []string
	StallCheckInterval  time.Duration
	Retry               entity.RetryPolicy
}

// WorkerPool is a bounded set of workers pulling jobs from the queue.
type WorkerPool struct {
	cfg        WorkerConfig
	queue      repository.JobQueue
	extractors map[entity.Strategy]repository.Extractor
	diff       ChangeApplier
	gate       ScanGate
	normalizer *Normalizer
	logger     *zap.Logger
	id         string
	wg         sync.WaitGroup
}

func NewWorkerPool(
	cfg WorkerConfig,
	queue repository.JobQueue,
	extractors map[entity.Strategy]repository.Extractor,
	diff ChangeApplier,
	gate ScanGate,
	logger *zap.Logger,
) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []entity.Strategy{entity.StrategyPrimary}
	}
	return &WorkerPool{
		cfg:        cfg,
		queue:      queue,
		extractors: extractors,
		diff:       diff,
		gate:       gate,
		normalizer: NewNormalizer(nil),
		logger:     logger.Named("worker"),
		id:         uuid.NewString()[:8],
	}
}

// Start launches the workers and the stall janitor. They stop when ctx is done.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("%s-%d", p.id, i))
	}
	if p.cfg.StallCheckInterval > 0 {
		p.wg.Add(1)
		go p.janitor(ctx)
	}
	p.logger.Info("worker pool started", zap.Int("concurrency", p.cfg.Concurrency))
}

// Wait blocks until every worker has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, token string) {
	defer p.wg.Done()
	logger := p.logger.With(zap.String("worker", token))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx, token)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("failed to dequeue job", zap.Error(err))
			}
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		p.Process(ctx, job)
	}
}

// Process runs one claimed job to settlement.
func (p *WorkerPool) Process(ctx context.Context, job *entity.ScanJob) {
	start := time.Now()
	logger := p.logger.With(
		zap.Int64("scan_id", job.ScanID),
		zap.String("job_id", job.JobID),
		zap.String("target", job.Target.String()),
		zap.Int("attempt", job.AttemptCount),
	)
	defer func() {
		metrics.JobDuration.WithLabelValues(string(job.Target.Kind)).Observe(time.Since(start).Seconds())
	}()

	// A job recovered after its final attempt stalled must not run again.
	if job.AttemptCount > p.cfg.Retry.MaxAttempts {
		logger.Warn("job exceeded its attempt budget, force failing")
		p.abandon(ctx, logger, job, entity.ErrQueueExhausted, true)
		return
	}

	scanCtx, release, err := p.gate.Admit(ctx, job)
	if err != nil {
		logger.Info("scan no longer accepts work, abandoning job", zap.Error(err))
		p.abandon(ctx, logger, job, err, false)
		return
	}
	defer release()

	extraction, err := p.extract(scanCtx, job.Target)
	if err != nil {
		if scanCtx.Err() != nil {
			// The scan was finalized or the pool is stopping mid-extraction.
			if ctx.Err() != nil {
				p.release(logger, job)
			} else {
				p.abandon(ctx, logger, job, scanCtx.Err(), false)
			}
			return
		}
		p.handleFailure(ctx, logger, job, err)
		return
	}

	p.handleSuccess(ctx, logger, job, extraction)
}

// extract walks the strategy chain until one result meets the confidence
// threshold. Errors end the chain; only weak results fall through.
func (p *WorkerPool) extract(ctx context.Context, target entity.Target) (*entity.Extraction, error) {
	var best *entity.Extraction
	for _, strategy := range p.cfg.Strategies {
		ex, ok := p.extractors[strategy]
		if !ok {
			continue
		}
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.cfg.ExtractTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.ExtractTimeout)
		}
		result, err := ex.Extract(attemptCtx, target)
		cancel()
		if err != nil {
			outcome := "transient"
			if entity.IsPermanent(err) {
				outcome = "permanent"
			}
			metrics.ExtractionsTotal.WithLabelValues(string(strategy), outcome).Inc()
			return nil, err
		}
		if result == nil {
			result = &entity.Extraction{}
		}
		result.Strategy = strategy
		if len(result.Items) > 0 && result.Confidence >= p.cfg.ConfidenceThreshold {
			metrics.ExtractionsTotal.WithLabelValues(string(strategy), "ok").Inc()
			return result, nil
		}
		metrics.ExtractionsTotal.WithLabelValues(string(strategy), "low_confidence").Inc()
		p.logger.Debug("extraction below confidence threshold",
			zap.String("target", target.String()),
			zap.String("strategy", string(strategy)),
			zap.Float64("confidence", result.Confidence),
			zap.Int("items", len(result.Items)))
		if best == nil || result.Confidence > best.Confidence {
			best = result
		}
	}
	if best == nil {
		return nil, entity.Transient(target, errors.New("no extractor configured"))
	}
	if len(best.Items) == 0 {
		return nil, entity.Transient(target, entity.ErrEmptyExtraction)
	}
	return nil, entity.Transient(target, fmt.Errorf("%w: best %.2f from %s", entity.ErrLowConfidence, best.Confidence, best.Strategy))
}

func (p *WorkerPool) handleSuccess(ctx context.Context, logger *zap.Logger, job *entity.ScanJob, extraction *entity.Extraction) {
	report := JobReport{
		ScanID:       job.ScanID,
		JobID:        job.JobID,
		Outcome:      JobSucceeded,
		Items:        len(extraction.Items),
		Completeness: p.completeness(extraction.Items),
	}
	metrics.FieldCompleteness.Observe(report.Completeness)

	err := p.gate.Apply(ctx, job.ScanID, func() error {
		for _, item := range extraction.Items {
			entityID := item.EntityID
			if entityID == "" && job.Target.Kind == entity.TargetEntity {
				entityID = job.Target.EntityID
			}
			if entityID == "" {
				logger.Warn("skipping extracted item without entity id")
				continue
			}
			records, err := p.diff.Apply(ctx, job.ScanID, entityID, item.Fields)
			if errors.Is(err, entity.ErrStaleScan) {
				logger.Warn("skipping stale extraction", zap.String("entity_id", entityID), zap.Error(err))
				continue
			}
			if err != nil {
				return fmt.Errorf("apply diff for %s: %w", entityID, err)
			}
			tally(&report, records)
		}
		return p.queue.Ack(ctx, job.JobID)
	})

	switch {
	case err == nil:
		metrics.JobsTotal.WithLabelValues("completed").Inc()
		logger.Info("job completed",
			zap.String("strategy", string(extraction.Strategy)),
			zap.Int("items", report.Items),
			zap.Int("new", report.New),
			zap.Int("updated", report.Updated))
		p.gate.Report(ctx, report)
	case errors.Is(err, entity.ErrJobNotActive):
		logger.Warn("job claim lost before ack, leaving settlement to the new owner")
	case errors.Is(err, entity.ErrScanNotActive):
		logger.Info("scan closed before results were applied, abandoning job")
		p.abandon(ctx, logger, job, err, false)
	default:
		// Diff errors are retried like extraction failures; re-diffing is idempotent.
		p.handleFailure(ctx, logger, job, err)
	}
}

func (p *WorkerPool) handleFailure(ctx context.Context, logger *zap.Logger, job *entity.ScanJob, jobErr error) {
	if entity.IsPermanent(jobErr) {
		if job.Target.Kind == entity.TargetEntity {
			p.handleGone(ctx, logger, job, jobErr)
			return
		}
		logger.Warn("page target permanently failed", zap.Error(jobErr))
		p.abandon(ctx, logger, job, jobErr, true)
		return
	}

	outcome, err := p.queue.Fail(ctx, job.JobID, jobErr.Error())
	if err != nil {
		if errors.Is(err, entity.ErrJobNotActive) {
			logger.Warn("job claim lost before fail")
			return
		}
		logger.Error("failed to record job failure", zap.Error(err))
		return
	}
	metrics.JobsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == entity.FailRetried {
		logger.Info("job failed, retry scheduled", zap.Error(jobErr))
		return
	}
	logger.Warn("job exhausted its retry attempts", zap.Error(jobErr))
	p.gate.Report(ctx, JobReport{
		ScanID:  job.ScanID,
		JobID:   job.JobID,
		Outcome: JobFailed,
		Err:     fmt.Errorf("%w: %w", entity.ErrQueueExhausted, jobErr),
	})
}

// handleGone routes a vanished entity through the deletion path. The job
// itself succeeded: it established that the listing no longer exists.
func (p *WorkerPool) handleGone(ctx context.Context, logger *zap.Logger, job *entity.ScanJob, cause error) {
	report := JobReport{ScanID: job.ScanID, JobID: job.JobID, Outcome: JobSucceeded}
	err := p.gate.Apply(ctx, job.ScanID, func() error {
		records, err := p.diff.MarkDeleted(ctx, job.ScanID, job.Target.EntityID)
		if err != nil {
			return fmt.Errorf("mark %s deleted: %w", job.Target.EntityID, err)
		}
		tally(&report, records)
		return p.queue.Ack(ctx, job.JobID)
	})
	switch {
	case err == nil:
		metrics.JobsTotal.WithLabelValues("deleted").Inc()
		logger.Info("entity no longer exists", zap.Error(cause))
		p.gate.Report(ctx, report)
	case errors.Is(err, entity.ErrJobNotActive):
		logger.Warn("job claim lost before ack")
	case errors.Is(err, entity.ErrScanNotActive):
		p.abandon(ctx, logger, job, err, false)
	default:
		p.handleFailure(ctx, logger, job, err)
	}
}

// abandon fails the job without retry. report controls whether the failure
// counts against the scan.
func (p *WorkerPool) abandon(ctx context.Context, logger *zap.Logger, job *entity.ScanJob, cause error, report bool) {
	actx, cancel := detached(ctx)
	defer cancel()
	if err := p.queue.Abandon(actx, job.JobID, cause.Error()); err != nil {
		if !errors.Is(err, entity.ErrJobNotActive) {
			logger.Error("failed to abandon job", zap.Error(err))
		}
		return
	}
	metrics.JobsTotal.WithLabelValues("abandoned").Inc()
	if report {
		p.gate.Report(actx, JobReport{ScanID: job.ScanID, JobID: job.JobID, Outcome: JobFailed, Err: cause})
	}
}

func (p *WorkerPool) release(logger *zap.Logger, job *entity.ScanJob) {
	ctx, cancel := detached(context.Background())
	defer cancel()
	if err := p.queue.Release(ctx, job.JobID); err != nil && !errors.Is(err, entity.ErrJobNotActive) {
		logger.Error("failed to release job", zap.Error(err))
	}
}

// completeness is the share of expected fields present across items.
func (p *WorkerPool) completeness(items []entity.ExtractedItem) float64 {
	if len(p.cfg.ExpectedFields) == 0 || len(items) == 0 {
		return 1
	}
	present := 0
	for _, item := range items {
		fields := p.normalizer.Normalize(item.Fields)
		for _, f := range p.cfg.ExpectedFields {
			if _, ok := fields[f]; ok {
				present++
			}
		}
	}
	return float64(present) / float64(len(p.cfg.ExpectedFields)*len(items))
}

func (p *WorkerPool) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.StallCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RecoverStalled(ctx)
			if err != nil {
				p.logger.Error("failed to recover stalled jobs", zap.Error(err))
			} else if n > 0 {
				p.logger.Warn("recovered stalled jobs", zap.Int("count", n))
			}
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				p.logger.Error("failed to read queue stats", zap.Error(err))
				continue
			}
			metrics.QueueJobs.WithLabelValues(string(entity.JobWaiting)).Set(float64(stats.Waiting))
			metrics.QueueJobs.WithLabelValues(string(entity.JobActive)).Set(float64(stats.Active))
			metrics.QueueJobs.WithLabelValues(string(entity.JobCompleted)).Set(float64(stats.Completed))
			metrics.QueueJobs.WithLabelValues(string(entity.JobFailed)).Set(float64(stats.Failed))
		}
	}
}

// tally counts entities, not fields: an entity with three changed fields is
// one update.
func tally(r *JobReport, records []entity.ChangeRecord) {
	updated := false
	for _, rec := range records {
		switch rec.ChangeType {
		case entity.ChangeNew:
			r.New++
		case entity.ChangeDeleted:
			r.Deleted++
		case entity.ChangeUpdated:
			updated = true
		}
	}
	if updated {
		r.Updated++
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
