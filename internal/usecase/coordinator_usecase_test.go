package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/adapter/memory"
	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
)

type extractFunc func(t entity.Target, call int) (*entity.Extraction, error)

type scriptedExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    extractFunc
}

func newScriptedExtractor(fn extractFunc) *scriptedExtractor {
	return &scriptedExtractor{calls: make(map[string]int), fn: fn}
}

func (e *scriptedExtractor) Extract(_ context.Context, t entity.Target) (*entity.Extraction, error) {
	e.mu.Lock()
	e.calls[t.String()]++
	call := e.calls[t.String()]
	e.mu.Unlock()
	return e.fn(t, call)
}

func (e *scriptedExtractor) Calls(t string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[t]
}

func items(ids ...string) *entity.Extraction {
	ex := &entity.Extraction{Confidence: 1}
	for _, id := range ids {
		ex.Items = append(ex.Items, entity.ExtractedItem{
			EntityID: id,
			Fields:   map[string]any{"title": "Listing " + id, "price": "$1,000"},
		})
	}
	return ex
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakySnapshots fails the next commits of one entity with a store error.
type flakySnapshots struct {
	*memory.SnapshotRepoImpl
	mu       sync.Mutex
	entityID string
	failures int
}

func (s *flakySnapshots) failNext(entityID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entityID, s.failures = entityID, n
}

func (s *flakySnapshots) Commit(ctx context.Context, c entity.SnapshotCommit) error {
	s.mu.Lock()
	fail := s.failures > 0 && c.Entity.EntityID == s.entityID
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.SnapshotRepoImpl.Commit(ctx, c)
}

type harness struct {
	clock     *testClock
	log       *memory.ChangeLogRepoImpl
	snapshots *memory.SnapshotRepoImpl
	commits   *flakySnapshots
	scans     *memory.ScanRepoImpl
	queue     *memory.QueueRepoImpl
	coord     *ScanCoordinator
	pool      *WorkerPool
}

func newHarness(t *testing.T, threshold float64, extractors map[entity.Strategy]repository.Extractor, tweak func(*CoordinatorConfig)) *harness {
	t.Helper()
	h := &harness{clock: &testClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}}
	retry := entity.RetryPolicy{MaxAttempts: 3}

	h.log = memory.NewChangeLogRepo()
	h.snapshots = memory.NewSnapshotRepo(h.log)
	h.commits = &flakySnapshots{SnapshotRepoImpl: h.snapshots}
	h.scans = memory.NewScanRepo()
	h.queue = memory.NewQueueRepo(retry, time.Minute)
	h.queue.SetClock(h.clock.now)

	diff := NewDiffEngine(DiffConfig{NumericFields: []string{"price"}, MaxConflictRetries: 3}, h.commits, nil, zap.NewNop())
	cfg := CoordinatorConfig{
		FailureThreshold:  threshold,
		Deadline:          time.Hour,
		CancelGracePeriod: 30 * time.Second,
		PagePriority:      1,
		EntityPriority:    5,
		PageURLTemplate:   "https://market.example/listings?page=%d",
		EntityURLTemplate: "https://market.example/listing/%s",
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.coord = NewScanCoordinator(cfg, h.scans, h.queue, h.snapshots, h.log, diff, zap.NewNop())
	h.coord.now = h.clock.now

	strategies := []entity.Strategy{entity.StrategyPrimary, entity.StrategyFallback}
	h.pool = NewWorkerPool(WorkerConfig{
		Concurrency:         1,
		ConfidenceThreshold: 0.6,
		Strategies:          strategies,
		ExpectedFields:      []string{"title", "price"},
		Retry:               retry,
	}, h.queue, extractors, diff, h.coord, zap.NewNop())
	return h
}

// drain processes jobs synchronously until the queue has nothing due.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		job, err := h.queue.Dequeue(ctx, "test-worker")
		require.NoError(t, err)
		if job == nil {
			return
		}
		h.pool.Process(ctx, job)
	}
	t.Fatal("queue did not drain")
}

func (h *harness) scan(t *testing.T, id int64) *entity.ScanSession {
	t.Helper()
	s, err := h.scans.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func primaryOnly(e repository.Extractor) map[entity.Strategy]repository.Extractor {
	return map[entity.Strategy]repository.Extractor{entity.StrategyPrimary: e}
}

func TestScanWithOneFailingTarget(t *testing.T) {
	for _, tc := range []struct {
		name      string
		threshold float64
		status    entity.ScanStatus
		reason    entity.FailureReason
	}{
		{name: "tolerated", threshold: 0.5, status: entity.ScanCompleted},
		{name: "threshold exceeded", threshold: 0.2, status: entity.ScanFailed, reason: entity.ReasonThresholdExceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
				if target.Page == 2 {
					return nil, entity.Transient(target, errors.New("connection reset"))
				}
				return items(fmt.Sprintf("P%d", target.Page)), nil
			})
			h := newHarness(t, tc.threshold, primaryOnly(ex), nil)

			session, err := h.coord.StartScan(context.Background(), ScanRequest{Pages: []int{1, 2, 3}})
			require.NoError(t, err)
			h.drain(t)

			s := h.scan(t, session.ScanID)
			assert.Equal(t, 3, s.JobsTotal)
			assert.Equal(t, 2, s.JobsDone)
			assert.Equal(t, 1, s.JobsFailed)
			assert.Equal(t, 2, s.NewCount)
			assert.Equal(t, tc.status, s.Status)
			assert.Equal(t, tc.reason, s.Reason)
			assert.NotNil(t, s.CompletedAt)

			// Retry bound: exactly MaxAttempts extractions for the failing page.
			assert.Equal(t, 3, ex.Calls("page:2"))
			assert.Equal(t, 1, ex.Calls("page:1"))
		})
	}
}

func TestFullScanReconcilesVanishedEntities(t *testing.T) {
	seen := map[int][]string{1: {"E1", "E2"}, 2: {"E2"}}
	round := 1
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items(seen[round]...), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s1, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}, Full: true})
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, entity.ScanCompleted, h.scan(t, s1.ScanID).Status)

	round = 2
	s2, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}, Full: true})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s2.ScanID)
	assert.Equal(t, entity.ScanCompleted, got.Status)
	assert.Equal(t, 1, got.DeletedCount)

	e1, err := h.snapshots.Get(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, e1.Active)

	records, err := h.coord.GetChanges(ctx, entity.ChangeFilter{EntityID: "E1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, entity.ChangeDeleted, records[1].ChangeType)
	assert.Equal(t, s2.ScanID, records[1].ScanID)
}

func TestCountsIncludeRecordsOfFailedAttempts(t *testing.T) {
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1", "E2"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	h.commits.failNext("E2", 1)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}})
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, 2, ex.Calls("page:1"), "the first attempt failed midway and was retried")

	got := h.scan(t, s.ScanID)
	assert.Equal(t, entity.ScanCompleted, got.Status)
	assert.Equal(t, 1, got.JobsDone)
	assert.Equal(t, 2, got.NewCount)

	records, err := h.coord.GetChanges(ctx, entity.ChangeFilter{ScanID: s.ScanID})
	require.NoError(t, err)
	news := 0
	for _, r := range records {
		if r.ChangeType == entity.ChangeNew {
			news++
		}
	}
	assert.Equal(t, 2, news)
}

func TestPartialFailureSkipsReconciliation(t *testing.T) {
	round := 1
	ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
		if round == 2 && target.Page == 2 {
			return nil, errors.New("timeout")
		}
		return items(fmt.Sprintf("P%d", target.Page)), nil
	})
	h := newHarness(t, 0.5, primaryOnly(ex), nil)
	ctx := context.Background()

	_, err := h.coord.StartScan(ctx, ScanRequest{FirstPage: 1, LastPage: 2, Full: true})
	require.NoError(t, err)
	h.drain(t)

	round = 2
	s2, err := h.coord.StartScan(ctx, ScanRequest{FirstPage: 1, LastPage: 2, Full: true})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s2.ScanID)
	assert.Equal(t, entity.ScanCompleted, got.Status)
	assert.Zero(t, got.DeletedCount)
	p2, err := h.snapshots.Get(ctx, "P2")
	require.NoError(t, err)
	assert.True(t, p2.Active, "listings on a failed page are not reported deleted")
}

func TestPermanentFailureOnEntityTargetDeletes(t *testing.T) {
	gone := false
	ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
		if gone {
			return nil, entity.Permanent(target, errors.New("404"))
		}
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	_, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}})
	require.NoError(t, err)
	h.drain(t)

	gone = true
	s2, err := h.coord.StartScan(ctx, ScanRequest{EntityIDs: []string{"E1"}})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s2.ScanID)
	assert.Equal(t, entity.ScanCompleted, got.Status)
	assert.Equal(t, 1, got.JobsDone)
	assert.Equal(t, 1, got.DeletedCount)
	assert.Equal(t, 1, ex.Calls("entity:E1"), "permanent failures are not retried")

	e1, err := h.coord.GetEntity(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, e1.Active)
}

func TestPermanentFailureOnPageFailsJobOnce(t *testing.T) {
	ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
		return nil, entity.Permanent(target, errors.New("410"))
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)

	s, err := h.coord.StartScan(context.Background(), ScanRequest{Pages: []int{7}})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, 1, got.JobsFailed)
	assert.Equal(t, entity.ScanFailed, got.Status)
	assert.Equal(t, 1, ex.Calls("page:7"))
}

func TestLowConfidenceFallsBackToSecondaryStrategy(t *testing.T) {
	primary := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		ex := items("E1")
		ex.Confidence = 0.3
		return ex, nil
	})
	fallback := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, map[entity.Strategy]repository.Extractor{
		entity.StrategyPrimary:  primary,
		entity.StrategyFallback: fallback,
	}, nil)

	s, err := h.coord.StartScan(context.Background(), ScanRequest{Pages: []int{1}})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, entity.ScanCompleted, got.Status)
	assert.Equal(t, 1, got.NewCount)
	assert.Equal(t, 1, primary.Calls("page:1"))
	assert.Equal(t, 1, fallback.Calls("page:1"))
}

func TestLowConfidenceEverywhereIsTransient(t *testing.T) {
	weak := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		ex := items("E1")
		ex.Confidence = 0.1
		return ex, nil
	})
	h := newHarness(t, 0.2, primaryOnly(weak), nil)

	s, err := h.coord.StartScan(context.Background(), ScanRequest{Pages: []int{1}})
	require.NoError(t, err)
	h.drain(t)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, 1, got.JobsFailed)
	assert.Equal(t, 3, weak.Calls("page:1"))
	assert.Empty(t, h.log.All(), "weak extractions never reach the change log")
}

func TestCancelScanWithGracePeriod(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
		close(started)
		<-proceed
		return items(fmt.Sprintf("P%d", target.Page)), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1, 2, 3}})
	require.NoError(t, err)

	inFlight, err := h.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, inFlight)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pool.Process(ctx, inFlight)
	}()
	<-started

	require.NoError(t, h.coord.CancelScan(ctx, s.ScanID))
	require.NoError(t, h.coord.CancelScan(ctx, s.ScanID), "cancel is idempotent")

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting, "waiting jobs are purged")

	// The in-flight job may still finish inside the grace period.
	close(proceed)
	<-done
	assert.Equal(t, 1, h.scan(t, s.ScanID).JobsDone)
	assert.Equal(t, entity.ScanRunning, h.scan(t, s.ScanID).Status)

	h.clock.advance(time.Minute)
	h.coord.sweep(ctx)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, entity.ScanFailed, got.Status)
	assert.Equal(t, entity.ReasonCancelled, got.Reason)
	assert.ErrorIs(t, h.coord.CancelScan(ctx, s.ScanID), entity.ErrScanNotActive)
}

func TestCancelledFullScanSettlingInGraceSkipsReconciliation(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	round := 1
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		if round == 1 {
			return items("E0"), nil
		}
		close(started)
		<-proceed
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s1, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}, Full: true})
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, entity.ScanCompleted, h.scan(t, s1.ScanID).Status)

	round = 2
	s2, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}, Full: true})
	require.NoError(t, err)
	inFlight, err := h.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, inFlight)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pool.Process(ctx, inFlight)
	}()
	<-started

	require.NoError(t, h.coord.CancelScan(ctx, s2.ScanID))
	close(proceed)
	<-done

	got := h.scan(t, s2.ScanID)
	assert.Equal(t, entity.ScanFailed, got.Status)
	assert.Equal(t, entity.ReasonCancelled, got.Reason)
	assert.Zero(t, got.DeletedCount)

	e0, err := h.snapshots.Get(ctx, "E0")
	require.NoError(t, err)
	assert.True(t, e0.Active, "cancelled scans do not reconcile")
}

func TestCancelledScanAdmitsNoNewJobs(t *testing.T) {
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), func(c *CoordinatorConfig) { c.CancelGracePeriod = 0 })
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1, 2}})
	require.NoError(t, err)
	claimed, err := h.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, h.coord.CancelScan(ctx, s.ScanID))
	got := h.scan(t, s.ScanID)
	assert.Equal(t, entity.ScanFailed, got.Status)
	assert.Equal(t, entity.ReasonCancelled, got.Reason)

	h.pool.Process(ctx, claimed)
	assert.Zero(t, ex.Calls("page:1")+ex.Calls("page:2"))
	assert.Empty(t, h.log.All())
	assert.Zero(t, h.scan(t, s.ScanID).JobsDone, "counters are frozen once terminal")
}

func TestScanDeadlineFailsOutstandingScan(t *testing.T) {
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1, 2}})
	require.NoError(t, err)

	h.clock.advance(30 * time.Minute)
	h.coord.sweep(ctx)
	assert.Equal(t, entity.ScanPending, h.scan(t, s.ScanID).Status)

	h.clock.advance(time.Hour)
	h.coord.sweep(ctx)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, entity.ScanFailed, got.Status)
	assert.Equal(t, entity.ReasonDeadlineExceeded, got.Reason)

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestStalledFinalAttemptIsForceFailed(t *testing.T) {
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1"), nil
	})
	h := newHarness(t, 0.9, primaryOnly(ex), nil)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}})
	require.NoError(t, err)

	// Three claims that never settle, each recovered after the visibility timeout.
	for i := 0; i < 3; i++ {
		job, err := h.queue.Dequeue(ctx, "crashed")
		require.NoError(t, err)
		require.NotNil(t, job)
		h.clock.advance(2 * time.Minute)
		_, err = h.queue.RecoverStalled(ctx)
		require.NoError(t, err)
	}
	h.drain(t)

	got := h.scan(t, s.ScanID)
	assert.Equal(t, 1, got.JobsFailed)
	assert.Zero(t, ex.Calls("page:1"))
}

func TestStartScanValidatesTargets(t *testing.T) {
	h := newHarness(t, 0.2, nil, nil)
	ctx := context.Background()

	_, err := h.coord.StartScan(ctx, ScanRequest{})
	assert.ErrorIs(t, err, entity.ErrEmptyTargetSet)

	_, err = h.coord.StartScan(ctx, ScanRequest{FirstPage: 3, LastPage: 1})
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)

	_, err = h.coord.GetChanges(ctx, entity.ChangeFilter{})
	assert.ErrorIs(t, err, entity.ErrInvalidRequest)

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{2, 1}, FirstPage: 1, LastPage: 3, EntityIDs: []string{"E9", "E9"}})
	require.NoError(t, err)
	assert.Equal(t, 4, s.JobsTotal)

	first, err := h.queue.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, entity.TargetEntity, first.Target.Kind, "entity refreshes outrank pages")
	assert.Equal(t, "https://market.example/listing/E9", first.Target.URL)

	second, err := h.queue.Dequeue(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, "https://market.example/listings?page=1", second.Target.URL)
}

func TestProgressAndStats(t *testing.T) {
	ex := newScriptedExtractor(func(target entity.Target, _ int) (*entity.Extraction, error) {
		return items(fmt.Sprintf("P%d", target.Page)), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1, 2, 3, 4}})
	require.NoError(t, err)

	job, err := h.queue.Dequeue(ctx, "w")
	require.NoError(t, err)
	h.pool.Process(ctx, job)

	p, err := h.coord.GetProgress(ctx, s.ScanID)
	require.NoError(t, err)
	assert.Equal(t, entity.ScanRunning, p.Status)
	assert.InDelta(t, 25.0, p.Percent, 1e-9)
	assert.Equal(t, 1, p.NewCount)

	h.drain(t)
	stats, err := h.coord.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Queue.Completed)
	assert.Equal(t, int64(1), stats.Scans[entity.ScanCompleted])
	assert.Equal(t, int64(4), stats.ActiveEntities)

	_, err = h.coord.GetProgress(ctx, 99)
	assert.ErrorIs(t, err, entity.ErrScanNotFound)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	scans, err := h.coord.ListScans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.InDelta(t, 100.0, scans[0].Percent, 1e-9)
}

func TestCoordinatorAdoptsScansFromEarlierProcess(t *testing.T) {
	ex := newScriptedExtractor(func(entity.Target, int) (*entity.Extraction, error) {
		return items("E1"), nil
	})
	h := newHarness(t, 0.2, primaryOnly(ex), nil)
	ctx := context.Background()

	s, err := h.coord.StartScan(ctx, ScanRequest{Pages: []int{1}})
	require.NoError(t, err)

	// A fresh coordinator over the same stores, as after a restart.
	diff := NewDiffEngine(DiffConfig{}, h.snapshots, nil, zap.NewNop())
	restarted := NewScanCoordinator(h.coord.cfg, h.scans, h.queue, h.snapshots, h.log, diff, zap.NewNop())
	restarted.now = h.clock.now
	h.coord = restarted
	h.pool = NewWorkerPool(WorkerConfig{Retry: entity.RetryPolicy{MaxAttempts: 3}}, h.queue, primaryOnly(ex), diff, restarted, zap.NewNop())
	h.drain(t)

	assert.Equal(t, entity.ScanCompleted, h.scan(t, s.ScanID).Status)
}
