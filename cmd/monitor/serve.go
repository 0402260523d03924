package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/adapter/chromedp_crawler"
	"github.com/user/listing-monitor/internal/adapter/htmlparse"
	"github.com/user/listing-monitor/internal/adapter/httpfetch"
	"github.com/user/listing-monitor/internal/adapter/memory"
	natsadapter "github.com/user/listing-monitor/internal/adapter/nats"
	"github.com/user/listing-monitor/internal/adapter/postgres"
	redisadapter "github.com/user/listing-monitor/internal/adapter/redis"
	"github.com/user/listing-monitor/internal/delivery/http/handler"
	"github.com/user/listing-monitor/internal/delivery/http/router"
	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/internal/repository"
	"github.com/user/listing-monitor/internal/usecase"
	"github.com/user/listing-monitor/pkg/config"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the scan coordinator, the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
}

type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	coordinator *usecase.ScanCoordinator
	workers     *usecase.WorkerPool
	scheduler   *usecase.ScanScheduler
	server      *http.Server
	closers     []func()
}

type stores struct {
	snapshots repository.SnapshotRepository
	changes   repository.ChangeLogRepository
	scans     repository.ScanRepository
}

// buildApp wires every component from cfg. Resources opened here are
// released by close.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	policy := entity.RetryPolicy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BaseBackoff,
		MaxDelay:    cfg.Queue.MaxBackoff,
	}
	queue, limiter, err := a.openQueue(ctx, policy)
	if err != nil {
		return nil, err
	}

	var publisher repository.ChangePublisher
	if cfg.NATS.URL != "" {
		nc, err := natsadapter.Connect(cfg.NATS.URL, log.Named("nats"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := nc.Drain(); err != nil {
				log.Warn("failed to drain nats connection", zap.Error(err))
			}
		})
		publisher = natsadapter.NewChangePublisher(nc, cfg.NATS.SubjectPrefix)
		log.Info("publishing changes to nats", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	strategies, extractors, err := a.buildExtractors()
	if err != nil {
		return nil, err
	}

	diff := usecase.NewDiffEngine(usecase.DiffConfig{
		AuditUnchanged:     cfg.Diff.AuditUnchanged,
		NumericFields:      cfg.Diff.NumericFields,
		MaxConflictRetries: cfg.Diff.MaxConflictRetries,
		Scorer: usecase.WeightedScorer{
			Weights:         cfg.Diff.Weights,
			DefaultWeight:   cfg.Diff.DefaultWeight,
			LifecycleWeight: cfg.Diff.LifecycleWeight,
		},
	}, st.snapshots, publisher, log)

	a.coordinator = usecase.NewScanCoordinator(usecase.CoordinatorConfig{
		FailureThreshold:          cfg.Scan.FailureThreshold,
		Deadline:                  cfg.Scan.Deadline,
		CancelGracePeriod:         cfg.Scan.CancelGracePeriod,
		WatchInterval:             cfg.Scan.WatchInterval,
		ReconcileOnPartialFailure: cfg.Scan.ReconcileOnPartialFailure,
		PagePriority:              cfg.Scan.PagePriority,
		EntityPriority:            cfg.Scan.EntityPriority,
		PageURLTemplate:           cfg.Extractor.PageURLTemplate,
		EntityURLTemplate:         cfg.Extractor.EntityURLTemplate,
	}, st.scans, queue, st.snapshots, st.changes, diff, log)

	a.workers = usecase.NewWorkerPool(usecase.WorkerConfig{
		Concurrency:         cfg.Worker.Concurrency,
		PollInterval:        cfg.Worker.PollInterval,
		ExtractTimeout:      cfg.Worker.ExtractTimeout,
		ConfidenceThreshold: cfg.Worker.ConfidenceThreshold,
		Strategies:          strategies,
		ExpectedFields:      cfg.Extractor.ExpectedFields,
		StallCheckInterval:  cfg.Worker.StallCheckInterval,
		Retry:               policy,
	}, usecase.NewRateLimitedQueue(queue, limiter), extractors, diff, a.coordinator, log)

	if cfg.Schedule.Cron != "" {
		a.scheduler, err = usecase.NewScanScheduler(usecase.ScheduleConfig{
			Cron:      cfg.Schedule.Cron,
			FirstPage: cfg.Schedule.FirstPage,
			LastPage:  cfg.Schedule.LastPage,
		}, a.coordinator, log)
		if err != nil {
			return nil, err
		}
	}

	a.server = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.New(handler.NewHandler(a.coordinator, log), log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	if a.cfg.Store == "memory" {
		a.logger.Warn("using in-memory store, state is lost on exit")
		changes := memory.NewChangeLogRepo()
		return stores{
			snapshots: memory.NewSnapshotRepo(changes),
			changes:   changes,
			scans:     memory.NewScanRepo(),
		}, nil
	}

	db, err := postgres.Connect(ctx, a.cfg.Postgres.URL, a.cfg.Postgres.MaxConns)
	if err != nil {
		return stores{}, err
	}
	a.closers = append(a.closers, db.Close)
	a.logger.Info("PostgreSQL connection pool established")
	return stores{
		snapshots: postgres.NewSnapshotRepo(db),
		changes:   postgres.NewChangeLogRepo(db),
		scans:     postgres.NewScanRepo(db),
	}, nil
}

func (a *app) openQueue(ctx context.Context, policy entity.RetryPolicy) (repository.JobQueue, repository.RateLimiter, error) {
	q := a.cfg.Queue
	if q.Backend == "memory" {
		return memory.NewQueueRepo(policy, q.VisibilityTimeout), memory.NewRateLimiter(q.RateLimit, q.RateWindow), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("unable to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.logger.Info("Redis connection established")
	return redisadapter.NewQueueRepo(rdb, q.KeyPrefix, policy, q.VisibilityTimeout),
		redisadapter.NewRateLimiter(rdb, q.KeyPrefix+"ratelimit", q.RateLimit, q.RateWindow),
		nil
}

func (a *app) buildExtractors() ([]entity.Strategy, map[entity.Strategy]repository.Extractor, error) {
	ex := a.cfg.Extractor
	parser := htmlparse.NewParser(selectors(ex.Selectors))
	browserOpts := chromedp_crawler.Options{MaxBrowsers: ex.MaxBrowsers, UserAgent: ex.UserAgent}

	strategies := make([]entity.Strategy, 0, len(a.cfg.Worker.Strategies))
	extractors := make(map[entity.Strategy]repository.Extractor)
	for _, name := range a.cfg.Worker.Strategies {
		s, ok := entity.ParseStrategy(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown extraction strategy %q", name)
		}
		if _, dup := extractors[s]; dup {
			continue
		}
		switch s {
		case entity.StrategyPrimary:
			c := chromedp_crawler.NewChromedpExtractor(browserOpts, parser, nil, a.logger)
			a.closers = append(a.closers, c.Close)
			extractors[s] = c
		case entity.StrategyStealth:
			c := chromedp_crawler.NewChromedpExtractor(browserOpts, parser, chromedp_crawler.NewRotator(ex.UserAgents, ex.Proxies), a.logger)
			a.closers = append(a.closers, c.Close)
			extractors[s] = c
		case entity.StrategyFallback:
			extractors[s] = httpfetch.NewFetcher(&http.Client{Timeout: a.cfg.Worker.ExtractTimeout}, parser, ex.UserAgent)
		}
		strategies = append(strategies, s)
	}
	return strategies, extractors, nil
}

func selectors(c config.SelectorsConfig) htmlparse.Selectors {
	fields := make(map[string]htmlparse.FieldSelector, len(c.Fields))
	for name, f := range c.Fields {
		fields[name] = htmlparse.FieldSelector{Selector: f.Selector, Attr: f.Attr}
	}
	return htmlparse.Selectors{Item: c.Item, ID: c.ID, IDAttr: c.IDAttr, Fields: fields}
}

// run blocks until ctx is done or the HTTP server fails, then shuts
// everything down in reverse dependency order.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.workers.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.coordinator.Run(ctx)
	}()
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.scheduler.Run(ctx); err != nil {
				a.logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server forced to shutdown", zap.Error(err))
	}
	a.workers.Wait()
	wg.Wait()
	a.logger.Info("Server exiting")
	return runErr
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
