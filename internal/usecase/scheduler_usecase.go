package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/user/listing-monitor/internal/entity"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScanStarter is the part of the coordinator the scheduler drives.
type ScanStarter interface {
	StartScan(ctx context.Context, req ScanRequest) (*entity.ScanSession, error)
	GetProgress(ctx context.Context, scanID int64) (*entity.ScanProgress, error)
}

type ScheduleConfig struct {
	Cron      string
	FirstPage int
	LastPage  int
}

// ScanScheduler starts a full scan on every cron tick unless the previous
// scheduled scan is still in progress.
type ScanScheduler struct {
	cfg     ScheduleConfig
	starter ScanStarter
	logger  *zap.Logger

	mu       sync.Mutex
	lastScan int64
}

// NewScanScheduler validates the cron expression up front.
func NewScanScheduler(cfg ScheduleConfig, starter ScanStarter, logger *zap.Logger) (*ScanScheduler, error) {
	if _, err := cronParser.Parse(cfg.Cron); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Cron, err)
	}
	return &ScanScheduler{cfg: cfg, starter: starter, logger: logger.Named("scheduler")}, nil
}

// Run fires scans until ctx is done.
func (s *ScanScheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.cfg.Cron, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule scans: %w", err)
	}
	c.Start()
	s.logger.Info("scan schedule active", zap.String("cron", s.cfg.Cron))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Tick starts one scheduled scan. It returns the new scan id, or 0 when the
// tick was skipped.
func (s *ScanScheduler) Tick(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastScan != 0 {
		p, err := s.starter.GetProgress(ctx, s.lastScan)
		switch {
		case err != nil && !errors.Is(err, entity.ErrNotFound):
			s.logger.Error("failed to check previous scheduled scan", zap.Int64("scan_id", s.lastScan), zap.Error(err))
			return 0
		case err == nil && !p.Status.Terminal():
			s.logger.Info("previous scheduled scan still in progress, skipping tick",
				zap.Int64("scan_id", s.lastScan), zap.Float64("percent", p.Percent))
			return 0
		}
	}

	session, err := s.starter.StartScan(ctx, ScanRequest{
		FirstPage: s.cfg.FirstPage,
		LastPage:  s.cfg.LastPage,
		Full:      true,
	})
	if err != nil {
		s.logger.Error("failed to start scheduled scan", zap.Error(err))
		return 0
	}
	s.lastScan = session.ScanID
	return session.ScanID
}
