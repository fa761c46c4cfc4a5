package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/store"
)

// Sweeper deletes budget rows whose day has aged out of the aggregation
// window. Rows older than the retention horizon can never be consumed
// again, so keeping them only grows the table.
type Sweeper struct {
	store    store.BudgetStore
	logger   *zap.Logger
	retain   int
	interval time.Duration
	stopCh   chan struct{}
}

type Config struct {
	// RetentionDays is the horizon in whole days. Zero disables sweeping.
	RetentionDays int
	Interval      time.Duration
}

func NewSweeper(st store.BudgetStore, logger *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Sweeper{
		store:    st,
		logger:   logger,
		retain:   cfg.RetentionDays,
		interval: cfg.Interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. Disabled sweepers return
// without spawning anything.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.retain <= 0 {
		s.logger.Info("Retention sweeping disabled")
		return nil
	}

	s.logger.Info("Starting retention sweeper",
		zap.Int("retention_days", s.retain),
		zap.Duration("interval", s.interval))

	go s.sweepLoop(ctx)
	return nil
}

// Stop shuts the sweep loop down.
func (s *Sweeper) Stop() error {
	close(s.stopCh)
	return nil
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper context cancelled")
			return
		case <-s.stopCh:
			s.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Retention sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce deletes everything older than the horizon relative to now.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := budget.DayOf(time.Now()) - budget.Day(s.retain)
	deleted, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("Pruned expired budget rows",
			zap.Int64("rows", deleted),
			zap.Int64("cutoff_day", int64(cutoff)))
	}
	return nil
}
