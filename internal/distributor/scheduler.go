package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/jonboulle/clockwork"
)

// CycleRunner runs one distribution cycle. *Runner satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// SchedulerConfig holds the periodic distribution loop configuration.
type SchedulerConfig struct {
	Logger   *slog.Logger
	Runner   CycleRunner
	Interval time.Duration
	Clock    clockwork.Clock
}

func (c *SchedulerConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Interval == 0 {
		c.Interval = config.DefaultCycleInterval
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Scheduler runs distribution cycles on a fixed interval. A tick that
// lands while a cycle is still running is skipped, not queued.
type Scheduler struct {
	log *slog.Logger
	cfg SchedulerConfig
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{log: cfg.Logger, cfg: cfg}, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("distribution scheduler started", "interval", s.cfg.Interval)
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("distribution scheduler stopped")
			return ctx.Err()
		case <-ticker.Chan():
		}

		res, err := s.cfg.Runner.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress):
			s.log.Warn("previous distribution cycle still running, skipping tick")
		case err != nil:
			s.log.Error("scheduled distribution cycle failed", "error", err)
		default:
			s.log.Info("scheduled distribution cycle complete", "processed", res.ProcessedCount, "transactions", len(res.Transactions))
		}
	}
}
