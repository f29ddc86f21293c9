package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"liguns/internal/models"

	"github.com/rs/zerolog"
)

// Runner is the job a Scheduler ticks.
type Runner interface {
	Run(ctx context.Context) (*models.JobSummary, error)
}

// Scheduler invokes a Runner on a fixed interval. A tick that arrives while
// the previous run is still going is skipped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	running  atomic.Bool
	logger   *zerolog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("publish scheduler started")
	defer s.logger.Info().Msg("publish scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.Tick(ctx)
		}
	}
}

// Tick runs the job once unless a run is already active. It reports
// whether a run was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("previous run still active, skipping tick")
		return false
	}
	defer s.running.Store(false)

	summary, err := s.runner.Run(WithTrigger(ctx, "ticker"))
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info().Msg("another instance is publishing, skipping tick")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled publish run failed")
	default:
		s.logger.Debug().Int("processed", summary.Processed).Msg("scheduled publish run finished")
	}
	return true
}
