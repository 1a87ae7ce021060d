package worker

import (
	"context"
	"time"

	"pdf2audio/internal/config"
	"pdf2audio/internal/service"

	"github.com/rs/zerolog"
)

// Sweeper runs the retention sweep on a fixed interval.
type Sweeper struct {
	cfg     *config.Config
	cleanup service.CleanupService
	logger  zerolog.Logger
}

// NewSweeper wires the sweep loop.
func NewSweeper(cfg *config.Config, cleanup service.CleanupService, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		cleanup: cleanup,
		logger:  logger.With().Str("worker", "sweeper").Logger(),
	}
}

// Run sweeps immediately, then on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.SweepIntervalHours) * time.Hour
	s.logger.Info().Dur("interval", interval).Msg("Starting retention sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Shutting down retention sweeper")
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	// A full batch means more expired rows may remain; keep sweeping until a
	// short batch says the backlog is drained.
	for {
		n, err := s.cleanup.Sweep(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Retention sweep failed")
			return
		}
		if n < s.cfg.SweepBatchSize {
			return
		}
	}
}
