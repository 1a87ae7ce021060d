package service

import (
	"context"
	"time"

	"pdf2audio/internal/config"
	"pdf2audio/internal/repository"
	"pdf2audio/internal/storage"

	"github.com/rs/zerolog"
)

// CleanupService reclaims terminal jobs past the retention window along with
// their stored artifacts.
type CleanupService interface {
	// Sweep deletes one batch of expired jobs and returns the count reclaimed.
	Sweep(ctx context.Context) (int, error)
}

type cleanupService struct {
	db      repository.TxBeginner
	cfg     *config.Config
	jobRepo repository.JobRepository
	store   storage.ObjectStore
	logger  zerolog.Logger
}

// NewCleanupService creates a new CleanupService with a scoped logger.
func NewCleanupService(
	db repository.TxBeginner,
	cfg *config.Config,
	jobRepo repository.JobRepository,
	store storage.ObjectStore,
	logger zerolog.Logger,
) CleanupService {
	return &cleanupService{
		db:      db,
		cfg:     cfg,
		jobRepo: jobRepo,
		store:   store,
		logger:  logger.With().Str("service", "CleanupService").Logger(),
	}
}

func (s *cleanupService) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	jobs, err := s.jobRepo.ListReclaimable(ctx, s.db, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list reclaimable jobs")
		return 0, err
	}

	reclaimed := 0
	for _, job := range jobs {
		// Artifact deletion is best effort; the row goes regardless so one
		// stuck object cannot pin a job forever.
		if err := s.store.Delete(ctx, job.PDFKey); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", job.PDFKey).Msg("Failed to delete source artifact")
		}
		if job.AudioKey != nil {
			if err := s.store.Delete(ctx, *job.AudioKey); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", *job.AudioKey).Msg("Failed to delete audio artifact")
			}
		}
		if err := s.jobRepo.Delete(ctx, s.db, job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to delete expired job row")
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		s.logger.Info().Int("reclaimed", reclaimed).Msg("Retention sweep finished")
	}
	return reclaimed, nil
}
