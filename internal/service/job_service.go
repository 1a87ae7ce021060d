package service

import (
	"context"
	"fmt"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/model"
	"pdf2audio/internal/repository"
	"pdf2audio/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Enqueuer hands accepted jobs to the conversion workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// JobService is the request-path surface over the job registry: create with
// the entitlement gate, owner-scoped reads, and listing.
type JobService interface {
	CreateJob(ctx context.Context, userID, filename string, pdfData []byte, opts model.JobOptions) (*model.Job, error)
	GetJob(ctx context.Context, userID, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]model.Job, error)
}

type jobService struct {
	db          repository.TxBeginner
	jobRepo     repository.JobRepository
	entitlement EntitlementService
	store       storage.ObjectStore
	enqueuer    Enqueuer
	logger      zerolog.Logger
}

// NewJobService creates a new JobService with a scoped logger.
func NewJobService(
	db repository.TxBeginner,
	jobRepo repository.JobRepository,
	entitlement EntitlementService,
	store storage.ObjectStore,
	enqueuer Enqueuer,
	logger zerolog.Logger,
) JobService {
	return &jobService{
		db:          db,
		jobRepo:     jobRepo,
		entitlement: entitlement,
		store:       store,
		enqueuer:    enqueuer,
		logger:      logger.With().Str("service", "JobService").Logger(),
	}
}

// CreateJob validates options, admits the job through the entitlement gate,
// stores the source document and enqueues the conversion.
func (s *jobService) CreateJob(ctx context.Context, userID, filename string, pdfData []byte, opts model.JobOptions) (*model.Job, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(pdfData) == 0 {
		return nil, fmt.Errorf("%w: empty document", apperr.ErrValidation)
	}

	if err := s.entitlement.ReserveJobSlot(ctx, userID); err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:               uuid.NewString(),
		UserID:           userID,
		OriginalFilename: filename,
		Options:          opts,
	}
	job.PDFKey = fmt.Sprintf("jobs/%s/original.pdf", job.ID)

	if _, err := s.store.Put(ctx, job.PDFKey, pdfData); err != nil {
		s.logger.Error().Err(err).Str("pdf_key", job.PDFKey).Msg("Failed to store source document")
		return nil, fmt.Errorf("store source document: %w", err)
	}

	if err := s.jobRepo.Create(ctx, s.db, job); err != nil {
		// Clean up the uploaded document so the bucket doesn't accumulate
		// orphans for jobs that never existed.
		if delErr := s.store.Delete(ctx, job.PDFKey); delErr != nil {
			s.logger.Error().Err(delErr).Str("pdf_key", job.PDFKey).Msg("Failed to clean up source document after create failure")
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create job record")
		return nil, err
	}

	if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
		// The job row exists and the document is stored; processing needs a
		// manual re-enqueue. Surfacing an error here would double-charge.
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue conversion job")
	}

	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := s.jobRepo.GetUserJob(ctx, s.db, userID, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch job")
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) ListJobs(ctx context.Context, userID string, limit, offset int) ([]model.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	jobs, err := s.jobRepo.ListByUser(ctx, s.db, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list jobs")
		return nil, err
	}
	return jobs, nil
}
