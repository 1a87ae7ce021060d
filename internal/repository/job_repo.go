package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/model"

	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, user_id, original_filename, pdf_s3_key, audio_s3_key, status,
        progress_percentage, error_message, voice_provider, voice_type, reading_speed,
        include_summary, conversion_mode, created_at, started_at, completed_at`

// JobRepository owns job rows and their state-machine transitions.
type JobRepository interface {
	Create(ctx context.Context, db DB, job *model.Job) error
	GetByID(ctx context.Context, db DB, jobID string) (*model.Job, error)
	GetUserJob(ctx context.Context, db DB, userID, jobID string) (*model.Job, error)
	ListByUser(ctx context.Context, db DB, userID string, limit, offset int) ([]model.Job, error)
	CountCreatedSince(ctx context.Context, db DB, userID string, since time.Time) (int, error)
	// Transition moves the job forward along pending -> processing -> terminal,
	// locking the job row so concurrent writers serialize on it.
	Transition(ctx context.Context, db TxBeginner, jobID string, next model.JobStatus, progress *int, errorMessage *string) (*model.Job, error)
	// UpdateProgress applies a monotonic progress update; it reports false when
	// the update was rejected as stale or the job is no longer processing.
	UpdateProgress(ctx context.Context, db DB, jobID string, progress int) (bool, error)
	SetAudioKey(ctx context.Context, db DB, jobID, audioKey string) error
	ListReclaimable(ctx context.Context, db DB, olderThan time.Time, limit int) ([]model.Job, error)
	Delete(ctx context.Context, db DB, jobID string) error
}

type jobRepo struct{}

// NewJobRepo creates a new JobRepository.
func NewJobRepo() JobRepository {
	return &jobRepo{}
}

func (r *jobRepo) Create(ctx context.Context, db DB, job *model.Job) error {
	const q = `
        INSERT INTO jobs (id, user_id, original_filename, pdf_s3_key, status, progress_percentage,
                          voice_provider, voice_type, reading_speed, include_summary, conversion_mode)
        VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10)
        RETURNING created_at
    `
	err := db.QueryRow(ctx, q,
		job.ID,
		job.UserID,
		job.OriginalFilename,
		job.PDFKey,
		model.JobStatusPending,
		job.Options.VoiceProvider,
		job.Options.VoiceType,
		job.Options.ReadingSpeed,
		job.Options.IncludeSummary,
		job.Options.ConversionMode,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job for user %s: %w", job.UserID, err)
	}
	job.Status = model.JobStatusPending
	job.Progress = 0
	return nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID,
		&j.UserID,
		&j.OriginalFilename,
		&j.PDFKey,
		&j.AudioKey,
		&j.Status,
		&j.Progress,
		&j.ErrorMessage,
		&j.Options.VoiceProvider,
		&j.Options.VoiceType,
		&j.Options.ReadingSpeed,
		&j.Options.IncludeSummary,
		&j.Options.ConversionMode,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	return &j, nil
}

func (r *jobRepo) GetByID(ctx context.Context, db DB, jobID string) (*model.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return scanJob(db.QueryRow(ctx, q, jobID))
}

func (r *jobRepo) GetUserJob(ctx context.Context, db DB, userID, jobID string) (*model.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 AND user_id = $2`, jobColumns)
	return scanJob(db.QueryRow(ctx, q, jobID, userID))
}

func (r *jobRepo) ListByUser(ctx context.Context, db DB, userID string, limit, offset int) ([]model.Job, error) {
	q := fmt.Sprintf(`
        SELECT %s
        FROM jobs
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `, jobColumns)
	rows, err := db.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs for user %s: %w", userID, err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job row iteration: %w", err)
	}
	return jobs, nil
}

func (r *jobRepo) CountCreatedSince(ctx context.Context, db DB, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM jobs WHERE user_id = $1 AND created_at >= $2`
	var count int
	if err := db.QueryRow(ctx, q, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs for user %s: %w", userID, err)
	}
	return count, nil
}

func (r *jobRepo) Transition(ctx context.Context, db TxBeginner, jobID string, next model.JobStatus, progress *int, errorMessage *string) (*model.Job, error) {
	if next == model.JobStatusFailed && (errorMessage == nil || *errorMessage == "") {
		return nil, fmt.Errorf("%w: failed transition requires an error message", apperr.ErrInvalidTransition)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin job transition: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	q := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 FOR UPDATE`, jobColumns)
	job, err := scanJob(tx.QueryRow(ctx, q, jobID))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}

	if !job.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s for job %s", apperr.ErrInvalidTransition, job.Status, next, jobID)
	}

	now := time.Now().UTC()
	newProgress := job.Progress
	if progress != nil {
		if *progress < job.Progress {
			return nil, fmt.Errorf("%w: progress %d below recorded %d for job %s",
				apperr.ErrInvalidTransition, *progress, job.Progress, jobID)
		}
		newProgress = *progress
	}

	switch next {
	case model.JobStatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case model.JobStatusCompleted:
		newProgress = 100
		job.CompletedAt = &now
	case model.JobStatusFailed:
		job.ErrorMessage = errorMessage
		job.CompletedAt = &now
	}

	const update = `
        UPDATE jobs
        SET status = $2,
            progress_percentage = $3,
            error_message = $4,
            started_at = $5,
            completed_at = $6
        WHERE id = $1
    `
	if _, err := tx.Exec(ctx, update, jobID, next, newProgress, job.ErrorMessage, job.StartedAt, job.CompletedAt); err != nil {
		return nil, fmt.Errorf("update job %s to %s: %w", jobID, next, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit job transition for %s: %w", jobID, err)
	}

	job.Status = next
	job.Progress = newProgress
	return job, nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, db DB, jobID string, progress int) (bool, error) {
	// The guard makes stale or reordered callbacks a no-op instead of an error.
	const q = `
        UPDATE jobs
        SET progress_percentage = $2
        WHERE id = $1
          AND status = 'processing'
          AND progress_percentage <= $2
    `
	tag, err := db.Exec(ctx, q, jobID, progress)
	if err != nil {
		return false, fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) SetAudioKey(ctx context.Context, db DB, jobID, audioKey string) error {
	const q = `UPDATE jobs SET audio_s3_key = $2 WHERE id = $1`
	if _, err := db.Exec(ctx, q, jobID, audioKey); err != nil {
		return fmt.Errorf("set audio key for job %s: %w", jobID, err)
	}
	return nil
}

func (r *jobRepo) ListReclaimable(ctx context.Context, db DB, olderThan time.Time, limit int) ([]model.Job, error) {
	q := fmt.Sprintf(`
        SELECT %s
        FROM jobs
        WHERE status IN ('completed', 'failed')
          AND completed_at < $1
        ORDER BY completed_at
        LIMIT $2
    `, jobColumns)
	rows, err := db.Query(ctx, q, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query reclaimable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reclaimable job iteration: %w", err)
	}
	return jobs, nil
}

func (r *jobRepo) Delete(ctx context.Context, db DB, jobID string) error {
	if _, err := db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}
