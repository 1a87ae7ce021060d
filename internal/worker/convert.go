package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/config"
	"pdf2audio/internal/model"
	"pdf2audio/internal/pipeline"
	"pdf2audio/internal/pubsub"
	"pdf2audio/internal/repository"
	"pdf2audio/internal/storage"

	"github.com/rs/zerolog"
)

// userFacingError is what a failed job shows the owner; full diagnostic
// detail stays in the logs.
const userFacingError = "Conversion failed. Please try again or contact support."

const timeoutError = "Conversion timed out."

// Converter executes conversion jobs pulled from the durable queue.
type Converter struct {
	cfg       *config.Config
	db        repository.TxBeginner
	queue     Queue
	jobRepo   repository.JobRepository
	store     storage.ObjectStore
	pipe      pipeline.Pipeline
	publisher pubsub.Publisher
	logger    zerolog.Logger
}

// NewConverter wires the convert loop.
func NewConverter(
	cfg *config.Config,
	db repository.TxBeginner,
	queue Queue,
	jobRepo repository.JobRepository,
	store storage.ObjectStore,
	pipe pipeline.Pipeline,
	publisher pubsub.Publisher,
	logger zerolog.Logger,
) *Converter {
	return &Converter{
		cfg:       cfg,
		db:        db,
		queue:     queue,
		jobRepo:   jobRepo,
		store:     store,
		pipe:      pipe,
		publisher: publisher,
		logger:    logger.With().Str("worker", "converter").Logger(),
	}
}

// Run polls the conversion queue until the context is cancelled.
func (c *Converter) Run(ctx context.Context) error {
	queue := c.cfg.ConversionQueueName
	c.logger.Info().Str("queue", queue).Msg("Starting conversion worker")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutting down conversion worker")
			return nil
		default:
		}

		msgs, err := c.queue.ReadWithPoll(ctx, queue, c.cfg.ConversionPollTimeoutSec, c.cfg.ConversionPollMaxMsg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("Error reading conversion queue")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			var payload taskPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Failed to unmarshal task payload; deleting message")
				c.ack(ctx, queue, msg.ID)
				continue
			}
			if err := c.process(ctx, payload.JobID); err != nil {
				// The job was not moved to a resolved state. Keep the message
				// so the visibility timeout redelivers it.
				c.logger.Error().Err(err).Str("job_id", payload.JobID).Int64("msg_id", msg.ID).Msg("Delivery unresolved, leaving message for redelivery")
				continue
			}
			c.ack(ctx, queue, msg.ID)
		}
	}
}

func (c *Converter) ack(ctx context.Context, queue string, msgID int64) {
	if err := c.queue.Delete(ctx, queue, []int64{msgID}); err != nil {
		c.logger.Error().Err(err).Int64("msg_id", msgID).Msg("Error deleting conversion message")
	}
}

// process executes one delivery. A nil return means the job reached a
// resolved state (skipped, Completed or Failed) and the delivery may be
// acknowledged; an error means the message must stay queued for redelivery.
func (c *Converter) process(ctx context.Context, jobID string) error {
	logger := c.logger.With().Str("job_id", jobID).Logger()

	job, err := c.jobRepo.GetByID(ctx, c.db, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		logger.Warn().Msg("Task references a job that no longer exists, skipping")
		return nil
	}

	switch job.Status {
	case model.JobStatusPending:
		// normal path
	case model.JobStatusProcessing:
		// Duplicate delivery while another worker holds the job, unless that
		// worker died: a Processing job older than the hard timeout is
		// abandoned and gets failed so it cannot stay stuck forever.
		if job.StartedAt != nil && time.Since(*job.StartedAt) > c.executionTimeout() {
			logger.Warn().Time("started_at", *job.StartedAt).Msg("Reclaiming abandoned job")
			return c.fail(ctx, jobID, timeoutError, logger)
		}
		logger.Info().Msg("Job already processing, skipping duplicate delivery")
		return nil
	default:
		logger.Info().Str("status", string(job.Status)).Msg("Job already terminal, skipping duplicate delivery")
		return nil
	}

	if _, err := c.jobRepo.Transition(ctx, c.db, jobID, model.JobStatusProcessing, intPtr(0), nil); err != nil {
		if errors.Is(err, apperr.ErrInvalidTransition) {
			logger.Info().Msg("Lost the race to start this job, skipping")
			return nil
		}
		return fmt.Errorf("start job %s: %w", jobID, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.executionTimeout())
	defer cancel()

	if err := c.execute(execCtx, job, logger); err != nil {
		msg := userFacingError
		if errors.Is(err, context.DeadlineExceeded) {
			msg = timeoutError
		}
		logger.Error().Err(err).Msg("Conversion failed")
		if failErr := c.fail(ctx, jobID, msg, logger); failErr != nil {
			return failErr
		}
		c.deadLetter(ctx, jobID, err)
	}
	return nil
}

func (c *Converter) executionTimeout() time.Duration {
	return time.Duration(c.cfg.ConversionJobTimeoutSec) * time.Second
}

func (c *Converter) execute(ctx context.Context, job *model.Job, logger zerolog.Logger) error {
	var source []byte
	err := c.withRetries(ctx, logger, "download source", func() error {
		var err error
		source, err = c.store.Get(ctx, job.PDFKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("download source for job %s: %w", job.ID, err)
	}

	lastProgress := 0
	onProgress := func(p int) {
		// Execution progress stays inside [0,99]; 100 is reserved for the
		// completed transition.
		if p < 0 {
			p = 0
		}
		if p > 99 {
			p = 99
		}
		if p < lastProgress {
			logger.Warn().Int("reported", p).Int("recorded", lastProgress).Msg("Ignoring out-of-order progress callback")
			return
		}
		ok, err := c.jobRepo.UpdateProgress(ctx, c.db, job.ID, p)
		if err != nil {
			logger.Error().Err(err).Int("progress", p).Msg("Failed to persist progress")
			return
		}
		if !ok {
			logger.Warn().Int("progress", p).Msg("Progress update rejected as stale")
			return
		}
		lastProgress = p
	}

	audio, err := c.pipe.Process(ctx, source, job.Options, onProgress)
	if err != nil {
		return fmt.Errorf("convert job %s: %w", job.ID, err)
	}

	audioKey := fmt.Sprintf("jobs/%s/audio.mp3", job.ID)
	err = c.withRetries(ctx, logger, "upload audio", func() error {
		_, err := c.store.Put(ctx, audioKey, audio)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload audio for job %s: %w", job.ID, err)
	}

	if err := c.jobRepo.SetAudioKey(ctx, c.db, job.ID, audioKey); err != nil {
		return err
	}
	if _, err := c.jobRepo.Transition(ctx, c.db, job.ID, model.JobStatusCompleted, intPtr(100), nil); err != nil {
		return err
	}
	logger.Info().Str("audio_key", audioKey).Msg("Conversion completed")
	c.publishEvent(ctx, job.ID, job.UserID, string(model.JobStatusCompleted), "")
	return nil
}

// withRetries runs op with bounded exponential backoff for transient
// infrastructure failures.
func (c *Converter) withRetries(ctx context.Context, logger zerolog.Logger, name string, op func() error) error {
	backoff := time.Duration(c.cfg.StorageBackoffInitialSec) * time.Second
	maxBackoff := time.Duration(c.cfg.StorageBackoffMaxSec) * time.Second
	var lastErr error
	for attempt := 1; attempt <= c.cfg.StorageMaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !apperr.IsTransient(lastErr) {
			return lastErr
		}
		logger.Error().Err(lastErr).Int("attempt", attempt).Str("op", name).Msg("Operation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", name, c.cfg.StorageMaxRetries, lastErr)
}

func (c *Converter) fail(ctx context.Context, jobID, message string, logger zerolog.Logger) error {
	if _, err := c.jobRepo.Transition(ctx, c.db, jobID, model.JobStatusFailed, nil, &message); err != nil {
		logger.Error().Err(err).Msg("Failed to transition job to failed")
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	if job, err := c.jobRepo.GetByID(ctx, c.db, jobID); err == nil && job != nil {
		c.publishEvent(ctx, jobID, job.UserID, string(model.JobStatusFailed), message)
	}
	return nil
}

func (c *Converter) deadLetter(ctx context.Context, jobID string, cause error) {
	dlq := c.cfg.ConversionDeadLetterQueueName
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal payload for dead-letter queue")
		return
	}
	if err := c.queue.Send(ctx, dlq, data); err != nil {
		c.logger.Error().Err(err).Str("dlq", dlq).Msg("Failed to send message to dead-letter queue")
		return
	}
	c.logger.Warn().Str("job_id", jobID).Err(cause).Msg("Moved failed job to DLQ")
}

func (c *Converter) publishEvent(ctx context.Context, jobID, userID, status, errMsg string) {
	if c.publisher == nil {
		return
	}
	_, err := c.publisher.PublishJobEvent(ctx, pubsub.JobEvent{
		JobID:      jobID,
		UserID:     userID,
		Status:     status,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to publish job event")
	}
}

func intPtr(v int) *int { return &v }
