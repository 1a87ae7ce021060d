package model

import (
	"fmt"
	"time"

	"pdf2audio/internal/apperr"
)

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the forward-only transition table
// pending -> processing -> {completed, failed}. Processing cannot re-enter
// itself: the start transition is the serialization point that lets exactly
// one worker win a duplicate delivery. Progress updates go through the
// status-guarded UpdateProgress, not through here.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// VoiceProvider is the TTS backend used for a conversion.
type VoiceProvider string

const (
	VoiceProviderOpenAI     VoiceProvider = "openai"
	VoiceProviderGoogle     VoiceProvider = "google"
	VoiceProviderAWSPolly   VoiceProvider = "aws_polly"
	VoiceProviderAzure      VoiceProvider = "azure"
	VoiceProviderElevenLabs VoiceProvider = "eleven_labs"
)

func (p VoiceProvider) Valid() bool {
	switch p {
	case VoiceProviderOpenAI, VoiceProviderGoogle, VoiceProviderAWSPolly, VoiceProviderAzure, VoiceProviderElevenLabs:
		return true
	}
	return false
}

// ConversionMode selects how much of the document is narrated.
type ConversionMode string

const (
	ConversionModeFull               ConversionMode = "full"
	ConversionModeSummaryExplanation ConversionMode = "summary_explanation"
)

func (m ConversionMode) Valid() bool {
	return m == ConversionModeFull || m == ConversionModeSummaryExplanation
}

// JobOptions are the processing options captured at job creation.
type JobOptions struct {
	VoiceProvider  VoiceProvider  `json:"voice_provider"`
	VoiceType      string         `json:"voice_type"`
	ReadingSpeed   float64        `json:"reading_speed"`
	IncludeSummary bool           `json:"include_summary"`
	ConversionMode ConversionMode `json:"conversion_mode"`
}

// Validate rejects malformed options before any state is created.
func (o JobOptions) Validate() error {
	if !o.VoiceProvider.Valid() {
		return fmt.Errorf("%w: unknown voice provider %q", apperr.ErrValidation, o.VoiceProvider)
	}
	if !o.ConversionMode.Valid() {
		return fmt.Errorf("%w: unknown conversion mode %q", apperr.ErrValidation, o.ConversionMode)
	}
	if o.ReadingSpeed <= 0 {
		return fmt.Errorf("%w: reading speed must be positive", apperr.ErrValidation)
	}
	return nil
}

// Job is a single PDF-to-audio conversion.
type Job struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	OriginalFilename string     `db:"original_filename" json:"original_filename"`
	PDFKey           string     `db:"pdf_s3_key" json:"pdf_s3_key"`
	AudioKey         *string    `db:"audio_s3_key" json:"audio_s3_key,omitempty"`
	Status           JobStatus  `db:"status" json:"status"`
	Progress         int        `db:"progress_percentage" json:"progress_percentage"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	Options          JobOptions `json:"options"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	StartedAt        *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
