package dto

import "time"

// JobOptionsDTO carries the conversion options submitted with a new job.
type JobOptionsDTO struct {
	VoiceProvider  string  `json:"voice_provider" validate:"required,oneof=openai google aws_polly azure eleven_labs"`
	VoiceType      string  `json:"voice_type" validate:"required"`
	ReadingSpeed   float64 `json:"reading_speed" validate:"gte=0.5,lte=2"`
	IncludeSummary bool    `json:"include_summary"`
	ConversionMode string  `json:"conversion_mode" validate:"required,oneof=full summary_explanation"`
}

// JobResponseDTO is returned in API responses for jobs
type JobResponseDTO struct {
	JobID            string     `json:"job_id"`
	OriginalFilename string     `json:"original_filename"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	AudioKey         *string    `json:"audio_key,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	VoiceProvider    string     `json:"voice_provider"`
	VoiceType        string     `json:"voice_type"`
	ReadingSpeed     float64    `json:"reading_speed"`
	IncludeSummary   bool       `json:"include_summary"`
	ConversionMode   string     `json:"conversion_mode"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// JobListResponseDTO wraps a page of jobs.
type JobListResponseDTO struct {
	Jobs   []JobResponseDTO `json:"jobs"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}
