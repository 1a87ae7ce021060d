package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENVIRONMENT" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`

	// Paddle settings. The webhook secret may come from the environment
	// directly or, in production, from Secret Manager via PADDLE_WEBHOOK_SECRET_NAME.
	PaddleWebhookSecret     string `envconfig:"PADDLE_WEBHOOK_SECRET"`
	PaddleWebhookSecretName string `envconfig:"PADDLE_WEBHOOK_SECRET_NAME"`
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	JobEventsTopic          string `envconfig:"JOB_EVENTS_TOPIC" default:"job_events"`

	// Conversion service settings
	ConversionServiceBaseURL string `envconfig:"CONVERSION_SERVICE_BASE_URL" required:"true"`

	// Conversion worker settings
	ConversionQueueName           string `envconfig:"CONVERSION_QUEUE_NAME" default:"conversion_queue"`
	ConversionDeadLetterQueueName string `envconfig:"CONVERSION_DEAD_LETTER_QUEUE_NAME" default:"conversion_queue_dlq"`
	ConversionPollTimeoutSec      int    `envconfig:"CONVERSION_POLL_TIMEOUT_SEC" default:"30"`
	ConversionPollMaxMsg          int    `envconfig:"CONVERSION_POLL_MAX_MSG" default:"1"`
	ConversionJobTimeoutSec       int    `envconfig:"CONVERSION_JOB_TIMEOUT_SEC" default:"1800"`
	StorageMaxRetries             int    `envconfig:"STORAGE_MAX_RETRIES" default:"5"`
	StorageBackoffInitialSec      int    `envconfig:"STORAGE_BACKOFF_INITIAL_SEC" default:"1"`
	StorageBackoffMaxSec          int    `envconfig:"STORAGE_BACKOFF_MAX_SEC" default:"60"`

	// Per-tier monthly job limits. Free and Pro users fall back to one-time
	// credits once the limit is reached; Enterprise has no limit.
	FreeMonthlyJobLimit int `envconfig:"FREE_MONTHLY_JOB_LIMIT" default:"2"`
	ProMonthlyJobLimit  int `envconfig:"PRO_MONTHLY_JOB_LIMIT" default:"50"`

	// Retention sweeper settings
	RetentionDays      int `envconfig:"RETENTION_DAYS" default:"30"`
	SweepIntervalHours int `envconfig:"SWEEP_INTERVAL_HOURS" default:"24"`
	SweepBatchSize     int `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
