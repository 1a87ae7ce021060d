package service

import (
	"context"
	"fmt"

	"pdf2audio/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// WebhookSecretSource resolves the Paddle webhook secret. In development the
// secret comes straight from the environment; in production it is fetched
// from Secret Manager so it never lands in the deploy config.
type WebhookSecretSource interface {
	WebhookSecret(ctx context.Context) (string, error)
}

type envSecretSource struct {
	secret string
}

// NewEnvSecretSource returns a source backed by the PADDLE_WEBHOOK_SECRET
// environment value.
func NewEnvSecretSource(cfg *config.Config) (WebhookSecretSource, error) {
	if cfg.PaddleWebhookSecret == "" {
		return nil, fmt.Errorf("PADDLE_WEBHOOK_SECRET is not set")
	}
	return &envSecretSource{secret: cfg.PaddleWebhookSecret}, nil
}

func (s *envSecretSource) WebhookSecret(ctx context.Context) (string, error) {
	return s.secret, nil
}

type secretManagerSource struct {
	client     *secretmanager.Client
	projectID  string
	secretName string
}

// NewSecretManagerSource returns a source that reads the latest version of
// the configured secret from Google Secret Manager.
func NewSecretManagerSource(ctx context.Context, cfg *config.Config) (WebhookSecretSource, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}
	if cfg.PaddleWebhookSecretName == "" {
		return nil, fmt.Errorf("PADDLE_WEBHOOK_SECRET_NAME is not set")
	}

	var opts []option.ClientOption
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerSource{
		client:     client,
		projectID:  cfg.GCPProjectID,
		secretName: cfg.PaddleWebhookSecretName,
	}, nil
}

func (s *secretManagerSource) WebhookSecret(ctx context.Context) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, s.secretName)
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

// ResolveWebhookSecret picks the source appropriate for the environment.
func ResolveWebhookSecret(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.PaddleWebhookSecretName != "" {
		src, err := NewSecretManagerSource(ctx, cfg)
		if err != nil {
			return "", err
		}
		return src.WebhookSecret(ctx)
	}
	src, err := NewEnvSecretSource(cfg)
	if err != nil {
		return "", err
	}
	return src.WebhookSecret(ctx)
}
