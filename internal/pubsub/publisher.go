package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pdf2audio/internal/config"

	"cloud.google.com/go/pubsub"
)

// JobEvent is published when a job reaches a terminal state, for downstream
// consumers such as notification senders.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher defines an interface for publishing job lifecycle events.
type Publisher interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) (string, error)
}

// PubSubPublisher publishes job events to a Google Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  string
}

// NewPublisher creates a new PubSubPublisher using the GCP project and topic
// from config.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client, topic: cfg.JobEventsTopic}, nil
}

// PublishJobEvent sends the event to the job-events topic and returns the
// message ID.
func (p *PubSubPublisher) PublishJobEvent(ctx context.Context, ev JobEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal job event for %s: %w", ev.JobID, err)
	}
	t := p.client.Topic(p.topic)
	result := t.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish job event to topic %s: %w", p.topic, err)
	}
	return id, nil
}
