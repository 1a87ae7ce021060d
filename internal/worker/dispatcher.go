package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"pdf2audio/internal/pgmq"
)

// Queue is the slice of the pgmq client the workers need.
type Queue interface {
	Send(ctx context.Context, queue string, payload []byte) error
	ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
}

// taskPayload is the message carried on the conversion queue.
type taskPayload struct {
	JobID string `json:"job_id"`
}

// Dispatcher places accepted jobs on the durable conversion queue.
type Dispatcher struct {
	queue     Queue
	queueName string
}

// NewDispatcher creates a Dispatcher for the given queue.
func NewDispatcher(queue Queue, queueName string) *Dispatcher {
	return &Dispatcher{queue: queue, queueName: queueName}
}

// Enqueue sends the job id to the conversion queue. Delivery is at least
// once; the convert loop deduplicates by job status.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string) error {
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal task payload for job %s: %w", jobID, err)
	}
	if err := d.queue.Send(ctx, d.queueName, data); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}
