package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/config"
	"pdf2audio/internal/model"
	"pdf2audio/internal/pgmq"
	"pdf2audio/internal/pipeline"
	"pdf2audio/internal/pubsub"
	"pdf2audio/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type fakeDB struct{}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("Query not supported")
}
func (d *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("QueryRow not supported")
}
func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("Begin not supported")
}

type fakeJobRepo struct {
	mu     sync.Mutex
	jobs   map[string]*model.Job
	getErr error
}

func newFakeJobRepo(jobs ...*model.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeJobRepo) Create(ctx context.Context, db repository.DB, job *model.Job) error {
	panic("Create not supported")
}

func (r *fakeJobRepo) GetByID(ctx context.Context, db repository.DB, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetUserJob(ctx context.Context, db repository.DB, userID, jobID string) (*model.Job, error) {
	panic("GetUserJob not supported")
}

func (r *fakeJobRepo) ListByUser(ctx context.Context, db repository.DB, userID string, limit, offset int) ([]model.Job, error) {
	panic("ListByUser not supported")
}

func (r *fakeJobRepo) CountCreatedSince(ctx context.Context, db repository.DB, userID string, since time.Time) (int, error) {
	panic("CountCreatedSince not supported")
}

func (r *fakeJobRepo) Transition(ctx context.Context, db repository.TxBeginner, jobID string, next model.JobStatus, progress *int, errorMessage *string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
	}
	if !j.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, j.Status, next)
	}
	now := time.Now().UTC()
	j.Status = next
	if progress != nil {
		j.Progress = *progress
	}
	switch next {
	case model.JobStatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case model.JobStatusCompleted:
		j.Progress = 100
		j.CompletedAt = &now
	case model.JobStatusFailed:
		j.ErrorMessage = errorMessage
		j.CompletedAt = &now
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) UpdateProgress(ctx context.Context, db repository.DB, jobID string, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status != model.JobStatusProcessing || j.Progress > progress {
		return false, nil
	}
	j.Progress = progress
	return true, nil
}

func (r *fakeJobRepo) SetAudioKey(ctx context.Context, db repository.DB, jobID, audioKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	j.AudioKey = &audioKey
	return nil
}

func (r *fakeJobRepo) ListReclaimable(ctx context.Context, db repository.DB, olderThan time.Time, limit int) ([]model.Job, error) {
	panic("ListReclaimable not supported")
}

func (r *fakeJobRepo) Delete(ctx context.Context, db repository.DB, jobID string) error {
	panic("Delete not supported")
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return nil, err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakePipeline struct {
	progress []int
	audio    []byte
	err      error
}

func (p *fakePipeline) Process(ctx context.Context, source []byte, opts model.JobOptions, onProgress pipeline.ProgressFunc) ([]byte, error) {
	for _, pct := range p.progress {
		onProgress(pct)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.audio, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []pubsub.JobEvent
}

func (p *fakePublisher) PublishJobEvent(ctx context.Context, ev pubsub.JobEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return "msg-1", nil
}

type fakeQueue struct {
	mu      sync.Mutex
	sent    map[string][][]byte
	pending []*pgmq.Message
	deleted []int64
	cancel  context.CancelFunc
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{sent: make(map[string][][]byte)}
}

func (q *fakeQueue) Send(ctx context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent[queue] = append(q.sent[queue], payload)
	return nil
}

func (q *fakeQueue) ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*pgmq.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		if q.cancel != nil {
			q.cancel()
		}
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return []*pgmq.Message{msg}, nil
}

func (q *fakeQueue) Delete(ctx context.Context, queue string, msgIDs []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, msgIDs...)
	return nil
}

func workerConfig() *config.Config {
	return &config.Config{
		ConversionQueueName:           "conversion_queue",
		ConversionDeadLetterQueueName: "conversion_queue_dlq",
		ConversionPollTimeoutSec:      1,
		ConversionPollMaxMsg:          1,
		ConversionJobTimeoutSec:       1800,
		StorageMaxRetries:             3,
		StorageBackoffInitialSec:      0,
		StorageBackoffMaxSec:          0,
	}
}

func pendingJob(id string) *model.Job {
	return &model.Job{
		ID:     id,
		UserID: "u1",
		PDFKey: "jobs/" + id + "/original.pdf",
		Status: model.JobStatusPending,
		Options: model.JobOptions{
			VoiceProvider:  model.VoiceProviderOpenAI,
			VoiceType:      "alloy",
			ReadingSpeed:   1,
			ConversionMode: model.ConversionModeFull,
		},
	}
}

func newConverterFixture(jobs *fakeJobRepo, store *fakeStore, pipe pipeline.Pipeline) (*Converter, *fakeQueue, *fakePublisher) {
	queue := newFakeQueue()
	pub := &fakePublisher{}
	c := NewConverter(workerConfig(), &fakeDB{}, queue, jobs, store, pipe, pub, zerolog.Nop())
	return c, queue, pub
}

func TestProcessCompletesJob(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	store := newFakeStore()
	store.objects[job.PDFKey] = []byte("%PDF-1.7")
	pipe := &fakePipeline{progress: []int{10, 60}, audio: []byte("mp3-bytes")}
	c, _, pub := newConverterFixture(jobs, store, pipe)

	c.process(context.Background(), "j1")

	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Progress != 100 {
		t.Fatalf("completion must pin progress to 100, got %d", got.Progress)
	}
	if got.AudioKey == nil || *got.AudioKey != "jobs/j1/audio.mp3" {
		t.Fatalf("unexpected audio key %v", got.AudioKey)
	}
	if data, ok := store.objects["jobs/j1/audio.mp3"]; !ok || string(data) != "mp3-bytes" {
		t.Fatal("audio artifact was not uploaded")
	}
	if len(pub.events) != 1 || pub.events[0].Status != string(model.JobStatusCompleted) {
		t.Fatalf("expected one completed event, got %+v", pub.events)
	}
}

func TestProcessSkipsDuplicateDeliveries(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	processing := pendingJob("j1")
	processing.Status = model.JobStatusProcessing
	processing.StartedAt = &started
	processing.Progress = 40

	done := pendingJob("j2")
	done.Status = model.JobStatusCompleted

	jobs := newFakeJobRepo(processing, done)
	c, queue, pub := newConverterFixture(jobs, newFakeStore(), &fakePipeline{})

	c.process(context.Background(), "j1")
	c.process(context.Background(), "j2")

	j1, _ := jobs.GetByID(context.Background(), nil, "j1")
	if j1.Status != model.JobStatusProcessing || j1.Progress != 40 {
		t.Fatalf("fresh processing job must be untouched, got %+v", j1)
	}
	j2, _ := jobs.GetByID(context.Background(), nil, "j2")
	if j2.Status != model.JobStatusCompleted {
		t.Fatalf("terminal job must be untouched, got %s", j2.Status)
	}
	if len(pub.events) != 0 || len(queue.sent) != 0 {
		t.Fatal("duplicate deliveries must have no side effects")
	}
}

func TestProcessReclaimsAbandonedJob(t *testing.T) {
	started := time.Now().UTC().Add(-2 * time.Hour)
	job := pendingJob("j1")
	job.Status = model.JobStatusProcessing
	job.StartedAt = &started

	jobs := newFakeJobRepo(job)
	c, _, pub := newConverterFixture(jobs, newFakeStore(), &fakePipeline{})

	c.process(context.Background(), "j1")

	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusFailed {
		t.Fatalf("abandoned job must be failed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != timeoutError {
		t.Fatalf("expected timeout message, got %v", got.ErrorMessage)
	}
	if len(pub.events) != 1 || pub.events[0].Status != string(model.JobStatusFailed) {
		t.Fatalf("expected a failed event, got %+v", pub.events)
	}
}

func TestProcessFailureSanitizedAndDeadLettered(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	store := newFakeStore()
	store.objects[job.PDFKey] = []byte("%PDF-1.7")
	pipe := &fakePipeline{err: errors.New("tts backend exploded: secret=abc")}
	c, queue, _ := newConverterFixture(jobs, store, pipe)

	c.process(context.Background(), "j1")

	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != userFacingError {
		t.Fatalf("stored message must be sanitized, got %v", got.ErrorMessage)
	}

	dlq := queue.sent["conversion_queue_dlq"]
	if len(dlq) != 1 {
		t.Fatalf("expected one DLQ message, got %d", len(dlq))
	}
	var payload taskPayload
	if err := json.Unmarshal(dlq[0], &payload); err != nil || payload.JobID != "j1" {
		t.Fatalf("bad DLQ payload: %s", dlq[0])
	}
}

func TestProcessProgressIsClampedAndMonotonic(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	store := newFakeStore()
	store.objects[job.PDFKey] = []byte("%PDF-1.7")
	pipe := &fakePipeline{progress: []int{150, 30, 10, 55}, err: errors.New("stop after progress")}
	c, _, _ := newConverterFixture(jobs, store, pipe)

	c.process(context.Background(), "j1")

	// 150 clamps to 99; later lower reports must not pull the value back.
	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Progress != 99 {
		t.Fatalf("expected clamped high-water mark 99, got %d", got.Progress)
	}
}

func TestProcessRetriesTransientDownloads(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	store := newFakeStore()
	store.objects[job.PDFKey] = []byte("%PDF-1.7")
	store.getErrs = []error{apperr.Transientf("blip"), apperr.Transientf("blip")}
	pipe := &fakePipeline{audio: []byte("mp3")}
	c, _, _ := newConverterFixture(jobs, store, pipe)

	c.process(context.Background(), "j1")

	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("transient failures within the retry allowance must not fail the job, got %s", got.Status)
	}
}

func TestRunKeepsUnresolvedDelivery(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	jobs.getErr = apperr.Transientf("connection reset")
	c, queue, _ := newConverterFixture(jobs, newFakeStore(), &fakePipeline{})

	ctx, cancel := context.WithCancel(context.Background())
	queue.cancel = cancel
	queue.pending = []*pgmq.Message{{ID: 1, Data: []byte(`{"job_id":"j1"}`)}}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// The job is still pending, so deleting the message would strand it with
	// no trigger left. It must stay queued for redelivery.
	if len(queue.deleted) != 0 {
		t.Fatalf("unresolved delivery must not be acknowledged, got %v", queue.deleted)
	}
	jobs.getErr = nil
	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusPending {
		t.Fatalf("job must remain pending, got %s", got.Status)
	}
}

func TestStartTransitionSingleWinner(t *testing.T) {
	jobs := newFakeJobRepo(pendingJob("j1"))

	if _, err := jobs.Transition(context.Background(), nil, "j1", model.JobStatusProcessing, intPtr(0), nil); err != nil {
		t.Fatalf("first start must succeed: %v", err)
	}
	_, err := jobs.Transition(context.Background(), nil, "j1", model.JobStatusProcessing, intPtr(0), nil)
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("second start must lose with ErrInvalidTransition, got %v", err)
	}
}

func TestRunAcksMessages(t *testing.T) {
	job := pendingJob("j1")
	jobs := newFakeJobRepo(job)
	store := newFakeStore()
	store.objects[job.PDFKey] = []byte("%PDF-1.7")
	c, queue, _ := newConverterFixture(jobs, store, &fakePipeline{audio: []byte("mp3")})

	ctx, cancel := context.WithCancel(context.Background())
	queue.cancel = cancel
	queue.pending = []*pgmq.Message{
		{ID: 1, Data: []byte(`{"job_id":"j1"}`)},
		{ID: 2, Data: []byte(`not json`)},
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(queue.deleted) != 2 {
		t.Fatalf("both deliveries must be acknowledged, got %v", queue.deleted)
	}
	got, _ := jobs.GetByID(context.Background(), nil, "j1")
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("queued job should have completed, got %s", got.Status)
	}
}
