package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pdf2audio/internal/model"
	"pdf2audio/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx is the minimal pgx.Tx needed by the services under test. Methods
// the services never touch panic so accidental use is loud.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("CopyFrom not supported")
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("SendBatch not supported")
}
func (t *fakeTx) LargeObjects() pgx.LargeObjects { panic("LargeObjects not supported") }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("Prepare not supported")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("Query not supported")
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("QueryRow not supported")
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeDB stands in for the pool. The fake repositories keep their own state,
// so the handle only has to exist.
type fakeDB struct {
	lastTx *fakeTx
}

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
	d.lastTx = &fakeTx{}
	return d.lastTx, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(ctx context.Context, db repository.DB, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, db repository.DB, userID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, db repository.DB, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) ConsumeCredit(ctx context.Context, db repository.DB, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.OneTimeCredits <= 0 {
		return false, nil
	}
	u.OneTimeCredits--
	return true, nil
}

func (r *fakeUserRepo) AddCredits(ctx context.Context, db repository.DB, userID string, credits int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("add credits: user %s not found", userID)
	}
	u.OneTimeCredits += credits
	return nil
}

func (r *fakeUserRepo) SetSubscriptionTier(ctx context.Context, db repository.DB, userID string, tier model.SubscriptionTier, paddleCustomerID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("set tier: user %s not found", userID)
	}
	u.SubscriptionTier = tier
	if paddleCustomerID != nil {
		u.PaddleCustomerID = paddleCustomerID
	}
	return nil
}

func (r *fakeUserRepo) AdvanceUsagePeriod(ctx context.Context, db repository.DB, userID string, start time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("advance usage period: user %s not found", userID)
	}
	u.UsagePeriodStart = &start
	return nil
}

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	createErr error
	deleteErr error
}

func newFakeJobRepo(jobs ...*model.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeJobRepo) Create(ctx context.Context, db repository.DB, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now().UTC()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, db repository.DB, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) GetUserJob(ctx context.Context, db repository.DB, userID, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) ListByUser(ctx context.Context, db repository.DB, userID string, limit, offset int) ([]model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Job
	for _, j := range r.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeJobRepo) CountCreatedSince(ctx context.Context, db repository.DB, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, j := range r.jobs {
		if j.UserID == userID && !j.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeJobRepo) Transition(ctx context.Context, db repository.TxBeginner, jobID string, next model.JobStatus, progress *int, errorMessage *string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if !j.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("invalid transition %s -> %s", j.Status, next)
	}
	j.Status = next
	if progress != nil {
		j.Progress = *progress
	}
	if errorMessage != nil {
		j.ErrorMessage = errorMessage
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Job
	for _, j := range r.jobs {
		if j.Status.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			out = append(out, *j)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) Delete(ctx context.Context, db repository.DB, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.jobs, jobID)
	return nil
}

type fakeTxnRepo struct {
	mu   sync.Mutex
	seen map[string]*model.Transaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{seen: make(map[string]*model.Transaction)}
}

func (r *fakeTxnRepo) InsertIfAbsent(ctx context.Context, db repository.DB, txn *model.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[txn.PaddleTransactionID]; ok {
		return false, nil
	}
	cp := *txn
	r.seen[txn.PaddleTransactionID] = &cp
	return true, nil
}

type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[string]*model.Subscription
}

func newFakeSubRepo(subs ...*model.Subscription) *fakeSubRepo {
	r := &fakeSubRepo{subs: make(map[string]*model.Subscription)}
	for _, s := range subs {
		r.subs[s.PaddleSubscriptionID] = s
	}
	return r
}

func (r *fakeSubRepo) GetByPaddleID(ctx context.Context, db repository.DB, paddleSubscriptionID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[paddleSubscriptionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubRepo) Upsert(ctx context.Context, db repository.DB, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.PaddleSubscriptionID] = &cp
	return nil
}

func (r *fakeSubRepo) MarkActive(ctx context.Context, db repository.DB, paddleSubscriptionID string, nextBillingDate *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[paddleSubscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s not found", paddleSubscriptionID)
	}
	s.Status = model.SubscriptionActive
	if nextBillingDate != nil {
		s.NextBillingDate = nextBillingDate
	}
	s.CancelledAt = nil
	return nil
}

func (r *fakeSubRepo) MarkCancelled(ctx context.Context, db repository.DB, paddleSubscriptionID string, cancelledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[paddleSubscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s not found", paddleSubscriptionID)
	}
	s.Status = model.SubscriptionCancelled
	s.CancelledAt = &cancelledAt
	return nil
}

type fakeProductRepo struct {
	products map[string]*model.Product
}

func newFakeProductRepo(products ...*model.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[string]*model.Product)}
	for _, p := range products {
		r.products[p.PaddleProductID] = p
	}
	return r
}

func (r *fakeProductRepo) GetByPaddleProductID(ctx context.Context, db repository.DB, paddleProductID string) (*model.Product, error) {
	p, ok := r.products[paddleProductID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
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
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = data
	return key, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, key)
	return nil
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	jobIDs []string
	err    error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobIDs = append(e.jobIDs, jobID)
	return nil
}
