package renders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reelforge/backend/internal/execution"
	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeJobRepo struct {
	jobs    map[uuid.UUID]*models.RenderJob
	deleted []uuid.UUID
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*models.RenderJob)}
}

func (f *fakeJobRepo) Create(_ context.Context, j *models.RenderJob) error {
	j.CreatedAt = time.Now()
	f.jobs[j.ID] = j
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RenderJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return j, nil
}

func (f *fakeJobRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobRepo) ListByAccount(_ context.Context, accountID uuid.UUID) ([]*models.RenderJob, error) {
	var out []*models.RenderJob
	for _, j := range f.jobs {
		if j.AccountID == accountID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) AssignEngine(_ context.Context, jobID, engineID uuid.UUID) error {
	j, ok := f.jobs[jobID]
	if !ok {
		return pgx.ErrNoRows
	}
	j.EngineID = &engineID
	return nil
}

func (f *fakeJobRepo) transition(jobID uuid.UUID, status string) (bool, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if j.Status != models.JobStatusProcessing {
		return false, nil
	}
	j.Status = status
	now := time.Now()
	j.CompletedAt = &now
	return true, nil
}

func (f *fakeJobRepo) MarkDone(_ context.Context, jobID uuid.UUID, outputURL string) (bool, error) {
	ok, err := f.transition(jobID, models.JobStatusDone)
	if ok {
		f.jobs[jobID].OutputURL = &outputURL
	}
	return ok, err
}

func (f *fakeJobRepo) MarkFailed(_ context.Context, jobID uuid.UUID, reason string) (bool, error) {
	ok, err := f.transition(jobID, models.JobStatusFailed)
	if ok {
		f.jobs[jobID].FailureReason = &reason
	}
	return ok, err
}

func (f *fakeJobRepo) MarkCancelled(_ context.Context, jobID uuid.UUID) (bool, error) {
	return f.transition(jobID, models.JobStatusCancelled)
}

type fakeLedger struct {
	reserveErr  error
	reserved    map[uuid.UUID]int64 // jobID -> held
	settles     []uuid.UUID
	settled     map[uuid.UUID]bool // jobID -> resolved already
	staleHolds  []*models.TokenTransaction
	lastSuccess bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{reserved: make(map[uuid.UUID]int64), settled: make(map[uuid.UUID]bool)}
}

func (f *fakeLedger) Balance(context.Context, uuid.UUID) int64 { return 100 }

func (f *fakeLedger) Reserve(_ context.Context, in ledger.ReserveInput) (*ledger.ReserveResult, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved[in.JobID] = 60
	return &ledger.ReserveResult{TransactionID: uuid.New(), TokensHeld: 60, NewBalance: 40}, nil
}

func (f *fakeLedger) Settle(_ context.Context, _, jobID uuid.UUID, succeeded bool) (*ledger.SettleResult, error) {
	if _, ok := f.reserved[jobID]; !ok {
		return nil, ledger.ErrNoHold
	}
	f.lastSuccess = succeeded
	if f.settled[jobID] {
		return &ledger.SettleResult{Outcome: models.TxTypeRenderRefund, AlreadyProcessed: true, NewBalance: 100}, nil
	}
	f.settled[jobID] = true
	f.settles = append(f.settles, jobID)
	if succeeded {
		return &ledger.SettleResult{Outcome: models.TxTypeRenderDeduct, TokensUsed: 60, NewBalance: 40}, nil
	}
	return &ledger.SettleResult{Outcome: models.TxTypeRenderRefund, TokensRefunded: 60, NewBalance: 100}, nil
}

func (f *fakeLedger) StaleHolds(context.Context, time.Time) ([]*models.TokenTransaction, error) {
	return f.staleHolds, nil
}

type fakeEngines struct {
	engine *models.Engine
	err    error
}

func (f *fakeEngines) NextAvailable(context.Context) (*models.Engine, error) {
	return f.engine, f.err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func testParams() CreateParams {
	return CreateParams{
		Title:        "demo",
		Timeline:     json.RawMessage(`{"messages":[{"sender":"a","text":"hi"}]}`),
		MessageCount: 1,
	}
}

func newTestService(repo *fakeJobRepo, led *fakeLedger, eng *fakeEngines, enqueue EnqueueRenderFunc) *service {
	if eng == nil {
		eng = &fakeEngines{engine: &models.Engine{ID: uuid.New(), WebhookURL: "https://engine.example.com/render"}}
	}
	if enqueue == nil {
		enqueue = func(context.Context, execution.RenderJobArgs) error { return nil }
	}
	return NewService(repo, led, eng, enqueue, nil)
}

func TestCreateRender_HoldFailureDeletesPlaceholder(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	led.reserveErr = &ledger.InsufficientBalanceError{Needed: 60, Available: 10}
	svc := newTestService(repo, led, nil, nil)

	_, _, err := svc.CreateRender(context.Background(), uuid.New(), testParams())

	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("placeholder job not deleted: %d deletions", len(repo.deleted))
	}
	if len(repo.jobs) != 0 {
		t.Error("unfunded job row survived")
	}
}

func TestCreateRender_NoEngineRefundsHold(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	svc := newTestService(repo, led, &fakeEngines{err: errors.New("fleet empty")}, nil)

	_, _, err := svc.CreateRender(context.Background(), uuid.New(), testParams())

	if !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
	if len(led.settles) != 1 {
		t.Fatalf("hold not settled: %d settles", len(led.settles))
	}
	if led.lastSuccess {
		t.Error("compensation settle must refund, not deduct")
	}
	for _, j := range repo.jobs {
		if j.Status != models.JobStatusFailed {
			t.Errorf("job status = %s, want failed", j.Status)
		}
	}
}

func TestCreateRender_EnqueueFailureRefundsHold(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	enqueue := func(context.Context, execution.RenderJobArgs) error { return errors.New("queue down") }
	svc := newTestService(repo, led, nil, enqueue)

	_, _, err := svc.CreateRender(context.Background(), uuid.New(), testParams())

	if err == nil {
		t.Fatal("expected error")
	}
	if len(led.settles) != 1 || led.lastSuccess {
		t.Error("expected one refund settle after enqueue failure")
	}
}

func TestCreateRender_Success(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	var enqueued *execution.RenderJobArgs
	enqueue := func(_ context.Context, args execution.RenderJobArgs) error {
		enqueued = &args
		return nil
	}
	engine := &models.Engine{ID: uuid.New(), WebhookURL: "https://engine.example.com/render"}
	svc := newTestService(repo, led, &fakeEngines{engine: engine}, enqueue)

	accountID := uuid.New()
	job, res, err := svc.CreateRender(context.Background(), accountID, testParams())
	if err != nil {
		t.Fatalf("CreateRender: %v", err)
	}
	if res.TokensHeld != 60 {
		t.Errorf("tokens held = %d, want 60", res.TokensHeld)
	}
	if job.EngineID == nil || *job.EngineID != engine.ID {
		t.Error("engine not assigned to job")
	}
	if enqueued == nil {
		t.Fatal("render not enqueued")
	}
	if enqueued.JobID != job.ID || enqueued.WebhookURL != engine.WebhookURL {
		t.Error("enqueued args do not match job/engine")
	}
}

func TestHandleCompletion_RedeliverySettlesOnce(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	svc := newTestService(repo, led, nil, nil)

	accountID := uuid.New()
	job, _, err := svc.CreateRender(context.Background(), accountID, testParams())
	if err != nil {
		t.Fatalf("CreateRender: %v", err)
	}

	first, err := svc.HandleCompletion(context.Background(), job.ID, true, "https://cdn.example.com/out.mp4", "")
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if first.AlreadyProcessed {
		t.Error("first completion reported as already processed")
	}

	second, err := svc.HandleCompletion(context.Background(), job.ID, true, "https://cdn.example.com/out.mp4", "")
	if err != nil {
		t.Fatalf("redelivered completion: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Error("redelivery should report already processed")
	}
	if len(led.settles) != 1 {
		t.Errorf("ledger settled %d times, want 1", len(led.settles))
	}
	if got := repo.jobs[job.ID].Status; got != models.JobStatusDone {
		t.Errorf("job status = %s, want done", got)
	}
}

func TestReconcileStaleHolds(t *testing.T) {
	repo := newFakeJobRepo()
	led := newFakeLedger()
	svc := newTestService(repo, led, nil, nil)

	accountID := uuid.New()
	job, _, err := svc.CreateRender(context.Background(), accountID, testParams())
	if err != nil {
		t.Fatalf("CreateRender: %v", err)
	}
	jobID := job.ID
	led.staleHolds = []*models.TokenTransaction{{
		ID:          uuid.New(),
		AccountID:   accountID,
		Type:        models.TxTypeRenderHold,
		Amount:      -60,
		RenderJobID: &jobID,
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}}

	refunded, err := svc.ReconcileStaleHolds(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ReconcileStaleHolds: %v", err)
	}
	if refunded != 1 {
		t.Errorf("refunded = %d, want 1", refunded)
	}
	if got := repo.jobs[jobID].Status; got != models.JobStatusFailed {
		t.Errorf("job status = %s, want failed", got)
	}
	if led.lastSuccess {
		t.Error("sweep must settle as failure")
	}
}
