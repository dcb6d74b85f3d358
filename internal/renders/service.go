package renders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/execution"
	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/models"
	"github.com/reelforge/backend/internal/pricing"
)

// ErrNoEngine is returned when no active render engine can take the job. The
// hold is refunded before this is surfaced.
var ErrNoEngine = errors.New("no render engine available")

// ErrNotOwner is returned when an account acts on a job it does not own.
var ErrNotOwner = errors.New("job belongs to another account")

// Ledger is the token ledger surface the render service needs.
type Ledger interface {
	Balance(ctx context.Context, accountID uuid.UUID) int64
	Reserve(ctx context.Context, in ledger.ReserveInput) (*ledger.ReserveResult, error)
	Settle(ctx context.Context, accountID, jobID uuid.UUID, succeeded bool) (*ledger.SettleResult, error)
	StaleHolds(ctx context.Context, cutoff time.Time) ([]*models.TokenTransaction, error)
}

// JobRepo is the render job storage interface.
type JobRepo interface {
	Create(ctx context.Context, j *models.RenderJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.RenderJob, error)
	AssignEngine(ctx context.Context, jobID, engineID uuid.UUID) error
	MarkDone(ctx context.Context, jobID uuid.UUID, outputURL string) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) (bool, error)
	MarkCancelled(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// EnginePicker selects the render engine for a new job.
type EnginePicker interface {
	NextAvailable(ctx context.Context) (*models.Engine, error)
}

// EnqueueRenderFunc enqueues a render for background execution. Provided by
// main as a closure over river.Client.Insert.
type EnqueueRenderFunc func(ctx context.Context, args execution.RenderJobArgs) error

type CreateParams struct {
	Title               string
	Timeline            json.RawMessage
	MessageCount        int
	HasCustomBackground bool
	UsesMonetization    bool
}

// PricingParams maps the job parameters onto the cost estimator input.
func (p CreateParams) PricingParams() pricing.Params {
	return pricing.Params{
		MessageCount:        p.MessageCount,
		HasCustomBackground: p.HasCustomBackground,
		UsesMonetization:    p.UsesMonetization,
	}
}

type Service interface {
	CreateRender(ctx context.Context, accountID uuid.UUID, p CreateParams) (*models.RenderJob, *ledger.ReserveResult, error)
	HandleCompletion(ctx context.Context, jobID uuid.UUID, success bool, outputURL, reason string) (*ledger.SettleResult, error)
	Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*ledger.SettleResult, error)
	GetRender(ctx context.Context, jobID uuid.UUID) (*models.RenderJob, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.RenderJob, error)
	ReconcileStaleHolds(ctx context.Context, window time.Duration) (int, error)
}

type service struct {
	repo          JobRepo
	ledger        Ledger
	engines       EnginePicker
	enqueueRender EnqueueRenderFunc
	log           *slog.Logger
}

// NewService creates the render service. Returns *service so it can also be
// used as execution.JobService by the River worker.
func NewService(repo JobRepo, ledger Ledger, engines EnginePicker, enqueueRender EnqueueRenderFunc, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, ledger: ledger, engines: engines, enqueueRender: enqueueRender, log: log}
}

var _ Service = (*service)(nil)
var _ execution.JobService = (*service)(nil)

// CreateRender creates the job row, reserves tokens for it, and hands it to a
// render engine. The job row is a placeholder until the hold lands: when the
// reserve fails the row is deleted so no unfunded job survives. When the job
// cannot be dispatched after the hold landed, the hold is refunded and the
// job marked failed.
func (s *service) CreateRender(ctx context.Context, accountID uuid.UUID, p CreateParams) (*models.RenderJob, *ledger.ReserveResult, error) {
	job := &models.RenderJob{
		ID:                  uuid.New(),
		AccountID:           accountID,
		Title:               p.Title,
		MessageCount:        p.MessageCount,
		HasCustomBackground: p.HasCustomBackground,
		UsesMonetization:    p.UsesMonetization,
		Timeline:            p.Timeline,
		Status:              models.JobStatusProcessing,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create render job: %w", err)
	}

	res, err := s.ledger.Reserve(ctx, ledger.ReserveInput{
		AccountID: accountID,
		JobID:     job.ID,
		Params:    p.PricingParams(),
	})
	if err != nil {
		if delErr := s.repo.Delete(ctx, job.ID); delErr != nil {
			s.log.Error("delete unfunded placeholder job failed", "job_id", job.ID, "error", delErr)
		}
		return nil, nil, err
	}

	engine, err := s.engines.NextAvailable(ctx)
	if err != nil {
		s.abortFunded(ctx, accountID, job.ID, "no render engine available")
		return nil, nil, fmt.Errorf("%w: %v", ErrNoEngine, err)
	}
	if err := s.repo.AssignEngine(ctx, job.ID, engine.ID); err != nil {
		s.abortFunded(ctx, accountID, job.ID, "engine assignment failed")
		return nil, nil, fmt.Errorf("assign engine: %w", err)
	}
	job.EngineID = &engine.ID

	if err := s.enqueueRender(ctx, execution.RenderJobArgs{
		JobID:      job.ID,
		AccountID:  accountID,
		EngineID:   engine.ID,
		WebhookURL: engine.WebhookURL,
		Timeline:   p.Timeline,
	}); err != nil {
		s.abortFunded(ctx, accountID, job.ID, "render enqueue failed")
		return nil, nil, fmt.Errorf("enqueue render: %w", err)
	}
	return job, res, nil
}

// abortFunded compensates a job whose hold landed but which cannot run:
// refund the hold and mark the job failed.
func (s *service) abortFunded(ctx context.Context, accountID, jobID uuid.UUID, reason string) {
	if _, err := s.repo.MarkFailed(ctx, jobID, reason); err != nil {
		s.log.Error("mark aborted job failed", "job_id", jobID, "error", err)
	}
	if _, err := s.ledger.Settle(ctx, accountID, jobID, false); err != nil {
		s.log.Error("refund aborted job failed", "job_id", jobID, "error", err)
	}
}

// HandleCompletion resolves a finished render: transition the job (at most
// once, the conditional update no-ops on redelivery) and settle the hold.
// Safe to call repeatedly; the ledger settle is idempotent.
func (s *service) HandleCompletion(ctx context.Context, jobID uuid.UUID, success bool, outputURL, reason string) (*ledger.SettleResult, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	var transitioned bool
	if success {
		transitioned, err = s.repo.MarkDone(ctx, jobID, outputURL)
	} else {
		transitioned, err = s.repo.MarkFailed(ctx, jobID, reason)
	}
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", jobID, err)
	}
	if !transitioned {
		s.log.Info("completion redelivered for settled job", "job_id", jobID, "success", success)
	}

	return s.ledger.Settle(ctx, job.AccountID, jobID, success)
}

// Cancel lets the owner abandon a processing job; the hold is refunded. If
// the render finished first, the recorded outcome wins and is reported as
// already processed.
func (s *service) Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*ledger.SettleResult, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.AccountID != accountID {
		return nil, ErrNotOwner
	}
	if _, err := s.repo.MarkCancelled(ctx, jobID); err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return s.ledger.Settle(ctx, accountID, jobID, false)
}

func (s *service) GetRender(ctx context.Context, jobID uuid.UUID) (*models.RenderJob, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.RenderJob, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// ReconcileStaleHolds refunds holds whose job has sat in processing beyond
// the inactivity window (user abandoned the flow, engine never called back).
// Returns the number of holds refunded.
func (s *service) ReconcileStaleHolds(ctx context.Context, window time.Duration) (int, error) {
	holds, err := s.ledger.StaleHolds(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("list stale holds: %w", err)
	}
	refunded := 0
	for _, h := range holds {
		jobID := *h.RenderJobID
		if _, err := s.repo.MarkFailed(ctx, jobID, "abandoned: no completion within inactivity window"); err != nil {
			s.log.Error("sweeper: mark job failed", "job_id", jobID, "error", err)
			continue
		}
		res, err := s.ledger.Settle(ctx, h.AccountID, jobID, false)
		if err != nil {
			s.log.Error("sweeper: refund hold", "job_id", jobID, "error", err)
			continue
		}
		if !res.AlreadyProcessed {
			refunded++
			s.log.Info("sweeper: refunded stale hold", "job_id", jobID, "tokens", res.TokensRefunded)
		}
	}
	return refunded, nil
}

// MarkRenderDone implements execution.JobService.
func (s *service) MarkRenderDone(ctx context.Context, jobID uuid.UUID, outputURL string) error {
	_, err := s.HandleCompletion(ctx, jobID, true, outputURL, "")
	return err
}

// MarkRenderFailed implements execution.JobService.
func (s *service) MarkRenderFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := s.HandleCompletion(ctx, jobID, false, "", reason)
	return err
}
