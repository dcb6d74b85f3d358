// Package ledger owns the append-only token ledger: every balance change is a
// new token_transactions row carrying the balance after it was applied, and
// the current balance is the balance_after of the newest row. Render jobs are
// funded with a two-phase hold/settle protocol: Reserve places a render_hold
// before the render starts, Settle resolves it into a render_deduct or
// render_refund once the outcome is known.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reelforge/backend/internal/models"
	"github.com/reelforge/backend/internal/pricing"
)

// ErrInsufficientBalance is returned when a debit would push the balance
// below zero. Nothing is written in that case.
var ErrInsufficientBalance = errors.New("insufficient tokens")

// ErrNoHold is returned when Settle is called for a job that has no
// render_hold entry. That means a job was created without a reservation,
// which is a bug upstream, not a retryable condition.
var ErrNoHold = errors.New("no pending hold transaction for job")

// ErrIndeterminate wraps a commit failure: the caller cannot know whether the
// entry landed and must reconcile instead of retrying blindly.
var ErrIndeterminate = errors.New("ledger write state indeterminate")

// InsufficientBalanceError carries the figures the API reports back to the
// user. It unwraps to ErrInsufficientBalance.
type InsufficientBalanceError struct {
	Needed    int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient tokens: need %d, have %d", e.Needed, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Store is the storage interface the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
	Latest(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.TokenTransaction, error)
	Insert(ctx context.Context, tx pgx.Tx, t *models.TokenTransaction) error
	FindHold(ctx context.Context, accountID, jobID uuid.UUID) (*models.TokenTransaction, error)
	FindResolution(ctx context.Context, accountID, jobID uuid.UUID) (*models.TokenTransaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.TokenTransaction, error)
	ListStaleHolds(ctx context.Context, cutoff time.Time) ([]*models.TokenTransaction, error)
}

type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

// Balance returns the account's current token balance: the balance_after of
// the newest transaction, or 0 for an empty ledger. A storage error degrades
// to 0 (fail-low: never invent tokens on a failed read) and is logged for
// operators.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) int64 {
	last, err := s.store.Latest(ctx, nil, accountID)
	if err != nil {
		s.log.Error("balance read failed, degrading to zero", "account_id", accountID, "error", err)
		return 0
	}
	if last == nil {
		return 0
	}
	return last.BalanceAfter
}

// AppendInput describes a prospective ledger entry. Amount is signed:
// negative debits, positive credits.
type AppendInput struct {
	AccountID   uuid.UUID
	Type        string
	Amount      int64
	Description string
	RenderJobID *uuid.UUID
	Metadata    map[string]any
}

type AppendResult struct {
	TransactionID uuid.UUID
	NewBalance    int64
}

// Append atomically appends a transaction: lock the account row, read the
// latest balance, reject if the result would go negative, insert with the
// computed balance_after. The row lock serializes concurrent appends per
// account so the balance_after chain stays consistent.
func (s *Service) Append(ctx context.Context, in AppendInput) (*AppendResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.LockAccount(ctx, tx, in.AccountID); err != nil {
		return nil, fmt.Errorf("lock account %s: %w", in.AccountID, err)
	}
	last, err := s.store.Latest(ctx, tx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("read latest transaction: %w", err)
	}
	var current int64
	if last != nil {
		current = last.BalanceAfter
	}
	newBalance := current + in.Amount
	if newBalance < 0 {
		return nil, &InsufficientBalanceError{Needed: -in.Amount, Available: current}
	}

	entry := &models.TokenTransaction{
		ID:           uuid.New(),
		AccountID:    in.AccountID,
		Type:         in.Type,
		Amount:       in.Amount,
		BalanceAfter: newBalance,
		Description:  in.Description,
		RenderJobID:  in.RenderJobID,
		Metadata:     in.Metadata,
	}
	if err := s.store.Insert(ctx, tx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return nil, err
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}
	return &AppendResult{TransactionID: entry.ID, NewBalance: newBalance}, nil
}

// ReserveInput identifies the job being funded and its billable parameters.
type ReserveInput struct {
	AccountID uuid.UUID
	JobID     uuid.UUID
	Params    pricing.Params
}

type ReserveResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TokensHeld    int64     `json:"tokens_held"`
	NewBalance    int64     `json:"new_balance"`
}

// Reserve places the render_hold for a job: estimate the cost and debit it
// up-front, tagged with the job id. An InsufficientBalanceError means nothing
// was written; the caller is expected to delete its placeholder job row when
// the hold fails so no unfunded job survives.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	needed := pricing.EstimateCost(in.Params)
	jobID := in.JobID
	res, err := s.Append(ctx, AppendInput{
		AccountID:   in.AccountID,
		Type:        models.TxTypeRenderHold,
		Amount:      -needed,
		Description: fmt.Sprintf("Token hold for render job (%d messages)", in.Params.MessageCount),
		RenderJobID: &jobID,
		Metadata: map[string]any{
			"message_count":         in.Params.MessageCount,
			"has_custom_background": in.Params.HasCustomBackground,
			"uses_monetization":     in.Params.UsesMonetization,
		},
	})
	if err != nil {
		return nil, err
	}
	return &ReserveResult{TransactionID: res.TransactionID, TokensHeld: needed, NewBalance: res.NewBalance}, nil
}

type SettleResult struct {
	Outcome          string `json:"outcome"` // render_deduct or render_refund
	TokensUsed       int64  `json:"tokens_used,omitempty"`
	TokensRefunded   int64  `json:"tokens_refunded,omitempty"`
	NewBalance       int64  `json:"new_balance"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// Settle resolves a hold. succeeded=true records a render_deduct with amount
// 0 (the tokens left the balance at hold time; the entry is the audit marker
// that the hold became a real charge). succeeded=false restores the held
// amount with a render_refund. Settle is safe to call repeatedly and from
// concurrent deliveries: the first resolution to land wins, enforced by the
// unique index on resolutions per job, and every later call reports
// AlreadyProcessed with the recorded outcome regardless of polarity.
func (s *Service) Settle(ctx context.Context, accountID, jobID uuid.UUID, succeeded bool) (*SettleResult, error) {
	hold, err := s.store.FindHold(ctx, accountID, jobID)
	if err != nil {
		return nil, fmt.Errorf("look up hold for job %s: %w", jobID, err)
	}
	if hold == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNoHold)
	}
	held := -hold.Amount

	existing, err := s.store.FindResolution(ctx, accountID, jobID)
	if err != nil {
		return nil, fmt.Errorf("look up resolution for job %s: %w", jobID, err)
	}
	if existing != nil {
		return resolvedResult(existing, held), nil
	}

	in := AppendInput{
		AccountID:   accountID,
		RenderJobID: &jobID,
		Metadata: map[string]any{
			"hold_transaction_id": hold.ID.String(),
			"held_amount":         held,
		},
	}
	if succeeded {
		in.Type = models.TxTypeRenderDeduct
		in.Amount = 0
		in.Description = fmt.Sprintf("Render completed, %d held tokens charged", held)
	} else {
		in.Type = models.TxTypeRenderRefund
		in.Amount = held
		in.Description = fmt.Sprintf("Render did not complete, %d tokens refunded", held)
	}

	res, err := s.Append(ctx, in)
	if errors.Is(err, ErrDuplicateEntry) {
		// A concurrent settle won the race. Report its outcome.
		winner, ferr := s.store.FindResolution(ctx, accountID, jobID)
		if ferr != nil || winner == nil {
			return nil, fmt.Errorf("job %s already settled but resolution unreadable: %w", jobID, err)
		}
		return resolvedResult(winner, held), nil
	}
	if err != nil {
		return nil, err
	}

	out := &SettleResult{Outcome: in.Type, NewBalance: res.NewBalance}
	if succeeded {
		out.TokensUsed = held
	} else {
		out.TokensRefunded = held
	}
	return out, nil
}

// resolvedResult reports an idempotent no-op settle, surfacing the balance
// recorded by the resolution that actually ran.
func resolvedResult(res *models.TokenTransaction, held int64) *SettleResult {
	out := &SettleResult{
		Outcome:          res.Type,
		NewBalance:       res.BalanceAfter,
		AlreadyProcessed: true,
	}
	if res.Type == models.TxTypeRenderDeduct {
		out.TokensUsed = held
	} else {
		out.TokensRefunded = res.Amount
	}
	return out
}

// History returns the account's decorated transaction history, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID) ([]DisplayEntry, error) {
	entries, err := s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return DecorateHistory(entries), nil
}

// StaleHolds lists holds created before cutoff whose job never reached a
// terminal state. The reconciliation sweeper refunds these.
func (s *Service) StaleHolds(ctx context.Context, cutoff time.Time) ([]*models.TokenTransaction, error) {
	return s.store.ListStaleHolds(ctx, cutoff)
}
