package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelforge/backend/internal/models"
)

// ErrDuplicateEntry is returned by Insert when the partial unique indexes on
// token_transactions reject a second hold or a second resolution for a job.
var ErrDuplicateEntry = errors.New("duplicate ledger entry for job")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockAccount takes the per-account write lock. Every balance-changing append
// runs behind this row lock, which serializes the read-compute-insert sequence
// per account. Call within a transaction.
func (r *Repository) LockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	var id uuid.UUID
	return tx.QueryRow(ctx, `
		SELECT id FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&id)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) q(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

const txColumns = `id, account_id, type, amount, balance_after, description, render_job_id, metadata, created_at`

func scanTx(row pgx.Row) (*models.TokenTransaction, error) {
	var t models.TokenTransaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &t.RenderJobID, &t.Metadata, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Latest returns the newest transaction for the account, or nil if the ledger
// is empty. tx may be nil for a plain pool read.
func (r *Repository) Latest(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.TokenTransaction, error) {
	t, err := scanTx(r.q(tx).QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM token_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Insert appends a transaction inside the given transaction. Unique index
// violations surface as ErrDuplicateEntry.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, t *models.TokenTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO token_transactions (id, account_id, type, amount, balance_after, description, render_job_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Type, t.Amount, t.BalanceAfter, t.Description, t.RenderJobID, t.Metadata).Scan(&t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// FindHold returns the render_hold transaction for the job, or nil if absent.
func (r *Repository) FindHold(ctx context.Context, accountID, jobID uuid.UUID) (*models.TokenTransaction, error) {
	t, err := scanTx(r.pool.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM token_transactions
		WHERE account_id = $1 AND render_job_id = $2 AND type = $3
	`, accountID, jobID, models.TxTypeRenderHold))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// FindResolution returns the render_deduct or render_refund transaction for
// the job, or nil if the hold is still pending. At most one exists, enforced
// by ux_token_tx_job_resolution.
func (r *Repository) FindResolution(ctx context.Context, accountID, jobID uuid.UUID) (*models.TokenTransaction, error) {
	t, err := scanTx(r.pool.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM token_transactions
		WHERE account_id = $1 AND render_job_id = $2 AND type IN ($3, $4)
	`, accountID, jobID, models.TxTypeRenderDeduct, models.TxTypeRenderRefund))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.TokenTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM token_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TokenTransaction
	for rows.Next() {
		var t models.TokenTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &t.RenderJobID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// ListStaleHolds returns holds older than cutoff whose job is still in
// processing and which have no resolution entry yet. Used by the
// reconciliation sweeper.
func (r *Repository) ListStaleHolds(ctx context.Context, cutoff time.Time) ([]*models.TokenTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.id, h.account_id, h.type, h.amount, h.balance_after, h.description, h.render_job_id, h.metadata, h.created_at
		FROM token_transactions h
		JOIN render_jobs j ON j.id = h.render_job_id
		WHERE h.type = $1
		  AND h.created_at < $2
		  AND j.status = $3
		  AND NOT EXISTS (
			SELECT 1 FROM token_transactions res
			WHERE res.render_job_id = h.render_job_id AND res.type IN ($4, $5)
		  )
		ORDER BY h.created_at ASC
	`, models.TxTypeRenderHold, cutoff, models.JobStatusProcessing, models.TxTypeRenderDeduct, models.TxTypeRenderRefund)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TokenTransaction
	for rows.Next() {
		var t models.TokenTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Description, &t.RenderJobID, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
