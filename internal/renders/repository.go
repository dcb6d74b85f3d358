package renders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelforge/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobColumns = `id, account_id, title, message_count, has_custom_background, uses_monetization,
	timeline, engine_id, output_url, failure_reason, status, created_at, updated_at, completed_at`

func (r *Repository) Create(ctx context.Context, j *models.RenderJob) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO render_jobs (id, account_id, title, message_count, has_custom_background, uses_monetization, timeline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.Title, j.MessageCount, j.HasCustomBackground, j.UsesMonetization, j.Timeline, j.Status).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	var j models.RenderJob
	err := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM render_jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.AccountID, &j.Title, &j.MessageCount, &j.HasCustomBackground, &j.UsesMonetization,
		&j.Timeline, &j.EngineID, &j.OutputURL, &j.FailureReason, &j.Status, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Delete removes a placeholder job whose hold failed. Only unfunded
// placeholders are ever deleted; funded jobs transition instead.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM render_jobs WHERE id = $1", id)
	return err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.RenderJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM render_jobs WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.RenderJob
	for rows.Next() {
		var j models.RenderJob
		if err := rows.Scan(&j.ID, &j.AccountID, &j.Title, &j.MessageCount, &j.HasCustomBackground, &j.UsesMonetization,
			&j.Timeline, &j.EngineID, &j.OutputURL, &j.FailureReason, &j.Status, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

func (r *Repository) AssignEngine(ctx context.Context, jobID, engineID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET engine_id = $1, updated_at = now() WHERE id = $2
	`, engineID, jobID)
	return err
}

// MarkDone transitions processing -> done. Returns false when the job already
// left processing; terminal transitions happen at most once.
func (r *Repository) MarkDone(ctx context.Context, jobID uuid.UUID, outputURL string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, output_url = $2, completed_at = now(), updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.JobStatusDone, outputURL, jobID, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed transitions processing -> failed, recording the reason.
func (r *Repository) MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, failure_reason = $2, completed_at = now(), updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.JobStatusFailed, reason, jobID, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled transitions processing -> cancelled.
func (r *Repository) MarkCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE render_jobs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.JobStatusCancelled, jobID, models.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
