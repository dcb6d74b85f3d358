package engines

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelforge/backend/internal/models"
)

// ErrNoActiveEngines is returned when no engine is active and able to take a
// job.
var ErrNoActiveEngines = errors.New("no active engines")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const engineColumns = `id, name, webhook_url, status, last_dispatched_at, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, e *models.Engine) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO engines (id, name, webhook_url, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, e.ID, e.Name, e.WebhookURL, e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Engine, error) {
	var e models.Engine
	err := r.pool.QueryRow(ctx, `
		SELECT `+engineColumns+` FROM engines WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.WebhookURL, &e.Status, &e.LastDispatchedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) List(ctx context.Context) ([]*models.Engine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+engineColumns+` FROM engines ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Engine
	for rows.Next() {
		var e models.Engine
		if err := rows.Scan(&e.ID, &e.Name, &e.WebhookURL, &e.Status, &e.LastDispatchedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE engines SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// NextAvailable picks the active engine that has gone the longest without a
// dispatch and stamps it, in one statement so concurrent job creates rotate
// over the fleet instead of piling onto one engine.
func (r *Repository) NextAvailable(ctx context.Context) (*models.Engine, error) {
	var e models.Engine
	err := r.pool.QueryRow(ctx, `
		UPDATE engines SET last_dispatched_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM engines
			WHERE status = $1
			ORDER BY last_dispatched_at ASC NULLS FIRST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+engineColumns+`
	`, models.EngineStatusActive).Scan(&e.ID, &e.Name, &e.WebhookURL, &e.Status, &e.LastDispatchedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveEngines
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
