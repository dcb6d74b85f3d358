package engines

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/models"
)

var ErrInvalidWebhookURL = errors.New("webhook_url must be an absolute http(s) URL")

type Service interface {
	RegisterEngine(ctx context.Context, name, webhookURL string) (*models.Engine, error)
	ListEngines(ctx context.Context) ([]*models.Engine, error)
	SetEngineStatus(ctx context.Context, id uuid.UUID, status string) error
	NextAvailable(ctx context.Context) (*models.Engine, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) *service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) RegisterEngine(ctx context.Context, name, webhookURL string) (*models.Engine, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidWebhookURL
	}
	engine := &models.Engine{
		ID:         uuid.New(),
		Name:       name,
		WebhookURL: webhookURL,
		Status:     models.EngineStatusActive,
	}
	if err := s.repo.Create(ctx, engine); err != nil {
		return nil, err
	}
	return engine, nil
}

func (s *service) ListEngines(ctx context.Context) ([]*models.Engine, error) {
	return s.repo.List(ctx)
}

func (s *service) SetEngineStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status != models.EngineStatusActive && status != models.EngineStatusDisabled {
		return errors.New("status must be active or disabled")
	}
	return s.repo.SetStatus(ctx, id, status)
}

func (s *service) NextAvailable(ctx context.Context) (*models.Engine, error) {
	return s.repo.NextAvailable(ctx)
}
