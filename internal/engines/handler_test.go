package engines

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/middleware"
	"github.com/reelforge/backend/internal/models"
)

type stubEngineService struct {
	statusErr error
}

func (s *stubEngineService) RegisterEngine(_ context.Context, name, webhookURL string) (*models.Engine, error) {
	return &models.Engine{ID: uuid.New(), Name: name, WebhookURL: webhookURL, Status: models.EngineStatusActive}, nil
}

func (s *stubEngineService) ListEngines(context.Context) ([]*models.Engine, error) {
	return nil, nil
}

func (s *stubEngineService) SetEngineStatus(context.Context, uuid.UUID, string) error {
	return s.statusErr
}

func (s *stubEngineService) NextAvailable(context.Context) (*models.Engine, error) {
	return nil, ErrNoActiveEngines
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	acc := &models.Account{ID: uuid.New(), IsAdmin: true}
	return req.WithContext(middleware.WithAccount(req.Context(), acc))
}

func TestSetStatus_ErrorBodyIsValidJSON(t *testing.T) {
	svc := &stubEngineService{statusErr: errors.New(`status must be "active" or "disabled"`)}
	h := NewHandler(svc, nil)

	req := adminRequest(http.MethodPost, "/v1/engines/x/status", `{"status":"bogus"}`)
	req.SetPathValue("id", uuid.New().String())
	rec := httptest.NewRecorder()
	h.SetStatus(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var parsed map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("error body is not valid JSON: %v: %s", err, rec.Body.String())
	}
	if parsed["error"] == "" {
		t.Errorf("expected error field, got: %s", rec.Body.String())
	}
}

func TestSetStatus_RequiresAdmin(t *testing.T) {
	h := NewHandler(&stubEngineService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/engines/x/status", strings.NewReader(`{"status":"disabled"}`))
	acc := &models.Account{ID: uuid.New()}
	req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	req.SetPathValue("id", uuid.New().String())
	rec := httptest.NewRecorder()
	h.SetStatus(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
