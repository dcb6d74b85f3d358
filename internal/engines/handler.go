package engines

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reelforge/backend/internal/middleware"
	"github.com/reelforge/backend/internal/models"
)

type RegisterEngineRequest struct {
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

type EngineResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	WebhookURL       string     `json:"webhook_url"`
	Status           string     `json:"status"`
	LastDispatchedAt *time.Time `json:"last_dispatched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// RegisterEngine handles POST /v1/engines. Admin only.
func (h *Handler) RegisterEngine(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req RegisterEngineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.WebhookURL == "" {
		http.Error(w, `{"error":"name and webhook_url are required"}`, http.StatusBadRequest)
		return
	}
	engine, err := h.svc.RegisterEngine(r.Context(), req.Name, req.WebhookURL)
	if err != nil {
		if errors.Is(err, ErrInvalidWebhookURL) {
			http.Error(w, `{"error":"webhook_url must be an absolute http(s) URL"}`, http.StatusBadRequest)
			return
		}
		h.log.Error("register engine failed", "error", err)
		http.Error(w, `{"error":"register engine failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(engineToResponse(engine))
}

// ListEngines handles GET /v1/engines. Admin only.
func (h *Handler) ListEngines(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	list, err := h.svc.ListEngines(r.Context())
	if err != nil {
		h.log.Error("list engines failed", "error", err)
		http.Error(w, `{"error":"list engines failed"}`, http.StatusInternalServerError)
		return
	}
	resp := make([]EngineResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, engineToResponse(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// SetStatus handles POST /v1/engines/{id}/status. Admin only.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid engine id"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.svc.SetEngineStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"engine not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	if !acc.IsAdmin {
		http.Error(w, `{"error":"admin only"}`, http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func engineToResponse(e *models.Engine) EngineResponse {
	return EngineResponse{
		ID:               e.ID.String(),
		Name:             e.Name,
		WebhookURL:       e.WebhookURL,
		Status:           e.Status,
		LastDispatchedAt: e.LastDispatchedAt,
		CreatedAt:        e.CreatedAt,
	}
}
