package renders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/middleware"
	"github.com/reelforge/backend/internal/models"
	"github.com/reelforge/backend/internal/pricing"
)

type Handler struct {
	svc       Service
	validator *TimelineValidator
	log       *slog.Logger
}

func NewHandler(svc Service, validator *TimelineValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

// --- POST /v1/renders ---

type createRenderRequest struct {
	Title            string          `json:"title"`
	Timeline         json.RawMessage `json:"timeline"`
	UsesMonetization bool            `json:"uses_monetization"`
}

// timelineDoc is the parsed shape of the timeline the handler needs for
// pricing. Full structural validation happens against the schema first.
type timelineDoc struct {
	Messages []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
	BackgroundURL string `json:"background_url"`
}

type createRenderResponse struct {
	RenderID   string `json:"render_id"`
	Status     string `json:"status"`
	TokensHeld int64  `json:"tokens_held"`
	NewBalance int64  `json:"new_balance"`
}

// CreateRender handles POST /v1/renders.
// Auth -> Precheck (via middleware) -> Validate Timeline -> Hold Tokens -> Enqueue -> 202.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if len(req.Timeline) == 0 {
		http.Error(w, `{"error":"timeline is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.validator.Validate(req.Timeline); err != nil {
		if errors.Is(err, ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		http.Error(w, `{"error":"invalid timeline"}`, http.StatusBadRequest)
		return
	}

	var doc timelineDoc
	if err := json.Unmarshal(req.Timeline, &doc); err != nil {
		http.Error(w, `{"error":"invalid timeline"}`, http.StatusBadRequest)
		return
	}

	job, res, err := h.svc.CreateRender(r.Context(), acc.ID, CreateParams{
		Title:               req.Title,
		Timeline:            req.Timeline,
		MessageCount:        len(doc.Messages),
		HasCustomBackground: doc.BackgroundURL != "",
		UsesMonetization:    req.UsesMonetization,
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createRenderResponse{
		RenderID:   job.ID.String(),
		Status:     job.Status,
		TokensHeld: res.TokensHeld,
		NewBalance: res.NewBalance,
	})
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":            "insufficient tokens",
			"tokens_needed":    insufficient.Needed,
			"available_tokens": insufficient.Available,
		})
	case errors.Is(err, ledger.ErrIndeterminate):
		h.log.Error("render hold indeterminate", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "token hold state unknown, do not retry blindly",
		})
	case errors.Is(err, ErrNoEngine):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no render engine available, tokens refunded"})
	default:
		h.log.Error("create render failed", "error", err)
		http.Error(w, `{"error":"create render failed"}`, http.StatusInternalServerError)
	}
}

// --- POST /v1/renders/estimate ---

type estimateResponse struct {
	Tokens              int64 `json:"tokens"`
	MessageCount        int   `json:"message_count"`
	HasCustomBackground bool  `json:"has_custom_background"`
	UsesMonetization    bool  `json:"uses_monetization"`
}

// Estimate handles POST /v1/renders/estimate. Pure quote, nothing written.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req createRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	var doc timelineDoc
	if err := json.Unmarshal(req.Timeline, &doc); err != nil || len(doc.Messages) == 0 {
		http.Error(w, `{"error":"timeline must have at least one message"}`, http.StatusBadRequest)
		return
	}
	p := pricing.Params{
		MessageCount:        len(doc.Messages),
		HasCustomBackground: doc.BackgroundURL != "",
		UsesMonetization:    req.UsesMonetization,
	}
	writeJSON(w, http.StatusOK, estimateResponse{
		Tokens:              pricing.EstimateCost(p),
		MessageCount:        p.MessageCount,
		HasCustomBackground: p.HasCustomBackground,
		UsesMonetization:    p.UsesMonetization,
	})
}

// --- POST /v1/renders/{id}/complete ---

type completeRenderRequest struct {
	Success       bool   `json:"success"`
	OutputURL     string `json:"output_url"`
	FailureReason string `json:"failure_reason"`
}

// Complete handles POST /v1/renders/{id}/complete — the engine callback.
// Idempotent: redelivered callbacks report the recorded outcome.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	jobID, ok := renderIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid render id"}`, http.StatusBadRequest)
		return
	}

	var req completeRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Success && req.OutputURL == "" {
		http.Error(w, `{"error":"output_url is required on success"}`, http.StatusBadRequest)
		return
	}

	res, err := h.svc.HandleCompletion(r.Context(), jobID, req.Success, req.OutputURL, req.FailureReason)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			http.Error(w, `{"error":"render not found"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrNoHold):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "render has no token hold"})
		default:
			h.log.Error("complete render failed", "render_id", jobID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- POST /v1/renders/{id}/cancel ---

// Cancel handles POST /v1/renders/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := renderIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid render id"}`, http.StatusBadRequest)
		return
	}

	res, err := h.svc.Cancel(r.Context(), acc.ID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			http.Error(w, `{"error":"render not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotOwner):
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		default:
			h.log.Error("cancel render failed", "render_id", jobID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- GET /v1/renders/{id} and GET /v1/renders ---

type renderResponse struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Status              string          `json:"status"`
	MessageCount        int             `json:"message_count"`
	HasCustomBackground bool            `json:"has_custom_background"`
	UsesMonetization    bool            `json:"uses_monetization"`
	Timeline            json.RawMessage `json:"timeline,omitempty"`
	OutputURL           *string         `json:"output_url,omitempty"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := renderIDFromPath(r)
	if !ok {
		http.Error(w, `{"error":"invalid render id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetRender(r.Context(), jobID)
	if err != nil {
		http.Error(w, `{"error":"render not found"}`, http.StatusNotFound)
		return
	}
	if job.AccountID != acc.ID && !acc.IsAdmin {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job, true))
}

func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list renders failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	resp := make([]renderResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func jobToResponse(j *models.RenderJob, includeTimeline bool) renderResponse {
	out := renderResponse{
		ID:                  j.ID.String(),
		Title:               j.Title,
		Status:              j.Status,
		MessageCount:        j.MessageCount,
		HasCustomBackground: j.HasCustomBackground,
		UsesMonetization:    j.UsesMonetization,
		OutputURL:           j.OutputURL,
		FailureReason:       j.FailureReason,
		CreatedAt:           j.CreatedAt,
		CompletedAt:         j.CompletedAt,
	}
	if includeTimeline {
		out.Timeline = j.Timeline
	}
	return out
}

func renderIDFromPath(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
