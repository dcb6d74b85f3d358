package dashboard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/auth"
	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/models"
	"github.com/reelforge/backend/internal/repository"
)

// TokenLedger is the ledger surface the dashboard needs: balances, history,
// and the direct appends behind admin grants and purchases.
type TokenLedger interface {
	Balance(ctx context.Context, accountID uuid.UUID) int64
	Append(ctx context.Context, in ledger.AppendInput) (*ledger.AppendResult, error)
	History(ctx context.Context, accountID uuid.UUID) ([]ledger.DisplayEntry, error)
}

type Handler struct {
	authSvc  auth.Service
	accountR *repository.AccountRepo
	apiKeyR  *repository.APIKeyRepo
	tokens   TokenLedger
	log      *slog.Logger
}

func NewHandler(
	authSvc auth.Service,
	accountR *repository.AccountRepo,
	apiKeyR *repository.APIKeyRepo,
	tokens TokenLedger,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		authSvc:  authSvc,
		accountR: accountR,
		apiKeyR:  apiKeyR,
		tokens:   tokens,
		log:      log,
	}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, bool, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return uuid.Nil, false, fmt.Errorf("missing authorization")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, false, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, false, fmt.Errorf("empty token")
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := h.accountR.GetByID(r.Context(), accountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         acc.ID,
		"email":      acc.Email,
		"name":       acc.Name,
		"plan":       acc.Plan,
		"is_admin":   acc.IsAdmin,
		"balance":    h.tokens.Balance(r.Context(), acc.ID),
		"created_at": acc.CreatedAt,
	})
}

// tokenHistoryEntry is the user-facing view of one ledger row.
type tokenHistoryEntry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	RenderJobID  *string   `json:"render_job_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GET /api/v1/token-history
// Returns the decorated history: hold/resolution pairs are collapsed so the
// user sees one line per render, and pending holds stay visible.
func (h *Handler) ListTokenHistory(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.tokens.History(r.Context(), accountID)
	if err != nil {
		h.log.Error("list token history failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]tokenHistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Hidden {
			continue
		}
		item := tokenHistoryEntry{
			ID:           e.ID.String(),
			Type:         e.Type,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt,
		}
		if e.RenderJobID != nil {
			s := e.RenderJobID.String()
			item.RenderJobID = &s
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	keys, err := h.apiKeyR.ListByAccountID(r.Context(), accountID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{
			"id":         k.ID,
			"key_prefix": k.KeyPrefix,
			"is_active":  k.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}
	rawKey := "rf_" + hex.EncodeToString(rawBytes)
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])
	keyPrefix := rawKey[:12]

	k := &models.APIKey{
		ID:        uuid.New(),
		AccountID: accountID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		IsActive:  true,
	}
	if err := h.apiKeyR.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    rawKey,
	})
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	path := r.URL.Path
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	keyID, err := uuid.Parse(parts[len(parts)-1])
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	key, err := h.apiKeyR.GetByID(r.Context(), keyID)
	if err != nil || key.AccountID != accountID {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err := h.apiKeyR.Delete(r.Context(), keyID); err != nil {
		h.log.Error("delete api key failed", "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/billing/purchase
// Books a completed token purchase. In production this sits behind the
// payment provider's webhook; the reference ties the ledger row back to the
// provider's transaction.
func (h *Handler) PurchaseTokens(w http.ResponseWriter, r *http.Request) {
	accountID, _, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Tokens    int64  `json:"tokens"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.Tokens <= 0 {
		http.Error(w, "tokens must be > 0", http.StatusBadRequest)
		return
	}
	res, err := h.tokens.Append(r.Context(), ledger.AppendInput{
		AccountID:   accountID,
		Type:        models.TxTypeTokenPurchase,
		Amount:      body.Tokens,
		Description: fmt.Sprintf("Purchased %d tokens", body.Tokens),
		Metadata:    map[string]any{"reference": body.Reference},
	})
	if err != nil {
		h.log.Error("purchase append failed", "error", err)
		http.Error(w, "purchase failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": res.TransactionID,
		"balance":        res.NewBalance,
	})
}

type adminTokenRequest struct {
	AccountID string `json:"account_id"`
	Tokens    int64  `json:"tokens"`
	Reason    string `json:"reason"`
}

// POST /api/v1/admin/tokens/grant
func (h *Handler) AdminGrantTokens(w http.ResponseWriter, r *http.Request) {
	h.adminAdjust(w, r, models.TxTypeAdminCredit)
}

// POST /api/v1/admin/tokens/revoke
func (h *Handler) AdminRevokeTokens(w http.ResponseWriter, r *http.Request) {
	h.adminAdjust(w, r, models.TxTypeAdminDebit)
}

func (h *Handler) adminAdjust(w http.ResponseWriter, r *http.Request, txType string) {
	_, isAdmin, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !isAdmin {
		http.Error(w, "admin only", http.StatusForbidden)
		return
	}
	var body adminTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	targetID, err := uuid.Parse(body.AccountID)
	if err != nil {
		http.Error(w, "invalid account_id", http.StatusBadRequest)
		return
	}
	if body.Tokens <= 0 {
		http.Error(w, "tokens must be > 0", http.StatusBadRequest)
		return
	}
	amount := body.Tokens
	if txType == models.TxTypeAdminDebit {
		amount = -amount
	}
	res, err := h.tokens.Append(r.Context(), ledger.AppendInput{
		AccountID:   targetID,
		Type:        txType,
		Amount:      amount,
		Description: body.Reason,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			http.Error(w, "revoke exceeds balance", http.StatusConflict)
			return
		}
		h.log.Error("admin token adjustment failed", "type", txType, "error", err)
		http.Error(w, "adjustment failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": res.TransactionID,
		"balance":        res.NewBalance,
	})
}
