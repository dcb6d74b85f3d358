package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/pricing"
)

// BalanceReader reads the account's current token balance.
type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) int64
}

// parsedEstimate mirrors the parts of the create-render body the estimator
// needs.
type parsedEstimate struct {
	Timeline struct {
		Messages      []json.RawMessage `json:"messages"`
		BackgroundURL string            `json:"background_url"`
	} `json:"timeline"`
	UsesMonetization bool `json:"uses_monetization"`
}

// TokenPrecheck estimates the render cost from the request body and rejects
// the request early when the account balance cannot cover it. Reads the body
// to extract the timeline, then replaces r.Body so downstream handlers can
// re-read it. This is advisory only: the hold re-checks the balance under
// lock, so a stale read here never overdraws.
func TokenPrecheck(balances BalanceReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedEstimate
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if len(peek.Timeline.Messages) == 0 {
				http.Error(w, `{"error":"timeline must have at least one message"}`, http.StatusBadRequest)
				return
			}

			cost := pricing.EstimateCost(pricing.Params{
				MessageCount:        len(peek.Timeline.Messages),
				HasCustomBackground: peek.Timeline.BackgroundURL != "",
				UsesMonetization:    peek.UsesMonetization,
			})

			available := balances.Balance(r.Context(), acc.ID)
			if available < cost {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusPaymentRequired)
				fmt.Fprintf(w, `{"error":"insufficient tokens","tokens_needed":%d,"available_tokens":%d}`, cost, available)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
