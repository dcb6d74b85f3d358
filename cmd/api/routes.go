package main

import (
	"encoding/json"
	"net/http"

	"github.com/reelforge/backend/internal/engines"
	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/middleware"
	"github.com/reelforge/backend/internal/pricing"
	"github.com/reelforge/backend/internal/renders"
	"github.com/reelforge/backend/internal/repository"
)

// RegisterV1Routes adds the API-key authenticated /v1/ endpoints to the mux.
// Middleware chain: APIKeyAuth -> (TokenPrecheck on POST /v1/renders only) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	ledgerSvc *ledger.Service,
	rendersHandler *renders.Handler,
	enginesHandler *engines.Handler,
) {
	auth := middleware.APIKeyAuth(apiKeyRepo)
	precheck := middleware.TokenPrecheck(ledgerSvc)

	// POST /v1/renders — Auth -> Precheck -> CreateRender
	mux.Handle("POST /v1/renders", auth(precheck(http.HandlerFunc(rendersHandler.CreateRender))))

	mux.Handle("POST /v1/renders/estimate", auth(http.HandlerFunc(rendersHandler.Estimate)))
	mux.Handle("GET /v1/renders", auth(http.HandlerFunc(rendersHandler.ListRenders)))
	mux.Handle("GET /v1/renders/{id}", auth(http.HandlerFunc(rendersHandler.GetRender)))
	mux.Handle("POST /v1/renders/{id}/cancel", auth(http.HandlerFunc(rendersHandler.Cancel)))

	// POST /v1/renders/{id}/complete — engine callback, idempotent on redelivery
	mux.Handle("POST /v1/renders/{id}/complete", auth(http.HandlerFunc(rendersHandler.Complete)))

	// Engine fleet management (admin only, enforced in the handler)
	mux.Handle("POST /v1/engines", auth(http.HandlerFunc(enginesHandler.RegisterEngine)))
	mux.Handle("GET /v1/engines", auth(http.HandlerFunc(enginesHandler.ListEngines)))
	mux.Handle("POST /v1/engines/{id}/status", auth(http.HandlerFunc(enginesHandler.SetStatus)))

	mux.HandleFunc("GET /v1/pricing", listPricing)
}

type pricingInfo struct {
	BaseCost             int64 `json:"base_cost"`
	CostPerMessage       int64 `json:"cost_per_message"`
	CustomBackgroundCost int64 `json:"custom_background_cost"`
	MonetizationCost     int64 `json:"monetization_cost"`
}

// listPricing handles GET /v1/pricing (public, no auth).
func listPricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pricingInfo{
		BaseCost:             pricing.BaseCost,
		CostPerMessage:       pricing.CostPerMessage,
		CustomBackgroundCost: pricing.CustomBackgroundCost,
		MonetizationCost:     pricing.MonetizationCost,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
