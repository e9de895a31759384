package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/llm/router"
	"github.com/amerfu/codepilot/internal/services/llm/stats"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// ProvidersHandler serves the read-only router views
type ProvidersHandler struct {
	logger *zap.Logger
	router Router
}

func NewProvidersHandler(logger *zap.Logger, rt Router) *ProvidersHandler {
	return &ProvidersHandler{logger: logger, router: rt}
}

type ProvidersResponse struct {
	Current   string                `json:"current"`
	Providers []router.ProviderInfo `json:"providers"`
}

type StatsResponse struct {
	stats.Snapshot
	SuccessRate float64 `json:"success_rate"`
}

type BreakersResponse struct {
	Breakers []circuitbreaker.Stats `json:"breakers"`
}

// ListProviders handles GET /v1/providers
func (h *ProvidersHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, ProvidersResponse{
		Current:   h.router.GetCurrentProvider(),
		Providers: h.router.ListProviders(),
	})
}

// GetStats handles GET /v1/stats
func (h *ProvidersHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.router.GetStats()
	writeJSON(w, h.logger, http.StatusOK, StatsResponse{Snapshot: snapshot, SuccessRate: snapshot.SuccessRate()})
}

// ResetStats handles DELETE /v1/stats
func (h *ProvidersHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.router.ResetStats()
	h.logger.Info("Stats reset via gateway")
	w.WriteHeader(http.StatusNoContent)
}

// ListBreakers handles GET /v1/breakers
func (h *ProvidersHandler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	breakers := h.router.BreakerStates()
	if breakers == nil {
		breakers = []circuitbreaker.Stats{}
	}
	writeJSON(w, h.logger, http.StatusOK, BreakersResponse{Breakers: breakers})
}
