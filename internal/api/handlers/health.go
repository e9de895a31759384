package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

type HealthResponse struct {
	Status              string `json:"status"`
	CurrentProvider     string `json:"current_provider"`
	ConfiguredProviders int    `json:"configured_providers"`
	AvailableProviders  int    `json:"available_providers"`
}

// Health reports "degraded" while no configured backend can take requests.
// The status code stays 200 because the gateway itself is up.
func Health(logger *zap.Logger, rt Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:          "ok",
			CurrentProvider: rt.GetCurrentProvider(),
		}

		for _, info := range rt.ListProviders() {
			if info.Configured {
				response.ConfiguredProviders++
			}
			if info.Available {
				response.AvailableProviders++
			}
		}
		if response.AvailableProviders == 0 {
			response.Status = "degraded"
		}

		writeJSON(w, logger, http.StatusOK, response)
	}
}
