package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/internal/services/llm/router"
)

// ErrorResponse is the body of every non-2xx gateway reply
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Message  string   `json:"message"`
	Type     string   `json:"type"`
	Provider string   `json:"provider,omitempty"`
	Tried    []string `json:"tried,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, errType, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: APIError{Message: message, Type: errType}})
}

// describeError maps a router error onto an HTTP status and error body
func describeError(err error) (int, APIError) {
	body := APIError{Message: err.Error()}

	var cfgErr *router.ConfigurationError
	var agg *router.AggregateError
	var perr *providers.ProviderError

	switch {
	case errors.As(err, &cfgErr):
		body.Type = "configuration_error"
		return http.StatusBadRequest, body
	case errors.As(err, &agg):
		body.Type = "all_providers_failed"
		body.Tried = agg.Providers()
		return http.StatusServiceUnavailable, body
	case errors.Is(err, router.ErrAllProvidersFailed):
		body.Type = "all_providers_failed"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.Canceled):
		body.Type = "canceled"
		return 499, body
	case errors.As(err, &perr):
		body.Type = perr.Kind.String()
		body.Provider = perr.Provider
		return statusForKind(perr.Kind), body
	case errors.Is(err, context.DeadlineExceeded):
		body.Type = "timeout"
		return http.StatusGatewayTimeout, body
	default:
		body.Type = "internal_error"
		return http.StatusInternalServerError, body
	}
}

func statusForKind(kind providers.ErrorKind) int {
	switch kind {
	case providers.KindBadRequest, providers.KindContentFilter:
		return http.StatusBadRequest
	case providers.KindRateLimit:
		return http.StatusTooManyRequests
	case providers.KindTimeout:
		return http.StatusGatewayTimeout
	case providers.KindNotConfigured:
		return http.StatusFailedDependency
	case providers.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
