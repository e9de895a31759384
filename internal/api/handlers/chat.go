package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

const maxRequestBytes = 4 << 20

// ChatRequest is the gateway's chat body. Options sit next to the messages.
type ChatRequest struct {
	Messages []providers.Message `json:"messages"`
	providers.ChatOptions
}

func (r ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for _, m := range r.Messages {
		switch m.Role {
		case providers.RoleSystem, providers.RoleUser, providers.RoleAssistant:
		default:
			return errors.New("unknown message role: " + m.Role)
		}
	}
	return nil
}

type ChatResponse struct {
	*providers.Response
	LatencyMs float64 `json:"latency_ms"`
}

type ChatHandler struct {
	logger *zap.Logger
	router Router
	stream *streamer
}

func NewChatHandler(logger *zap.Logger, rt Router, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		router: rt,
		stream: newStreamer(logger, rt, allowedOrigins),
	}
}

// Chat handles POST /v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var request ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&request); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}
	if err := request.validate(); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	resp, err := h.router.Chat(r.Context(), request.Messages, request.ChatOptions)
	if err != nil {
		status, body := describeError(err)
		h.logger.Warn("Chat request failed",
			zap.String("model", request.Model),
			zap.Int("status", status),
			zap.Error(err))
		writeJSON(w, h.logger, status, ErrorResponse{Error: body})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ChatResponse{Response: resp, LatencyMs: resp.LatencyMs()})
}

// Stream handles GET /v1/chat/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.stream.ServeHTTP(w, r)
}
