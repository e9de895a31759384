package handlers

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

const writeWait = 10 * time.Second

// Frame types sent over the stream socket
const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// Frame is one server message. A stream is zero or more chunk frames
// followed by exactly one done or error frame.
type Frame struct {
	Type     string        `json:"type"`
	Delta    string        `json:"delta,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    *APIError     `json:"error,omitempty"`
}

type streamer struct {
	logger   *zap.Logger
	router   Router
	upgrader websocket.Upgrader
}

func newStreamer(logger *zap.Logger, rt Router, allowedOrigins []string) *streamer {
	return &streamer{
		logger: logger,
		router: rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// originAllowed accepts non-browser clients and origins matching a pattern
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true
	}
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// ServeHTTP reads one ChatRequest from the socket and streams the reply
func (s *streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	log := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))

	var request ChatRequest
	if err := conn.ReadJSON(&request); err != nil {
		s.send(conn, log, Frame{Type: FrameError, Error: &APIError{Type: "invalid_request_error", Message: "Invalid request: " + err.Error()}})
		return
	}
	if err := request.validate(); err != nil {
		s.send(conn, log, Frame{Type: FrameError, Error: &APIError{Type: "invalid_request_error", Message: err.Error()}})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// a client close or any read error abandons the stream
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	resp, err := s.router.StreamChat(ctx, request.Messages, func(chunk providers.StreamChunk) error {
		return s.write(conn, Frame{Type: FrameChunk, Delta: chunk.Delta, Provider: chunk.Provider, Model: chunk.Model})
	}, request.ChatOptions)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("Stream abandoned by client", zap.Error(err))
			return
		}
		_, body := describeError(err)
		log.Warn("Stream request failed", zap.Error(err))
		s.send(conn, log, Frame{Type: FrameError, Error: &body})
		return
	}

	s.send(conn, log, Frame{Type: FrameDone, Response: &ChatResponse{Response: resp, LatencyMs: resp.LatencyMs()}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (s *streamer) write(conn *websocket.Conn, frame Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

func (s *streamer) send(conn *websocket.Conn, log *zap.Logger, frame Frame) {
	if err := s.write(conn, frame); err != nil {
		log.Debug("Failed to write frame", zap.String("type", frame.Type), zap.Error(err))
	}
}
