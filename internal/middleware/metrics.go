package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/services/monitoring/metrics"
)

const slowRequestThreshold = 10 * time.Second

// Metrics records request counts and latency per chi route pattern
func Metrics(recorder *metrics.Recorder, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			defer recorder.TrackConnection()()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			recorder.ObserveHTTP(r.Method, routePattern(r), statusOf(ww), duration)

			if duration > slowRequestThreshold {
				logger.Warn("Slow request detected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", duration),
					zap.Int("status", statusOf(ww)))
			}
		})
	}
}

// routePattern keeps label cardinality bounded for unmatched paths
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
