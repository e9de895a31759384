package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit throttles each client address to rps requests per second with the
// given burst. rps <= 0 disables the limit.
func RateLimit(rps float64, burst int, logger *zap.Logger) func(next http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	clients := &clientLimiters{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			client := clientKey(r)
			if !clients.get(client).Allow() {
				logger.Debug("Request rate limited", zap.String("client", client), zap.String("path", r.URL.Path))

				retryAfter := time.Duration(float64(time.Second) / rps)
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"message": "Too many requests",
						"type":    "rate_limit_exceeded",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type clientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func (c *clientLimiters) get(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
		c.limiters[client] = limiter
	}
	return limiter
}

// clientKey is the host part of RemoteAddr, already rewritten by RealIP
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
