package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

const namespace = "codepilot"

// Request outcome labels
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder owns the router metrics. All methods are safe on a nil receiver
// so callers can run without metrics.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
	costTotal          *prometheus.CounterVec
	fallbacksTotal     *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
}

// NewRecorder registers the collectors on reg. A nil reg gets a fresh
// registry with the Go runtime and process collectors.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of backend attempts",
			},
			[]string{"provider", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Backend attempt latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"provider", "status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total number of tokens used",
			},
			[]string{"provider", "type"}, // type: prompt, output
		),
		costTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_dollars_total",
				Help:      "Estimated spend in US dollars",
			},
			[]string{"provider"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Requests served by a backend other than the primary",
			},
			[]string{"from", "to"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"provider"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state changes",
			},
			[]string{"provider", "from", "to"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of gateway HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Gateway HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_connections",
				Help:      "Number of in-flight gateway requests",
			},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveAttempt records one backend call
func (r *Recorder) ObserveAttempt(provider string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	r.requestsTotal.WithLabelValues(provider, status).Inc()
	r.requestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// ObserveUsage adds token counts and cost for a successful response
func (r *Recorder) ObserveUsage(provider string, promptTokens, outputTokens int, cost float64) {
	if r == nil {
		return
	}
	r.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	r.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	if cost > 0 {
		r.costTotal.WithLabelValues(provider).Add(cost)
	}
}

func (r *Recorder) ObserveFallback(from, to string) {
	if r == nil {
		return
	}
	r.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// ObserveBreakerTransition matches circuitbreaker.StateChangeHook
func (r *Recorder) ObserveBreakerTransition(provider string, from, to circuitbreaker.State) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(provider).Set(float64(to))
	r.breakerTransitions.WithLabelValues(provider, from.String(), to.String()).Inc()
}

// ObserveHTTP records one gateway request. route is the chi route pattern.
func (r *Recorder) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackConnection counts an in-flight request until the returned func is called
func (r *Recorder) TrackConnection() func() {
	if r == nil {
		return func() {}
	}
	r.activeConnections.Inc()
	return r.activeConnections.Dec
}
