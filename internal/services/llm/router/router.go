// Package router picks the backend that serves a chat request, falls back to
// other configured backends when it fails transiently, and keeps one circuit
// breaker per backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/internal/services/llm/routing"
	"github.com/amerfu/codepilot/internal/services/llm/stats"
	"github.com/amerfu/codepilot/internal/services/monitoring/metrics"
	"github.com/amerfu/codepilot/internal/services/resilience"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// HardDefaultProvider is used when neither preferences nor config name a backend
const HardDefaultProvider = "anthropic"

const (
	latencyReadTimeout  = 50 * time.Millisecond
	latencyWriteTimeout = 100 * time.Millisecond
)

// LatencySink shares observed latencies between processes.
// *redis.LatencyTracker satisfies it.
type LatencySink interface {
	RecordLatency(ctx context.Context, provider string, latency time.Duration) error
	GetAverageLatency(ctx context.Context, provider string) (time.Duration, error)
}

// Router is safe for concurrent use
type Router struct {
	catalog  *providers.Catalog
	adapters *adapterCache
	breakers *circuitbreaker.Manager
	stats    *stats.Tracker
	prefs    PreferenceStore

	logger  *zap.Logger
	metrics *metrics.Recorder
	latency LatencySink
	tracer  trace.Tracer

	// concurrent fallbacks share one latency read per backend
	latencyReads singleflight.Group

	defaultProvider string
	defaultModel    string
	maxRetries      int
	execOptions     resilience.Options
	breakerConfig   circuitbreaker.Config
	breakerOptions  []circuitbreaker.Option
	lookupEnv       func(string) string

	mu       sync.RWMutex
	strategy routing.Strategy
}

// Option configures a Router
type Option func(*Router)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCatalog replaces the built-in backend registry
func WithCatalog(catalog *providers.Catalog) Option {
	return func(r *Router) {
		if catalog != nil {
			r.catalog = catalog
		}
	}
}

func WithPreferences(store PreferenceStore) Option {
	return func(r *Router) {
		if store != nil {
			r.prefs = store
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(r *Router) {
		r.metrics = recorder
	}
}

func WithLatencySink(sink LatencySink) Option {
	return func(r *Router) {
		r.latency = sink
	}
}

func WithStrategy(strategy routing.Strategy) Option {
	return func(r *Router) {
		r.strategy = strategy
	}
}

// WithMaxRetries bounds the retries per fallback candidate
func WithMaxRetries(n int) Option {
	return func(r *Router) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithResilience sets the timeout and backoff used for every attempt.
// Retries and Breaker are chosen per call by the router.
func WithResilience(opts resilience.Options) Option {
	return func(r *Router) {
		r.execOptions = opts
	}
}

func WithBreakerConfig(cfg circuitbreaker.Config, opts ...circuitbreaker.Option) Option {
	return func(r *Router) {
		r.breakerConfig = cfg
		r.breakerOptions = append(r.breakerOptions, opts...)
	}
}

// WithDefaults sets the configured default backend and model
func WithDefaults(provider, model string) Option {
	return func(r *Router) {
		r.defaultProvider = provider
		r.defaultModel = model
	}
}

// WithEnv replaces os.Getenv for credential lookup
func WithEnv(lookup func(string) string) Option {
	return func(r *Router) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
	}
}

// New creates a router over the default catalog unless WithCatalog is given
func New(opts ...Option) *Router {
	r := &Router{
		catalog:       providers.DefaultCatalog(),
		stats:         stats.NewTracker(),
		prefs:         newMemoryPreferences(),
		logger:        zap.NewNop(),
		tracer:        defaultTracer(),
		maxRetries:    resilience.DefaultOptions().Retries,
		execOptions:   resilience.DefaultOptions(),
		breakerConfig: circuitbreaker.DefaultConfig(),
		lookupEnv:     os.Getenv,
		strategy:      routing.DefaultStrategy,
	}

	for _, opt := range opts {
		opt(r)
	}

	hook := circuitbreaker.WithStateChangeHook(func(name string, from, to circuitbreaker.State) {
		r.logger.Info("Circuit breaker state changed",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		r.metrics.ObserveBreakerTransition(name, from, to)
	})
	r.breakers = circuitbreaker.NewManager(r.breakerConfig, append(r.breakerOptions, hook)...)
	r.adapters = newAdapterCache(r.buildAdapter)

	return r
}

func (r *Router) buildAdapter(id string) (providers.Provider, error) {
	spec, ok := r.catalog.Lookup(id)
	if !ok {
		return nil, r.unknownProvider(id)
	}

	adapter, err := spec.Build(r.apiKey(spec))
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", id, err)
	}

	r.logger.Debug("Adapter created", zap.String("provider", id))
	return adapter, nil
}

// adapter returns the cached adapter for id. Build failures are classified
// as not configured so they never trigger retries.
func (r *Router) adapter(id string) (providers.Provider, error) {
	adapter, err := r.adapters.Get(id)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		perr := providers.NewError(id, providers.KindNotConfigured, err.Error())
		perr.Err = err
		return nil, perr
	}
	return adapter, nil
}

// apiKey resolves a credential: stored preference first, then the environment
func (r *Router) apiKey(spec providers.Spec) string {
	if key := strings.TrimSpace(r.prefs.APIKey(spec.ID)); key != "" {
		return key
	}
	if spec.EnvVar == "" {
		return ""
	}
	return strings.TrimSpace(r.lookupEnv(spec.EnvVar))
}

// configured asks a live adapter when one exists, otherwise checks for a credential
func (r *Router) configured(spec providers.Spec) bool {
	if adapter, ok := r.adapters.Peek(spec.ID); ok {
		return adapter.IsConfigured()
	}
	return !spec.RequiresKey || r.apiKey(spec) != ""
}

func (r *Router) unknownProvider(id string) *ConfigurationError {
	return &ConfigurationError{Field: "provider", Value: id, Valid: r.catalog.IDs()}
}

// GetCurrentProvider returns the backend used when a request names none
func (r *Router) GetCurrentProvider() string {
	if p := r.prefs.Get().Provider; p != "" && r.catalog.Has(p) {
		return p
	}
	if r.defaultProvider != "" && r.catalog.Has(r.defaultProvider) {
		return r.defaultProvider
	}
	if r.catalog.Has(HardDefaultProvider) {
		return HardDefaultProvider
	}
	if ids := r.catalog.IDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// currentModel returns the model chosen for provider, or "" for the adapter default
func (r *Router) currentModel(provider string) string {
	prefs := r.prefs.Get()
	if prefs.Provider == provider && prefs.Model != "" {
		return prefs.Model
	}
	if provider == r.defaultProvider {
		return r.defaultModel
	}
	return ""
}

type target struct {
	provider string
	model    string
}

// splitModel parses "backend/model". Model ids containing slashes that the
// current backend lists are kept whole.
func (r *Router) splitModel(model, current string) (string, string, bool) {
	prefix, rest, found := strings.Cut(model, "/")
	if !found || prefix == "" || rest == "" || !r.catalog.Has(prefix) {
		return "", "", false
	}
	if spec, ok := r.catalog.Lookup(current); ok && spec.HasModel(model) {
		return "", "", false
	}
	return prefix, rest, true
}

func (r *Router) resolve(opts providers.ChatOptions) (target, error) {
	current := r.GetCurrentProvider()

	if provider, model, ok := r.splitModel(opts.Model, current); ok {
		return target{provider: provider, model: model}, nil
	}

	if current == "" {
		return target{}, &ConfigurationError{Field: "provider", Value: ""}
	}
	if opts.Model != "" {
		return target{provider: current, model: opts.Model}, nil
	}
	return target{provider: current, model: r.currentModel(current)}, nil
}

// SelectModelForTask delegates to the current backend's own heuristic
func (r *Router) SelectModelForTask(task string) string {
	current := r.GetCurrentProvider()
	adapter, err := r.adapter(current)
	if err != nil {
		spec, _ := r.catalog.Lookup(current)
		return spec.DefaultModel
	}
	return adapter.SelectModelForTask(task)
}

// SetProvider persists the default backend
func (r *Router) SetProvider(id string) error {
	if !r.catalog.Has(id) {
		return r.unknownProvider(id)
	}
	if err := r.prefs.SetProvider(id); err != nil {
		return fmt.Errorf("save provider preference: %w", err)
	}

	r.logger.Info("Default provider changed", zap.String("provider", id))
	return nil
}

// SetModel persists the default model. "backend/model" also switches the
// default backend; a bare id applies to the current backend.
func (r *Router) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return &ConfigurationError{Field: "model", Value: model}
	}

	current := r.GetCurrentProvider()
	provider, bare, ok := r.splitModel(model, current)
	if !ok {
		if current == "" {
			return &ConfigurationError{Field: "provider", Value: ""}
		}
		provider, bare = current, model
	}

	if err := r.prefs.SetModel(provider, bare); err != nil {
		return fmt.Errorf("save model preference: %w", err)
	}

	r.logger.Info("Default model changed",
		zap.String("provider", provider),
		zap.String("model", bare))
	return nil
}

// SetAPIKey stores a credential and rebuilds the backend's adapter on next use.
// An empty key removes the stored credential.
func (r *Router) SetAPIKey(id, key string) error {
	if !r.catalog.Has(id) {
		return r.unknownProvider(id)
	}
	if err := r.prefs.SetAPIKey(id, key); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	r.adapters.Evict(id)

	r.logger.Info("API key updated", zap.String("provider", id))
	return nil
}

// IsProviderConfigured reports whether id has what it needs to serve requests
func (r *Router) IsProviderConfigured(id string) bool {
	spec, ok := r.catalog.Lookup(id)
	if !ok {
		return false
	}
	return r.configured(spec)
}

// GetStats returns a copy of the session counters
func (r *Router) GetStats() stats.Snapshot {
	return r.stats.Snapshot()
}

func (r *Router) ResetStats() {
	r.stats.Reset()
}

// BreakerStates returns the breakers created so far, ordered by backend
func (r *Router) BreakerStates() []circuitbreaker.Stats {
	return r.breakers.States()
}

// ResetBreakers closes every breaker
func (r *Router) ResetBreakers() {
	r.breakers.ResetAll()
}

func (r *Router) Strategy() routing.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.strategy
}

// SetStrategy changes the fallback order for subsequent requests
func (r *Router) SetStrategy(name string) error {
	strategy, err := routing.ParseStrategy(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.strategy = strategy
	r.mu.Unlock()
	return nil
}

// Catalog exposes the backend registry
func (r *Router) Catalog() *providers.Catalog {
	return r.catalog
}
