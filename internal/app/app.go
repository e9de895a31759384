// Package app assembles the router and its optional dependencies from config.
package app

import (
	"context"
	"fmt"
	"net/url"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/config"
	"github.com/amerfu/codepilot/internal/services/data/redis"
	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/internal/services/llm/router"
	"github.com/amerfu/codepilot/internal/services/llm/routing"
	"github.com/amerfu/codepilot/internal/services/monitoring/metrics"
	"github.com/amerfu/codepilot/internal/services/resilience"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

const redisConnectTimeout = 2 * time.Second

// App holds the wired router and what it depends on
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Router      *router.Router
	Preferences *config.PreferenceStore
	Metrics     *metrics.Recorder

	// Latency is nil unless Redis is configured and reachable
	Latency *redis.LatencyTracker

	redisClient *goredis.Client
}

// New builds the router described by cfg. A configured but unreachable
// Redis is logged and skipped; the router then orders by local data only.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog := providers.DefaultCatalog()
	if err := ApplyProviderOverrides(catalog, cfg.Providers); err != nil {
		return nil, err
	}

	strategy, err := routing.ParseStrategy(cfg.Router.Strategy)
	if err != nil {
		return nil, &router.ConfigurationError{Field: "router.strategy", Value: cfg.Router.Strategy, Valid: strategyNames()}
	}

	prefs, err := config.NewPreferenceStore(cfg.Preferences.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Preferences: prefs,
		Metrics:     metrics.NewRecorder(nil),
	}

	opts := []router.Option{
		router.WithLogger(logger),
		router.WithCatalog(catalog),
		router.WithPreferences(prefs),
		router.WithMetrics(a.Metrics),
		router.WithStrategy(strategy),
		router.WithMaxRetries(cfg.Router.MaxRetries),
		router.WithResilience(ResilienceOptions(cfg.Router)),
		router.WithBreakerConfig(BreakerConfig(cfg.CircuitBreaker)),
		router.WithDefaults(cfg.Router.DefaultProvider, cfg.Router.DefaultModel),
	}

	if cfg.Redis.Enabled() {
		a.connectRedis(ctx)
		if a.Latency != nil {
			opts = append(opts, router.WithLatencySink(a.Latency))
		}
	}

	a.Router = router.New(opts...)

	logger.Debug("Router assembled",
		zap.String("current_provider", a.Router.GetCurrentProvider()),
		zap.String("strategy", string(strategy)),
		zap.Bool("shared_latency", a.Latency != nil))

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, a.Config.Redis.URL, a.Config.Redis.Password, a.Config.Redis.DB)
	if err != nil {
		a.Logger.Warn("Redis unavailable, continuing with local latency data only",
			zap.String("url", maskURL(a.Config.Redis.URL)),
			zap.Error(err))
		return
	}

	a.redisClient = client
	a.Latency = redis.NewLatencyTracker(client, a.Logger)
	a.Logger.Debug("Shared latency tracking enabled", zap.String("url", maskURL(a.Config.Redis.URL)))
}

// Close releases the Redis connection, if any
func (a *App) Close() error {
	if a.redisClient == nil {
		return nil
	}
	return a.redisClient.Close()
}

// ApplyProviderOverrides adjusts the built-in catalog from codepilot.yaml
func ApplyProviderOverrides(catalog *providers.Catalog, overrides map[string]config.ProviderOverride) error {
	for id, o := range overrides {
		if !catalog.Has(id) {
			return &router.ConfigurationError{Field: "providers", Value: id, Valid: catalog.IDs()}
		}

		if o.Disabled {
			catalog.Remove(id)
			continue
		}

		catalog.SetBaseURL(id, o.BaseURL)

		switch {
		case o.RequestsPerMinute < 0:
			catalog.SetRateLimit(id, 0)
		case o.RequestsPerMinute > 0:
			catalog.SetRateLimit(id, o.RequestsPerMinute)
		}

		if len(o.Models) > 0 {
			models := make([]providers.ModelInfo, 0, len(o.Models))
			for _, m := range o.Models {
				if m.ID == "" {
					return fmt.Errorf("providers.%s: model without id", id)
				}
				models = append(models, modelInfo(m))
			}
			catalog.AddModels(id, models...)
		}

		if o.DefaultModel != "" {
			if err := catalog.SetDefaultModel(id, o.DefaultModel); err != nil {
				return fmt.Errorf("providers.%s: %w", id, err)
			}
		}
	}
	return nil
}

func modelInfo(m config.ModelConfig) providers.ModelInfo {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	tier := providers.Tier(m.Tier)
	switch tier {
	case providers.TierFast, providers.TierBalanced, providers.TierMax:
	default:
		tier = providers.TierBalanced
	}
	return providers.ModelInfo{
		ID:                m.ID,
		Name:              name,
		Tier:              tier,
		FreeTier:          m.FreeTier,
		ContextWindow:     m.ContextWindow,
		InputCostPerMTok:  m.InputCostPerMTok,
		OutputCostPerMTok: m.OutputCostPerMTok,
	}
}

// ResilienceOptions maps router settings onto per-attempt options
func ResilienceOptions(cfg config.RouterConfig) resilience.Options {
	return resilience.Options{
		Retries:       cfg.MaxRetries,
		Timeout:       cfg.AttemptTimeout,
		BackoffFactor: cfg.BackoffFactor,
		BaseDelay:     cfg.BackoffBase,
		Jitter:        cfg.Jitter,
	}
}

func BreakerConfig(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}
}

func strategyNames() []string {
	strategies := routing.Strategies()
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}
	return names
}

// maskURL hides credentials in a connection URL
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "****"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
