package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CODEPILOT_ROUTER_STRATEGY
const EnvPrefix = "CODEPILOT"

type Config struct {
	Logging        LoggingConfig              `mapstructure:"logging"`
	Router         RouterConfig               `mapstructure:"router"`
	CircuitBreaker CircuitBreakerConfig       `mapstructure:"circuit_breaker"`
	Preferences    PreferencesConfig          `mapstructure:"preferences"`
	Redis          RedisConfig                `mapstructure:"redis"`
	Server         ServerConfig               `mapstructure:"server"`
	Providers      map[string]ProviderOverride `mapstructure:"providers"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type RouterConfig struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultModel    string        `mapstructure:"default_model"`
	Strategy        string        `mapstructure:"strategy"`
	MaxRetries      int           `mapstructure:"max_retries"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	BackoffFactor   float64       `mapstructure:"backoff_factor"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	Jitter          bool          `mapstructure:"jitter"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type PreferencesConfig struct {
	// Path of the YAML preference record. Empty means ~/.codepilot/preferences.yaml.
	Path string `mapstructure:"path"`
}

// RedisConfig enables the shared latency sink when URL is set
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`

	// Per-client request rate; zero disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

var cfg *Config

// Load reads codepilot.yaml (if any), environment overrides and defaults.
// configPath may name a file or a directory; empty searches the usual places.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml") {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("codepilot")
		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("$HOME/.codepilot")
			v.AddConfigPath("/etc/codepilot")
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg = &config
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stderr")

	// Router defaults
	v.SetDefault("router.default_provider", "")
	v.SetDefault("router.default_model", "")
	v.SetDefault("router.strategy", "balanced")
	v.SetDefault("router.max_retries", 3)
	v.SetDefault("router.attempt_timeout", "30s")
	v.SetDefault("router.backoff_factor", 2.0)
	v.SetDefault("router.backoff_base", "1s")
	v.SetDefault("router.jitter", true)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")

	v.SetDefault("preferences.path", "")

	// Redis is off unless a URL is given
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Local gateway defaults
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.graceful_shutdown", "10s")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
}

func bindEnvVars(v *viper.Viper) {
	// Common unprefixed names
	_ = v.BindEnv("logging.level", "CODEPILOT_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("redis.url", "CODEPILOT_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("redis.password", "CODEPILOT_REDIS_PASSWORD", "REDIS_PASSWORD")

	_ = v.BindEnv("router.default_provider", "CODEPILOT_PROVIDER")
	_ = v.BindEnv("router.default_model", "CODEPILOT_MODEL")
	_ = v.BindEnv("preferences.path", "CODEPILOT_PREFERENCES")
}

// Validate rejects settings that would make the router misbehave
func (c *Config) Validate() error {
	if c.Router.MaxRetries < 0 {
		return fmt.Errorf("router.max_retries must be >= 0, got %d", c.Router.MaxRetries)
	}
	if c.Router.AttemptTimeout <= 0 {
		return fmt.Errorf("router.attempt_timeout must be positive, got %s", c.Router.AttemptTimeout)
	}
	if c.Router.BackoffFactor < 1 {
		return fmt.Errorf("router.backoff_factor must be >= 1, got %g", c.Router.BackoffFactor)
	}
	if c.CircuitBreaker.FailureThreshold < 1 || c.CircuitBreaker.SuccessThreshold < 1 {
		return fmt.Errorf("circuit_breaker thresholds must be >= 1")
	}
	return nil
}

// Get returns the last loaded config
func Get() *Config {
	return cfg
}
