package config

// ProviderOverride adjusts one built-in backend from codepilot.yaml:
//
//	providers:
//	  ollama:
//	    base_url: http://gpu-box:11434/v1
//	    default_model: qwen2.5-coder:32b
//	    models:
//	      - id: qwen2.5-coder:32b
//	        tier: max
//	        free_tier: true
type ProviderOverride struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Models       []ModelConfig `mapstructure:"models"`

	// RequestsPerMinute replaces the built-in client-side throttle; -1 disables it
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// Disabled removes the backend from routing entirely
	Disabled bool `mapstructure:"disabled"`
}

// ModelConfig adds a model to a backend's catalog entry
type ModelConfig struct {
	ID                string  `mapstructure:"id"`
	Name              string  `mapstructure:"name"`
	Tier              string  `mapstructure:"tier"`
	FreeTier          bool    `mapstructure:"free_tier"`
	ContextWindow     int     `mapstructure:"context_window"`
	InputCostPerMTok  float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}
