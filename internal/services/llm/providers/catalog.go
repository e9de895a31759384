package providers

import (
	"fmt"
	"os"
	"strings"
)

// Factory builds an adapter for spec. apiKey may be empty for local backends.
type Factory func(spec Spec, apiKey string) (Provider, error)

// Spec is the static registry entry of one backend
type Spec struct {
	ID           string
	Name         string
	EnvVar       string // credential variable; empty for credential-free backends
	RequiresKey  bool
	BaseURL      string
	DefaultModel string
	Models       []ModelInfo
	Factory      Factory

	// RequestsPerMinute throttles the adapter client-side; zero means unlimited
	RequestsPerMinute int
}

// Local reports whether the backend works without credentials
func (s Spec) Local() bool {
	return !s.RequiresKey
}

// HasFreeTier reports whether any model is usable without billing
func (s Spec) HasFreeTier() bool {
	for _, m := range s.Models {
		if m.FreeTier {
			return true
		}
	}
	return false
}

// OffersTier reports whether any model has the given tier
func (s Spec) OffersTier(tier Tier) bool {
	for _, m := range s.Models {
		if m.Tier == tier {
			return true
		}
	}
	return false
}

// HasModel reports whether id is one of the spec's models
func (s Spec) HasModel(id string) bool {
	for _, m := range s.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// EnvKey returns the credential from the environment, if any
func (s Spec) EnvKey() string {
	if s.EnvVar == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(s.EnvVar))
}

// Build runs the spec's factory
func (s Spec) Build(apiKey string) (Provider, error) {
	if s.Factory == nil {
		return nil, fmt.Errorf("provider %s has no adapter factory", s.ID)
	}
	return s.Factory(s, apiKey)
}

// Catalog is an ordered set of backend specs. Registration order is the
// tie-breaker for fallback ordering, so it is preserved everywhere.
type Catalog struct {
	specs []Spec
	index map[string]int
}

// NewCatalog registers specs in the order given. A duplicate id replaces the earlier entry in place.
func NewCatalog(specs ...Spec) *Catalog {
	c := &Catalog{index: make(map[string]int, len(specs))}
	for _, spec := range specs {
		c.Register(spec)
	}
	return c
}

// Register appends spec, or replaces an entry with the same id
func (c *Catalog) Register(spec Spec) {
	if i, ok := c.index[spec.ID]; ok {
		c.specs[i] = spec
		return
	}
	c.index[spec.ID] = len(c.specs)
	c.specs = append(c.specs, spec)
}

// Lookup returns the spec for id
func (c *Catalog) Lookup(id string) (Spec, bool) {
	i, ok := c.index[id]
	if !ok {
		return Spec{}, false
	}
	return c.specs[i], true
}

// Has reports whether id is registered
func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// All returns the specs in registration order
func (c *Catalog) All() []Spec {
	return append([]Spec(nil), c.specs...)
}

// IDs returns the ids in registration order
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.specs))
	for i, s := range c.specs {
		ids[i] = s.ID
	}
	return ids
}

// SetBaseURL overrides the endpoint of a registered backend
func (c *Catalog) SetBaseURL(id, baseURL string) bool {
	i, ok := c.index[id]
	if !ok || baseURL == "" {
		return false
	}
	c.specs[i].BaseURL = baseURL
	return true
}

// SetRateLimit changes the client-side request budget of a backend
func (c *Catalog) SetRateLimit(id string, requestsPerMinute int) bool {
	i, ok := c.index[id]
	if !ok || requestsPerMinute < 0 {
		return false
	}
	c.specs[i].RequestsPerMinute = requestsPerMinute
	return true
}

// Remove drops a backend; later entries keep their relative order
func (c *Catalog) Remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.specs = append(c.specs[:i], c.specs[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.specs); j++ {
		c.index[c.specs[j].ID] = j
	}
	return true
}

// AddModels appends models to a backend, replacing any with the same id
func (c *Catalog) AddModels(id string, models ...ModelInfo) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	spec := &c.specs[i]
	spec.Models = append([]ModelInfo(nil), spec.Models...)
	for _, m := range models {
		replaced := false
		for k := range spec.Models {
			if spec.Models[k].ID == m.ID {
				spec.Models[k] = m
				replaced = true
				break
			}
		}
		if !replaced {
			spec.Models = append(spec.Models, m)
		}
	}
	return true
}

// SetDefaultModel changes a backend's default. The model must be listed.
func (c *Catalog) SetDefaultModel(id, model string) error {
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("unknown provider: %s", id)
	}
	if !c.specs[i].HasModel(model) {
		return fmt.Errorf("provider %s has no model %s", id, model)
	}
	c.specs[i].DefaultModel = model
	return nil
}

func openAICompatible(spec Spec, apiKey string) (Provider, error) {
	return NewOpenAICompatibleProvider(spec, apiKey)
}

func anthropicFactory(spec Spec, apiKey string) (Provider, error) {
	return NewAnthropicProvider(spec, apiKey)
}

// DefaultCatalog returns the built-in backends
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Spec{
			ID:           "anthropic",
			Name:         "Anthropic",
			EnvVar:       "ANTHROPIC_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://api.anthropic.com",
			DefaultModel: "claude-sonnet-4-5",
			Models: []ModelInfo{
				{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", Tier: TierMax, ContextWindow: 200000, InputCostPerMTok: 15, OutputCostPerMTok: 75},
				{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Tier: TierBalanced, ContextWindow: 200000, InputCostPerMTok: 3, OutputCostPerMTok: 15},
				{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Tier: TierFast, ContextWindow: 200000, InputCostPerMTok: 1, OutputCostPerMTok: 5},
			},
			Factory: anthropicFactory,
		},
		Spec{
			ID:           "openai",
			Name:         "OpenAI",
			EnvVar:       "OPENAI_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://api.openai.com/v1",
			DefaultModel: "gpt-4.1",
			Models: []ModelInfo{
				{ID: "o3", Name: "o3", Tier: TierMax, ContextWindow: 200000, InputCostPerMTok: 2, OutputCostPerMTok: 8},
				{ID: "gpt-4.1", Name: "GPT-4.1", Tier: TierBalanced, ContextWindow: 1047576, InputCostPerMTok: 2, OutputCostPerMTok: 8},
				{ID: "gpt-4.1-mini", Name: "GPT-4.1 mini", Tier: TierFast, ContextWindow: 1047576, InputCostPerMTok: 0.4, OutputCostPerMTok: 1.6},
			},
			Factory: openAICompatible,
		},
		Spec{
			ID:           "gemini",
			Name:         "Google Gemini",
			EnvVar:       "GEMINI_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
			DefaultModel: "gemini-2.5-flash",
			Models: []ModelInfo{
				{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Tier: TierMax, FreeTier: true, ContextWindow: 1048576, InputCostPerMTok: 1.25, OutputCostPerMTok: 10},
				{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Tier: TierFast, FreeTier: true, ContextWindow: 1048576, InputCostPerMTok: 0.3, OutputCostPerMTok: 2.5},
			},
			Factory:           openAICompatible,
			RequestsPerMinute: 15, // free tier
		},
		Spec{
			ID:           "groq",
			Name:         "Groq",
			EnvVar:       "GROQ_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://api.groq.com/openai/v1",
			DefaultModel: "llama-3.3-70b-versatile",
			Models: []ModelInfo{
				{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", Tier: TierBalanced, FreeTier: true, ContextWindow: 131072},
				{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", Tier: TierFast, FreeTier: true, ContextWindow: 131072},
			},
			Factory:           openAICompatible,
			RequestsPerMinute: 30,
		},
		Spec{
			ID:           "openrouter",
			Name:         "OpenRouter",
			EnvVar:       "OPENROUTER_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "deepseek/deepseek-chat-v3-0324:free",
			Models: []ModelInfo{
				{ID: "deepseek/deepseek-chat-v3-0324:free", Name: "DeepSeek V3 (free)", Tier: TierBalanced, FreeTier: true, ContextWindow: 163840},
				{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4 via OpenRouter", Tier: TierMax, ContextWindow: 200000, InputCostPerMTok: 3, OutputCostPerMTok: 15},
			},
			Factory: openAICompatible,
		},
		Spec{
			ID:           "deepseek",
			Name:         "DeepSeek",
			EnvVar:       "DEEPSEEK_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://api.deepseek.com/v1",
			DefaultModel: "deepseek-chat",
			Models: []ModelInfo{
				{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", Tier: TierMax, ContextWindow: 65536, InputCostPerMTok: 0.55, OutputCostPerMTok: 2.19},
				{ID: "deepseek-chat", Name: "DeepSeek Chat", Tier: TierBalanced, ContextWindow: 65536, InputCostPerMTok: 0.27, OutputCostPerMTok: 1.1},
			},
			Factory: openAICompatible,
		},
		Spec{
			ID:           "mistral",
			Name:         "Mistral",
			EnvVar:       "MISTRAL_API_KEY",
			RequiresKey:  true,
			BaseURL:      "https://api.mistral.ai/v1",
			DefaultModel: "codestral-latest",
			Models: []ModelInfo{
				{ID: "mistral-large-latest", Name: "Mistral Large", Tier: TierMax, ContextWindow: 131072, InputCostPerMTok: 2, OutputCostPerMTok: 6},
				{ID: "codestral-latest", Name: "Codestral", Tier: TierBalanced, ContextWindow: 256000, InputCostPerMTok: 0.3, OutputCostPerMTok: 0.9},
				{ID: "mistral-small-latest", Name: "Mistral Small", Tier: TierFast, ContextWindow: 131072, InputCostPerMTok: 0.1, OutputCostPerMTok: 0.3},
			},
			Factory: openAICompatible,
		},
		Spec{
			ID:           "ollama",
			Name:         "Ollama (local)",
			BaseURL:      "http://localhost:11434/v1",
			DefaultModel: "qwen2.5-coder:7b",
			Models: []ModelInfo{
				{ID: "qwen2.5-coder:7b", Name: "Qwen2.5 Coder 7B", Tier: TierFast, FreeTier: true, ContextWindow: 32768},
				{ID: "llama3.1:8b", Name: "Llama 3.1 8B", Tier: TierBalanced, FreeTier: true, ContextWindow: 131072},
			},
			Factory: openAICompatible,
		},
		Spec{
			ID:           "lmstudio",
			Name:         "LM Studio (local)",
			BaseURL:      "http://localhost:1234/v1",
			DefaultModel: "local-model",
			Models: []ModelInfo{
				{ID: "local-model", Name: "Loaded model", Tier: TierBalanced, FreeTier: true},
			},
			Factory: openAICompatible,
		},
	)
}
