package providers

import (
	"context"
	"time"
)

// Provider is the contract every backend adapter implements. The router only
// talks to backends through it.
type Provider interface {
	// Identity and capabilities
	ID() string
	IsConfigured() bool
	Models() []ModelInfo
	DefaultModel() string
	SelectModelForTask(task string) string

	// Chat runs one completion. Failures are *ProviderError.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error)

	// StreamChat delivers partial text to onChunk as it arrives and returns the
	// assembled response. Returning an error from onChunk or cancelling ctx
	// abandons the stream; the stream cannot be restarted.
	StreamChat(ctx context.Context, messages []Message, onChunk StreamHandler, opts ChatOptions) (*Response, error)
}

// Tier is a coarse quality/speed classification used for ordering
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierMax      Tier = "max"
)

// ModelInfo describes one model offered by a backend
type ModelInfo struct {
	ID                string  `json:"id" yaml:"id"`
	Name              string  `json:"name" yaml:"name"`
	Tier              Tier    `json:"tier" yaml:"tier"`
	FreeTier          bool    `json:"free_tier" yaml:"free_tier"`
	ContextWindow     int     `json:"context_window,omitempty" yaml:"context_window"`
	InputCostPerMTok  float64 `json:"input_cost_per_mtok,omitempty" yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `json:"output_cost_per_mtok,omitempty" yaml:"output_cost_per_mtok"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the per-request overrides.
// Model is either "backend/model" or a bare model id of the resolved backend.
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type Usage struct {
	PromptTokens int     `json:"prompt_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

type Response struct {
	Content      string        `json:"content"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"-"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// LatencyMs is the latency in fractional milliseconds
func (r *Response) LatencyMs() float64 {
	return float64(r.Latency) / float64(time.Millisecond)
}

// StreamChunk is one partial-text notification
type StreamChunk struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Delta    string `json:"delta"`
}

// StreamHandler receives chunks in order. A non-nil return stops the stream.
type StreamHandler func(chunk StreamChunk) error
