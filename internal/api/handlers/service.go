package handlers

import (
	"context"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/internal/services/llm/router"
	"github.com/amerfu/codepilot/internal/services/llm/stats"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// Router is the part of *router.Router the gateway serves
type Router interface {
	Chat(ctx context.Context, messages []providers.Message, opts providers.ChatOptions) (*providers.Response, error)
	StreamChat(ctx context.Context, messages []providers.Message, onChunk providers.StreamHandler, opts providers.ChatOptions) (*providers.Response, error)
	ListProviders() []router.ProviderInfo
	GetCurrentProvider() string
	GetStats() stats.Snapshot
	ResetStats()
	BreakerStates() []circuitbreaker.Stats
}

var _ Router = (*router.Router)(nil)
