package router

import (
	"github.com/amerfu/codepilot/internal/services/llm/providers"
	"github.com/amerfu/codepilot/pkg/circuitbreaker"
)

// ProviderInfo is the merged static and live view of one backend
type ProviderInfo struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Local        bool                  `json:"local"`
	FreeTier     bool                  `json:"free_tier"`
	Configured   bool                  `json:"configured"`
	Available    bool                  `json:"available"`
	Current      bool                  `json:"current"`
	DefaultModel string                `json:"default_model"`
	ModelCount   int                   `json:"model_count"`
	Models       []providers.ModelInfo `json:"models,omitempty"`
	BreakerState string                `json:"breaker_state"`
}

// ProviderModel is a model together with the backend offering it
type ProviderModel struct {
	Provider string `json:"provider"`
	providers.ModelInfo
}

// ListProviders describes every registered backend in registration order.
// Available means configured and not blocked by an open breaker.
func (r *Router) ListProviders() []ProviderInfo {
	current := r.GetCurrentProvider()

	specs := r.catalog.All()
	infos := make([]ProviderInfo, 0, len(specs))
	for _, spec := range specs {
		infos = append(infos, r.describe(spec, current))
	}
	return infos
}

func (r *Router) describe(spec providers.Spec, current string) ProviderInfo {
	configured := r.configured(spec)

	state := circuitbreaker.StateClosed
	if breaker, ok := r.breakers.Peek(spec.ID); ok {
		state = breaker.State()
	}

	return ProviderInfo{
		ID:           spec.ID,
		Name:         spec.Name,
		Local:        spec.Local(),
		FreeTier:     spec.HasFreeTier(),
		Configured:   configured,
		Available:    configured && r.breakers.CanExecute(spec.ID),
		Current:      spec.ID == current,
		DefaultModel: spec.DefaultModel,
		ModelCount:   len(spec.Models),
		Models:       append([]providers.ModelInfo(nil), spec.Models...),
		BreakerState: state.String(),
	}
}

func (r *Router) filterProviders(keep func(ProviderInfo) bool) []ProviderInfo {
	var out []ProviderInfo
	for _, info := range r.ListProviders() {
		if keep(info) {
			out = append(out, info)
		}
	}
	return out
}

// GetLocalProviders returns the credential-free backends
func (r *Router) GetLocalProviders() []ProviderInfo {
	return r.filterProviders(func(info ProviderInfo) bool { return info.Local })
}

func (r *Router) GetConfiguredProviders() []ProviderInfo {
	return r.filterProviders(func(info ProviderInfo) bool { return info.Configured })
}

// GetFreeTierModels lists every free-tier model across the registry
func (r *Router) GetFreeTierModels() []ProviderModel {
	var out []ProviderModel
	for _, spec := range r.catalog.All() {
		for _, m := range spec.Models {
			if m.FreeTier {
				out = append(out, ProviderModel{Provider: spec.ID, ModelInfo: m})
			}
		}
	}
	return out
}
