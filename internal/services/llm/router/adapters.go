package router

import (
	"sync"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

// adapterCache builds each backend adapter on first use and keeps it for the
// router's lifetime. Construction is side-effect free, so when two callers race
// the first stored adapter wins.
type adapterCache struct {
	mu       sync.RWMutex
	adapters map[string]providers.Provider
	build    func(id string) (providers.Provider, error)
}

func newAdapterCache(build func(id string) (providers.Provider, error)) *adapterCache {
	return &adapterCache{
		adapters: make(map[string]providers.Provider),
		build:    build,
	}
}

func (c *adapterCache) Get(id string) (providers.Provider, error) {
	c.mu.RLock()
	adapter, ok := c.adapters[id]
	c.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if adapter, ok = c.adapters[id]; ok {
		return adapter, nil
	}

	adapter, err := c.build(id)
	if err != nil {
		return nil, err
	}
	c.adapters[id] = adapter
	return adapter, nil
}

// Evict drops a cached adapter so the next Get rebuilds it
func (c *adapterCache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.adapters, id)
}

// Peek returns a cached adapter without building one
func (c *adapterCache) Peek(id string) (providers.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	adapter, ok := c.adapters[id]
	return adapter, ok
}
