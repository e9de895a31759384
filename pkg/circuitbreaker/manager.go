package circuitbreaker

import (
	"sort"
	"sync"
)

// Manager owns one breaker per backend
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	config Config
	opts   []Option
}

// NewManager creates a manager whose breakers share cfg and opts
func NewManager(cfg Config, opts ...Option) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   cfg.withDefaults(),
		opts:     opts,
	}
}

// Get returns the breaker for name, creating it on first use
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}

	breaker = New(name, m.config, m.opts...)
	m.breakers[name] = breaker
	return breaker
}

// Peek returns the breaker for name without creating one
func (m *Manager) Peek(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	return breaker, exists
}

// CanExecute reports whether name would accept a call. Unknown names are closed.
func (m *Manager) CanExecute(name string) bool {
	breaker, exists := m.Peek(name)
	if !exists {
		return true
	}
	return breaker.CanExecute()
}

// ResetAll closes every breaker
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}

// States returns the stats of all breakers ordered by name
func (m *Manager) States() []Stats {
	m.mu.RLock()
	states := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		states = append(states, breaker.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
