package router

import (
	"strings"
	"sync"

	"github.com/amerfu/codepilot/internal/config"
)

// PreferenceStore persists the user's default backend, model and keys.
// *config.PreferenceStore satisfies it.
type PreferenceStore interface {
	Get() config.Preferences
	SetProvider(provider string) error
	SetModel(provider, model string) error
	SetAPIKey(provider, key string) error
	APIKey(provider string) string
}

// memoryPreferences is used when no store is configured
type memoryPreferences struct {
	mu    sync.RWMutex
	prefs config.Preferences
}

func newMemoryPreferences() *memoryPreferences {
	return &memoryPreferences{prefs: config.Preferences{APIKeys: map[string]string{}}}
}

func (m *memoryPreferences) Get() config.Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefs := m.prefs
	prefs.APIKeys = make(map[string]string, len(m.prefs.APIKeys))
	for k, v := range m.prefs.APIKeys {
		prefs.APIKeys[k] = v
	}
	return prefs
}

func (m *memoryPreferences) SetProvider(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prefs.Provider != provider {
		m.prefs.Model = ""
	}
	m.prefs.Provider = provider
	return nil
}

func (m *memoryPreferences) SetModel(provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prefs.Provider = provider
	m.prefs.Model = model
	return nil
}

func (m *memoryPreferences) SetAPIKey(provider, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key = strings.TrimSpace(key); key == "" {
		delete(m.prefs.APIKeys, provider)
	} else {
		m.prefs.APIKeys[provider] = key
	}
	return nil
}

func (m *memoryPreferences) APIKey(provider string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.prefs.APIKeys[provider]
}
