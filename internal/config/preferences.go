package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Preferences is the user's persisted routing choice and stored credentials
type Preferences struct {
	Provider string            `mapstructure:"provider" json:"provider,omitempty"`
	Model    string            `mapstructure:"model" json:"model,omitempty"`
	APIKeys  map[string]string `mapstructure:"api_keys" json:"-"`
}

// PreferenceStore reads and writes the preference record. Each mutation is
// written through to disk before it returns.
type PreferenceStore struct {
	mu    sync.RWMutex
	path  string
	prefs Preferences
}

// DefaultPreferencesPath is ~/.codepilot/preferences.yaml
func DefaultPreferencesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".codepilot", "preferences.yaml"), nil
}

// NewPreferenceStore loads path, or starts empty when the file does not exist.
// An empty path uses DefaultPreferencesPath.
func NewPreferenceStore(path string) (*PreferenceStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPreferencesPath(); err != nil {
			return nil, err
		}
	}
	if filepath.Ext(path) == "" {
		path += ".yaml"
	}

	s := &PreferenceStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PreferenceStore) load() error {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.prefs = Preferences{APIKeys: map[string]string{}}
			return nil
		}
		return fmt.Errorf("error reading preferences: %w", err)
	}

	var prefs Preferences
	if err := v.Unmarshal(&prefs); err != nil {
		return fmt.Errorf("unable to decode preferences: %w", err)
	}
	if prefs.APIKeys == nil {
		prefs.APIKeys = map[string]string{}
	}
	s.prefs = prefs
	return nil
}

// save must be called with s.mu held for writing
func (s *PreferenceStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigPermissions(0o600)
	v.Set("provider", s.prefs.Provider)
	v.Set("model", s.prefs.Model)
	v.Set("api_keys", s.prefs.APIKeys)

	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	// WriteConfigAs only applies the mode on create
	return os.Chmod(s.path, 0o600)
}

func (s *PreferenceStore) Path() string {
	return s.path
}

// Get returns a copy of the current record
func (s *PreferenceStore) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs := s.prefs
	prefs.APIKeys = make(map[string]string, len(s.prefs.APIKeys))
	for k, v := range s.prefs.APIKeys {
		prefs.APIKeys[k] = v
	}
	return prefs
}

// SetProvider stores the default backend and clears the model, which belonged to the old backend
func (s *PreferenceStore) SetProvider(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefs.Provider != provider {
		s.prefs.Model = ""
	}
	s.prefs.Provider = provider
	return s.save()
}

// SetModel stores provider and model together
func (s *PreferenceStore) SetModel(provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.Provider = provider
	s.prefs.Model = model
	return s.save()
}

// SetAPIKey stores or, for an empty key, removes a credential
func (s *PreferenceStore) SetAPIKey(provider, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	if key == "" {
		delete(s.prefs.APIKeys, provider)
	} else {
		s.prefs.APIKeys[provider] = key
	}
	return s.save()
}

func (s *PreferenceStore) APIKey(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.prefs.APIKeys[provider]
}
