package dashboard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings are the operator preferences edited on the settings panel
type Settings struct {
	General       GeneralSettings      `yaml:"general"`
	Notifications NotificationSettings `yaml:"notifications"`
	Security      SecuritySettings     `yaml:"security"`
}

// GeneralSettings holds system-wide preferences
type GeneralSettings struct {
	SystemName string `yaml:"system_name"`
	// UpdateInterval is the poll interval in seconds
	UpdateInterval int    `yaml:"update_interval"`
	Timezone       string `yaml:"timezone"`
}

// NotificationSettings selects where alerts are delivered
type NotificationSettings struct {
	Email             bool   `yaml:"email"`
	Browser           bool   `yaml:"browser"`
	NotificationEmail string `yaml:"notification_email,omitempty"`
}

// SecuritySettings holds session preferences
type SecuritySettings struct {
	// SessionTimeout is in minutes
	SessionTimeout int  `yaml:"session_timeout"`
	RequireAuth    bool `yaml:"require_auth"`
}

// DefaultSettings returns the settings used before anything is saved
func DefaultSettings() Settings {
	return Settings{
		General: GeneralSettings{
			SystemName:     "fleet3d",
			UpdateInterval: int(DefaultPollInterval.Seconds()),
			Timezone:       "UTC",
		},
		Notifications: NotificationSettings{
			Browser: true,
		},
		Security: SecuritySettings{
			SessionTimeout: 60,
		},
	}
}

// Validate checks the numeric ranges of the settings
func (s Settings) Validate() error {
	if s.General.UpdateInterval < 1 || s.General.UpdateInterval > 3600 {
		return fmt.Errorf("update interval must be between 1 and 3600 seconds")
	}
	if s.Security.SessionTimeout < 0 {
		return fmt.Errorf("session timeout cannot be negative")
	}
	return nil
}

// SettingsStore keeps Settings in a YAML file
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// LoadSettings reads the settings file at path. A missing file yields the
// defaults; an empty path keeps the settings in memory only.
func LoadSettings(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, settings: DefaultSettings()}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Get returns the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Save validates and stores new settings
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(settings)
}

// Update applies fn to a copy of the current settings and saves the
// result. Concurrent updates are applied one after the other.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	fn(&next)
	if err := s.save(next); err != nil {
		return s.settings, err
	}
	return next, nil
}

// save writes settings through to the file; s.mu must be held
func (s *SettingsStore) save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if s.path != "" {
		data, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		if dir := filepath.Dir(s.path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(s.path, data, 0644); err != nil {
			return err
		}
	}
	s.settings = settings
	return nil
}
