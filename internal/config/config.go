package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.fieldsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Load reads the global config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// SessionConfig represents a per-session session.toml.
type SessionConfig struct {
	Remote   Remote   `toml:"remote"`
	Identity Identity `toml:"identity"`
	Sync     Sync     `toml:"sync"`
	Realtime Realtime `toml:"realtime"`
}

// Remote holds the backend endpoint settings.
type Remote struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// Identity describes the authenticated user the session belongs to.
type Identity struct {
	OrgID  string `toml:"org_id"`
	UserID string `toml:"user_id"`
	// Role is either "coordinator" (privileged) or "medic".
	Role string `toml:"role"`
	// PrivilegedLabel is the fixed display name a non-privileged user sees
	// for the privileged counterpart of a direct conversation.
	PrivilegedLabel string `toml:"privileged_label"`
}

// Sync holds pull/push tunables.
type Sync struct {
	ConversationPageSize int `toml:"conversation_page_size"`
	MessagePageSize      int `toml:"message_page_size"`
	ColdStartMessages    int `toml:"cold_start_messages"`
	PullIntervalSeconds  int `toml:"pull_interval_seconds"`
	PushTickMillis       int `toml:"push_tick_millis"`
}

// Realtime holds the live channel settings.
type Realtime struct {
	Enabled bool `toml:"enabled"`
}

// LoadSession reads a session config and applies defaults for unset tunables.
func LoadSession(path string) (*SessionConfig, error) {
	var cfg SessionConfig
	cfg.Realtime.Enabled = true
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("session config %s: remote.base_url is required", path)
	}
	if cfg.Identity.OrgID == "" || cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("session config %s: identity.org_id and identity.user_id are required", path)
	}
	return &cfg, nil
}

func (c *SessionConfig) applyDefaults() {
	if c.Sync.ConversationPageSize <= 0 {
		c.Sync.ConversationPageSize = 200
	}
	if c.Sync.MessagePageSize <= 0 {
		c.Sync.MessagePageSize = 500
	}
	if c.Sync.ColdStartMessages <= 0 {
		c.Sync.ColdStartMessages = 100
	}
	if c.Sync.PullIntervalSeconds <= 0 {
		c.Sync.PullIntervalSeconds = 60
	}
	if c.Sync.PushTickMillis <= 0 {
		c.Sync.PushTickMillis = 500
	}
	if c.Identity.PrivilegedLabel == "" {
		c.Identity.PrivilegedLabel = "Coordination"
	}
	if c.Identity.Role == "" {
		c.Identity.Role = "medic"
	}
}

// Privileged reports whether the session user sees counterpart real names.
func (c *SessionConfig) Privileged() bool {
	return c.Identity.Role == "coordinator"
}
