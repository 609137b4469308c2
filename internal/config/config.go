// Package config loads and saves the per-user codesync settings file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/roach88/codesync/internal/presence"
)

// fs is swapped for an in-memory filesystem in tests.
var fs = afero.NewOsFs()

// DefaultPath is where the settings file lives unless a flag says otherwise.
const DefaultPath = "~/.codesync.yaml"

// Defaults for a fresh install.
const (
	DefaultRelay     = "ws://localhost:1234/ws"
	DefaultWorkspace = "codesync-demo-workspace"
)

// Config is the on-disk settings file.
type Config struct {
	Relay     string `yaml:"relay"`
	Workspace string `yaml:"workspace"`

	// Name and Color override the random presence identity.
	Name  string `yaml:"name,omitempty"`
	Color string `yaml:"color,omitempty"`

	// Token is written by `codesync login`.
	Token string `yaml:"token,omitempty"`

	Heartbeat   time.Duration `yaml:"heartbeat"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`

	// Seed populates an empty workspace with the default project on first sync.
	Seed bool `yaml:"seed"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		Relay:       DefaultRelay,
		Workspace:   DefaultWorkspace,
		Heartbeat:   presence.DefaultHeartbeat,
		PresenceTTL: presence.DefaultTTL,
		Seed:        true,
	}
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if c.Workspace == "" {
		return errors.New("workspace must not be empty")
	}
	u, err := url.Parse(c.Relay)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url %q: scheme must be ws or wss", c.Relay)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive, got %s", c.Heartbeat)
	}
	if c.PresenceTTL <= c.Heartbeat {
		return fmt.Errorf("presence_ttl (%s) must exceed heartbeat (%s)", c.PresenceTTL, c.Heartbeat)
	}
	return nil
}

// Expand resolves a leading ~ in path.
func Expand(path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	p, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return p, nil
}

// Load reads the settings file at path. A missing file yields Default().
// Fields absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	p, err := Expand(path)
	if err != nil {
		return cfg, err
	}

	data, err := afero.ReadFile(fs, p)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", p, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", p, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	p, err := Expand(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// Token is a credential.
	if err := afero.WriteFile(fs, p, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
