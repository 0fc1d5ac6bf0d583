// Package config is the daemon's own YAML-backed engine configuration:
// mDNS interfaces, enabled address families, subscription defaults, log
// level, data directory and control socket path. Stored at
// $XDG_CONFIG_HOME/matterctl/engine.yaml (defaults to
// ~/.config/matterctl/engine.yaml), following the teacher's
// config/config.go Load/Save/Path pattern -- adapted from its
// kubeconfig-style named-contexts shape (matterctld is a single daemon
// process, not a multi-context CLI) to a flat engine settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"matterctl/internal/matter/defaults"
)

// MDNS holds the engine's multicast discovery settings.
type MDNS struct {
	// Interfaces lists the network interface names to listen/send on; an
	// empty list means every multicast-capable interface.
	Interfaces []string `yaml:"interfaces,omitempty"`
	EnableIPv4 bool      `yaml:"enable_ipv4"`
	EnableIPv6 bool      `yaml:"enable_ipv6"`
}

// Subscription holds the Subscription Coordinator's default behavior.
type Subscription struct {
	AutoSubscribe            bool `yaml:"auto_subscribe"`
	DefaultMaxIntervalSeconds int `yaml:"default_max_interval_seconds,omitempty"`
}

// Config is the engine's full configuration file.
type Config struct {
	DataRoot     string       `yaml:"data_root,omitempty"`
	Socket       string       `yaml:"socket,omitempty"`
	LogLevel     string       `yaml:"log_level,omitempty"`
	MDNS         MDNS         `yaml:"mdns,omitempty"`
	Subscription Subscription `yaml:"subscription,omitempty"`
}

// Default returns a Config populated with the package defaults -- what a
// freshly installed daemon runs with before any engine.yaml exists.
func Default() *Config {
	return &Config{
		DataRoot: defaults.DataRoot(),
		LogLevel: "info",
		MDNS: MDNS{
			EnableIPv4: true,
			EnableIPv6: true,
		},
		Subscription: Subscription{
			AutoSubscribe: true,
		},
	}
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/matterctl/engine.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "matterctl", "engine.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "matterctl", "engine.yaml")
}

// Load reads the config file. If it doesn't exist, Default() is returned
// instead of an error.
func Load() (*Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read engine config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk, creating directories as needed.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal engine config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write engine config: %w", err)
	}
	return nil
}

// SocketPath returns the effective control-plane socket path: the
// explicit Socket setting if present, otherwise the default derived from
// DataRoot.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return defaults.SocketPath(c.DataRoot)
}
