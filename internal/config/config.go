// Package config loads the layered configuration of the exposure tracker:
// built-in defaults, then an optional config file (TOML or YAML), then
// EXPOSURE_* environment variables, then command-line flags bound by the
// caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EXPOSURE_HUB_ADDR.
const EnvPrefix = "EXPOSURE"

// Config is the effective configuration.
type Config struct {
	User    string `mapstructure:"user" yaml:"user"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache"`
	Static StaticConfig `mapstructure:"static" yaml:"static"`
	Hub    HubConfig    `mapstructure:"hub" yaml:"hub"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// RemoteConfig locates the remote store.
type RemoteConfig struct {
	// DB is the SQLite file served by `serve`.
	DB string `mapstructure:"db" yaml:"db"`
	// Addr is where `serve` listens for store traffic.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// URL is where clients reach the store.
	URL string `mapstructure:"url" yaml:"url"`
}

// CacheConfig configures the offline cache proxy.
type CacheConfig struct {
	DB          string   `mapstructure:"db" yaml:"db"`
	Version     string   `mapstructure:"version" yaml:"version"`
	Manifest    string   `mapstructure:"manifest" yaml:"manifest"`
	Origin      string   `mapstructure:"origin" yaml:"origin"`
	RemoteHosts []string `mapstructure:"remote_hosts" yaml:"remote_hosts"`
	Shell       string   `mapstructure:"shell" yaml:"shell"`
	SkipWaiting bool     `mapstructure:"skip_waiting" yaml:"skip_waiting"`
}

// StaticConfig configures the built-in static file server.
type StaticConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// HubConfig configures the page hub.
type HubConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SyncConfig configures deferred-write sync.
type SyncConfig struct {
	Tag           string        `mapstructure:"tag" yaml:"tag"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// SetDefaults registers every key with its default on v. Keys must be
// registered for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("user", "")
	v.SetDefault("data_dir", filepath.Join(XDGDataHome(), "exposure"))

	v.SetDefault("remote.db", "")
	v.SetDefault("remote.addr", "127.0.0.1:8780")
	v.SetDefault("remote.url", "http://127.0.0.1:8780")

	v.SetDefault("cache.db", "")
	v.SetDefault("cache.version", "exposure-tracker-v1.0.0")
	v.SetDefault("cache.manifest", "")
	v.SetDefault("cache.origin", "http://127.0.0.1:8782")
	v.SetDefault("cache.remote_hosts", []string{"127.0.0.1:8780"})
	v.SetDefault("cache.shell", "/index.html")
	v.SetDefault("cache.skip_waiting", true)

	v.SetDefault("static.dir", "")
	v.SetDefault("static.addr", "127.0.0.1:8782")

	v.SetDefault("hub.addr", "127.0.0.1:8781")

	v.SetDefault("sync.tag", "exposure-data-sync")
	v.SetDefault("sync.probe_interval", 15*time.Second)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration into a Config. path names an explicit config
// file; when empty, config.{toml,yaml} under the XDG config home is used if
// present.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DefaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve fills paths derived from DataDir.
func (c *Config) resolve() {
	if c.Remote.DB == "" {
		c.Remote.DB = filepath.Join(c.DataDir, "remote.db")
	}
	if c.Cache.DB == "" {
		c.Cache.DB = filepath.Join(c.DataDir, "cache.db")
	}
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	for key, raw := range map[string]string{
		"remote.url":   c.Remote.URL,
		"cache.origin": c.Cache.Origin,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", key, raw)
		}
	}
	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("sync.probe_interval must be positive")
	}
	if c.Sync.Tag == "" {
		return fmt.Errorf("sync.tag is required")
	}
	return nil
}

// YAML renders the configuration for display.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultConfigDir is where Load looks for config.toml or config.yaml.
func DefaultConfigDir() string {
	return filepath.Join(XDGConfigHome(), "exposure")
}
