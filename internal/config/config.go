// Package config loads crowdsync settings from a TOML file, CROWDSYNC_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CROWDSYNC_LOG_LEVEL.
	EnvPrefix = "CROWDSYNC"

	// FileName is the config file looked up in the data directory.
	FileName = "config.toml"
)

// Config is the complete runtime configuration.
type Config struct {
	// DataDir holds the cache database, the outbox and the config file.
	DataDir  string `mapstructure:"data_dir"`
	Database string `mapstructure:"database"`
	Outbox   string `mapstructure:"outbox"`

	Remote  Remote  `mapstructure:"remote"`
	Log     Log     `mapstructure:"log"`
	Daemon  Daemon  `mapstructure:"daemon"`
	Events  Events  `mapstructure:"events"`
	Keyring Keyring `mapstructure:"keyring"`
}

// Remote configures the deployment client.
type Remote struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scope        string        `mapstructure:"scope"`
	Source       string        `mapstructure:"source"`
	SearchURL    string        `mapstructure:"search_url"`
	GeocoderURL  string        `mapstructure:"geocoder_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Log configures logging. An empty File logs to stderr only.
type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Daemon configures the background sync loop.
type Daemon struct {
	PushInterval    time.Duration `mapstructure:"push_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshLimit    int           `mapstructure:"refresh_limit"`
	Debounce        time.Duration `mapstructure:"debounce"`
}

// Events configures the websocket event stream. An empty Addr disables it.
type Events struct {
	Addr   string `mapstructure:"addr"`
	Buffer int    `mapstructure:"buffer"`
}

// Keyring names the service credentials are stored under.
type Keyring struct {
	Service string `mapstructure:"service"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "crowdsync")
	}
	return ".crowdsync"
}

// SetDefaults registers every key with its default on v. Keys must be
// registered for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("database", "")
	v.SetDefault("outbox", "")

	// The OAuth client is registered per platform install; set it in the
	// config file or CROWDSYNC_REMOTE_CLIENT_ID / _SECRET.
	v.SetDefault("remote.client_id", "")
	v.SetDefault("remote.client_secret", "")
	v.SetDefault("remote.scope", "api posts forms tags sets users media config")
	v.SetDefault("remote.source", "mobile")
	v.SetDefault("remote.search_url", "https://api.ushahidi.io/deployments")
	v.SetDefault("remote.geocoder_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("remote.user_agent", "crowdsync")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("daemon.push_interval", 30*time.Second)
	v.SetDefault("daemon.refresh_interval", 5*time.Minute)
	v.SetDefault("daemon.refresh_limit", 20)
	v.SetDefault("daemon.debounce", 100*time.Millisecond)

	v.SetDefault("events.addr", "")
	v.SetDefault("events.buffer", 100)

	v.SetDefault("keyring.service", "crowdsync")
}

// Load reads the configuration into v and decodes it. path may be empty,
// in which case config.toml is looked up in the data directory; a missing
// file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(v.GetString("data_dir"), FileName)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.fill()
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.fill()
	return &cfg
}

// fill derives paths left empty from DataDir.
func (c *Config) fill() {
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "cache.db")
	}
	if c.Outbox == "" {
		c.Outbox = filepath.Join(c.DataDir, "outbox")
	}
}

// Write stores c as TOML at path, creating parent directories. Durations
// are written in their string form so the file stays hand editable.
func Write(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := Encode(f, c.Settings()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}
	return nil
}

// Encode writes settings as TOML.
func Encode(w io.Writer, settings map[string]any) error {
	return toml.NewEncoder(w).Encode(settings)
}

// Settings is the file layout of c, also used for display.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"database": c.Database,
		"outbox":   c.Outbox,
		"remote": map[string]any{
			"client_id":     c.Remote.ClientID,
			"client_secret": c.Remote.ClientSecret,
			"scope":         c.Remote.Scope,
			"source":        c.Remote.Source,
			"search_url":    c.Remote.SearchURL,
			"geocoder_url":  c.Remote.GeocoderURL,
			"user_agent":    c.Remote.UserAgent,
			"timeout":       c.Remote.Timeout.String(),
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
		"daemon": map[string]any{
			"push_interval":    c.Daemon.PushInterval.String(),
			"refresh_interval": c.Daemon.RefreshInterval.String(),
			"refresh_limit":    c.Daemon.RefreshLimit,
			"debounce":         c.Daemon.Debounce.String(),
		},
		"events": map[string]any{
			"addr":   c.Events.Addr,
			"buffer": c.Events.Buffer,
		},
		"keyring": map[string]any{
			"service": c.Keyring.Service,
		},
	}
}
