// Package config loads the ambassador's process configuration from
// MCP_AMBASSADOR_* environment variables and an optional YAML file, via
// viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mcpambassador/server/internal/ambassadorerrors"
)

const envPrefix = "MCP_AMBASSADOR"

// DefaultCatalogReloadInterval is the periodic reload polling interval
// absent other configuration.
const DefaultCatalogReloadInterval = 60 * time.Second

// Config is the ambassador process's top-level configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`

	Audit   AuditConfig   `mapstructure:"audit"`
	PerUser PerUserConfig `mapstructure:"per_user"`
	Session SessionConfig `mapstructure:"session"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// AuditConfig configures the Audit Writer.
type AuditConfig struct {
	Dir           string        `mapstructure:"dir"`
	RetentionDays int           `mapstructure:"retention_days"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// PerUserConfig configures the Per-User Pool.
type PerUserConfig struct {
	MaxPerUser int           `mapstructure:"max_per_user"`
	MaxTotal   int           `mapstructure:"max_total"`
	IdleAfter  time.Duration `mapstructure:"idle_after"`
}

// SessionConfig configures the Session Layer.
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CatalogConfig configures the Catalog Reloader's reload polling interval.
type CatalogConfig struct {
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// AdminConfig gates the admin HTTP surface. KeyHashes holds encoded
// Argon2id hashes of admin keys (amb_ak_...), produced offline; raw keys
// are never stored.
type AdminConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	KeyHashes []string `mapstructure:"key_hashes"`
}

// Defaults returns a Config populated with the component defaults: 8h
// session TTL, 90-day audit retention, 5/100 per-user instance limits.
func Defaults() Config {
	return Config{
		ListenAddr: ":8443",
		DataDir:    "/var/lib/mcp-ambassador",
		Audit: AuditConfig{
			Dir:           "/var/lib/mcp-ambassador/audit",
			RetentionDays: 90,
			FlushInterval: 5 * time.Second,
		},
		PerUser: PerUserConfig{
			MaxPerUser: 5,
			MaxTotal:   100,
			IdleAfter:  30 * time.Minute,
		},
		Session: SessionConfig{
			TTL: 8 * time.Hour,
		},
		Catalog: CatalogConfig{
			ReloadInterval: 60 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: false,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file at path
// (if non-empty), and MCP_AMBASSADOR_* environment variables, in
// ascending priority.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	setDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, ambassadorerrors.NewValidationError(fmt.Sprintf("failed to read config file %q", path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ambassadorerrors.NewValidationError("failed to decode configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("audit.dir", d.Audit.Dir)
	v.SetDefault("audit.retention_days", d.Audit.RetentionDays)
	v.SetDefault("audit.flush_interval", d.Audit.FlushInterval)
	v.SetDefault("per_user.max_per_user", d.PerUser.MaxPerUser)
	v.SetDefault("per_user.max_total", d.PerUser.MaxTotal)
	v.SetDefault("per_user.idle_after", d.PerUser.IdleAfter)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("catalog.reload_interval", d.Catalog.ReloadInterval)
	v.SetDefault("admin.enabled", d.Admin.Enabled)
}

// Validate checks structural invariants with hand-rolled checks rather
// than a struct-tag validator.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return ambassadorerrors.NewValidationError("listen_addr must not be empty", nil)
	}
	if c.DataDir == "" {
		return ambassadorerrors.NewValidationError("data_dir must not be empty", nil)
	}
	if c.Audit.RetentionDays <= 0 {
		return ambassadorerrors.NewValidationError("audit.retention_days must be positive", nil)
	}
	if c.PerUser.MaxPerUser <= 0 || c.PerUser.MaxTotal <= 0 {
		return ambassadorerrors.NewValidationError("per_user.max_per_user and max_total must be positive", nil)
	}
	if c.PerUser.MaxPerUser > c.PerUser.MaxTotal {
		return ambassadorerrors.NewValidationError("per_user.max_per_user cannot exceed max_total", nil)
	}
	if c.Session.TTL <= 0 {
		return ambassadorerrors.NewValidationError("session.ttl must be positive", nil)
	}
	if c.Admin.Enabled && len(c.Admin.KeyHashes) == 0 {
		return ambassadorerrors.NewValidationError("admin.enabled requires at least one admin.key_hashes entry", nil)
	}
	return nil
}
