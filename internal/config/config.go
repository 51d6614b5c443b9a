// Package config loads the gateway configuration from a TOML file with
// RAGRELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

const (
	EnvAddr         = "RAGRELAY_ADDR"
	EnvUpstreamURL  = "RAGRELAY_UPSTREAM_URL"
	EnvUpstreamWait = "RAGRELAY_UPSTREAM_TIMEOUT"
	EnvStoreDriver  = "RAGRELAY_STORE_DRIVER"
	EnvStoreDSN     = "RAGRELAY_STORE_DSN"
	EnvLogLevel     = "RAGRELAY_LOG_LEVEL"
	EnvLogFormat    = "RAGRELAY_LOG_FORMAT"
	EnvDefaultOwner = "RAGRELAY_DEFAULT_OWNER"
)

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Auth     AuthConfig     `toml:"auth"`
}

type ServerConfig struct {
	Addr         string   `toml:"addr"`
	CORSOrigins  []string `toml:"cors_origins"`
	HistoryLimit int      `toml:"history_limit"`
}

type UpstreamConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AuthConfig names the header the credential service sets with the owner
// id, and the owner used when it is absent (empty disables anonymous use).
type AuthConfig struct {
	OwnerHeader  string `toml:"owner_header"`
	DefaultOwner string `toml:"default_owner"`
}

// Duration decodes TOML strings such as "90s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			CORSOrigins:  []string{"*"},
			HistoryLimit: 20,
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:5001",
			Timeout: Duration{5 * time.Minute},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./data/ragrelay.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Auth: AuthConfig{
			OwnerHeader:  "X-User-ID",
			DefaultOwner: "",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := lookup(EnvAddr); ok {
		cfg.Server.Addr = v
	}
	if v, ok := lookup(EnvUpstreamURL); ok {
		cfg.Upstream.BaseURL = v
	}
	if v, ok := lookup(EnvUpstreamWait); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvUpstreamWait, err)
		}
		cfg.Upstream.Timeout = Duration{d}
	}
	if v, ok := lookup(EnvStoreDriver); ok {
		cfg.Store.Driver = v
	}
	if v, ok := lookup(EnvStoreDSN); ok {
		cfg.Store.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup(EnvDefaultOwner); ok {
		cfg.Auth.DefaultOwner = v
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.HistoryLimit <= 0 {
		errs = append(errs, errors.New("server.history_limit must be positive"))
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Upstream.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", c.Log.Format))
	}
	if strings.TrimSpace(c.Auth.OwnerHeader) == "" {
		errs = append(errs, errors.New("auth.owner_header is required"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return zerolog.Level(n), nil
	}
	return zerolog.NoLevel, fmt.Errorf("log.level %q is not a known level", raw)
}
