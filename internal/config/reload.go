package config

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// Reloader re-reads the config file whenever the watcher reports a change
// and hands valid results to the registered callbacks. Invalid files are
// logged and ignored; the previous configuration stays current.
type Reloader struct {
	path    string
	watcher ports.FileWatcher
	logger  zerolog.Logger

	mu        sync.RWMutex
	current   Config
	callbacks []func(Config)
}

// NewReloader creates a Reloader starting from cfg.
func NewReloader(path string, cfg Config, watcher ports.FileWatcher, logger zerolog.Logger) *Reloader {
	return &Reloader{
		path:    path,
		watcher: watcher,
		logger:  logger.With().Str("component", "config").Logger(),
		current: cfg,
	}
}

// OnChange registers fn to run after every successful reload.
func (r *Reloader) OnChange(fn func(Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Current returns the last loaded configuration.
func (r *Reloader) Current() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Run watches the config file until ctx is done.
func (r *Reloader) Run(ctx context.Context) error {
	events, err := r.watcher.Watch(ctx, filepath.Dir(r.path))
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Operation == ports.FileDeleted {
			continue
		}
		r.Reload()
	}
	return ctx.Err()
}

// Reload reads the file once and applies it if valid.
func (r *Reloader) Reload() bool {
	cfg, err := Load(r.path)
	if err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("config reload rejected")
		return false
	}

	r.mu.Lock()
	prev := r.current
	r.current = cfg
	callbacks := append([]func(Config){}, r.callbacks...)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	r.logger.Info().Str("path", r.path).Str("log_level", cfg.Log.Level).Msg("config reloaded, log level applied")
	if pending := RestartRequired(prev, cfg); len(pending) > 0 {
		r.logger.Warn().Strs("sections", pending).Msg("config changes take effect after restart")
	}
	return true
}

// RestartRequired lists the sections that differ between prev and next and
// are only read at startup. The log level is the only live setting.
func RestartRequired(prev, next Config) []string {
	var out []string
	if prev.Server.Addr != next.Server.Addr ||
		prev.Server.HistoryLimit != next.Server.HistoryLimit ||
		!slices.Equal(prev.Server.CORSOrigins, next.Server.CORSOrigins) {
		out = append(out, "server")
	}
	if prev.Upstream != next.Upstream {
		out = append(out, "upstream")
	}
	if prev.Store != next.Store {
		out = append(out, "store")
	}
	if prev.Log.Format != next.Log.Format {
		out = append(out, "log.format")
	}
	if prev.Auth != next.Auth {
		out = append(out, "auth")
	}
	return out
}

// ApplyLogLevel sets the global zerolog level from cfg.
func ApplyLogLevel(cfg Config) {
	if lvl, err := ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
