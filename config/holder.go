// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config) error
	onResult []func(error)
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reloads the configuration from disk.
// A file that fails to load or is rejected by a listener leaves the old
// configuration in place.
func (h *Holder) Reload() (err error) {
	defer func() { h.notifyResult(err) }()

	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.RLock()
	listeners := append([]func(*Config) error(nil), h.onChange...)
	h.mu.RUnlock()

	for _, fn := range listeners {
		if err := fn(newCfg); err != nil {
			h.logger.Error().Err(err).Msg("config rejected by listener, keeping old config")
			return fmt.Errorf("apply config: %w", err)
		}
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback run with each successfully loaded config.
// Returning an error aborts the reload.
func (h *Holder) OnChange(fn func(*Config) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload registers a callback run after every reload attempt with its result.
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResult = append(h.onResult, fn)
}

func (h *Holder) notifyResult(err error) {
	h.mu.RLock()
	fns := append(([]func(error))(nil), h.onResult...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Stop stops watching for file changes and signals. It is safe to call twice.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")
				h.Reload()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if applied := changedFields(reloadable, old, new); len(applied) > 0 {
		h.logger.Info().Strs("fields", applied).Msg("configuration changes applied")
	}
	if pending := changedFields(restartOnly, old, new); len(pending) > 0 {
		h.logger.Warn().Strs("fields", pending).Msg("configuration changes need a restart to apply")
	}
}

type configField struct {
	name  string
	value func(*Config) string
}

var reloadable = []configField{
	{"plans", func(c *Config) string { return fmt.Sprintf("%+v", c.Plans) }},
	{"quota.enforcement", func(c *Config) string { return c.Quota.Enforcement }},
	{"quota.default_plan", func(c *Config) string { return c.Quota.DefaultPlan }},
	{"quota.near_limit_pct", func(c *Config) string { return fmt.Sprint(c.Quota.NearLimitPct) }},
}

var restartOnly = []configField{
	{"server.host", func(c *Config) string { return c.Server.Host }},
	{"server.port", func(c *Config) string { return fmt.Sprint(c.Server.Port) }},
	{"server.request_timeout", func(c *Config) string { return c.Server.RequestTimeout.String() }},
	{"storage.driver", func(c *Config) string { return c.Storage.Driver }},
	{"storage.dsn", func(c *Config) string { return c.Storage.DSN }},
	{"redis.addr", func(c *Config) string { return c.Redis.Addr }},
	{"logging.level", func(c *Config) string { return c.Logging.Level }},
	{"logging.format", func(c *Config) string { return c.Logging.Format }},
}

func changedFields(fields []configField, old, new *Config) []string {
	var changed []string
	for _, f := range fields {
		if f.value(old) != f.value(new) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

func fieldNames(fields []configField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return fieldNames(reloadable)
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return fieldNames(restartOnly)
}
