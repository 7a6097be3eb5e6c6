package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 100 * time.Millisecond

// Loader reads a YAML or TOML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewLoader creates a Loader and performs the initial load. The file must
// pass Validate.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path, logger: slog.Default()}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. The parent directory is watched so editors that replace the file
// by rename are still seen. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		var (
			timerMu sync.Mutex
			timer   *time.Timer
		)
		defer func() {
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
		}()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(l.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				timerMu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if _, err := l.Reload(); err != nil {
						// Keep serving the previous config.
						l.logger.Warn("config: reload failed", "path", l.path, "err", err)
					}
				})
				timerMu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config: watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file. An invalid file
// leaves the current config in place.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	l.logger.Info("config: reloaded", "path", l.path, "version", cfg.Version)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data, filepath.Ext(l.path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext (".toml", ".yaml" or
// ".yml"), then applies environment overrides and defaults.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv lets deployment secrets and endpoints bypass the file.
func applyEnv(cfg *Config) {
	for env, dst := range map[string]*string{
		"ARGUS_ADDR":          &cfg.Server.Addr,
		"ARGUS_DB_PATH":       &cfg.Storage.Path,
		"ARGUS_ML_ENDPOINT":   &cfg.ML.Endpoint,
		"ARGUS_VT_API_KEY":    &cfg.ThreatIntel.APIKey,
		"ARGUS_OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
		"ARGUS_TIMEZONE":      &cfg.Timezone,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.ActiveWindowWraps == nil {
		wraps := true
		cfg.ActiveWindowWraps = &wraps
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Engine.Partitions == 0 {
		cfg.Engine.Partitions = 8
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 10000
	}
	if cfg.Engine.EventTimeout == 0 {
		cfg.Engine.EventTimeout = 5 * time.Second
	}
	if cfg.Engine.SweepInterval == 0 {
		cfg.Engine.SweepInterval = time.Minute
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "argus.db"
	}
	if cfg.Storage.PersistWorkers == 0 {
		cfg.Storage.PersistWorkers = 4
	}
	if cfg.Storage.PersistQueue == 0 {
		cfg.Storage.PersistQueue = 1000
	}
	if cfg.Storage.PersistTimeout == 0 {
		cfg.Storage.PersistTimeout = 5 * time.Second
	}
	if cfg.ML.Timeout == 0 {
		cfg.ML.Timeout = 500 * time.Millisecond
	}
	if cfg.Baseline.Concurrency == 0 {
		cfg.Baseline.Concurrency = 4
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "argus"
	}
}
