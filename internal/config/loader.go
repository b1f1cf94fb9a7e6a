package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"dario.cat/mergo"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tier names a config source in merge order, lowest precedence first.
type Tier string

const (
	TierInstall Tier = "install"
	TierProject Tier = "project"
	TierUser    Tier = "user"
)

// TierPaths names the on-disk file for each tier. A missing file is not an
// error — that tier is simply skipped, leaving the base unmerged for it.
type TierPaths struct {
	Install string
	Project string
	User    string
}

// loadTier reads one tier's file (YAML or TOML, inferred from extension)
// into a *Config via a dedicated viper.Viper instance, so an absent file
// is distinguishable from an empty-but-present one.
func loadTier(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat config tier %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config tier %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config tier %s: %w", path, err)
	}
	return &cfg, nil
}

// Load reads and deep-merges the install/project/user tiers (in that
// precedence order: later tiers win field-by-field) on top of Default(),
// then validates the result. A tier file that doesn't exist is treated as
// "not specified" and preserves the base.
func Load(paths TierPaths) (*Config, error) {
	merged := Default()

	for _, p := range []string{paths.Install, paths.Project, paths.User} {
		tier, err := loadTier(p)
		if err != nil {
			return nil, err
		}
		if tier == nil {
			continue
		}
		if err := mergeInto(merged, tier); err != nil {
			return nil, fmt.Errorf("merge config tier %s: %w", p, err)
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeInto deep-merges src into dst: objects recurse (mergo's default
// struct/map behavior, merged key by key), arrays replace wholesale
// (mergo.WithOverride assigns the whole slice field when src's is
// non-empty), and a zero-value field in src is treated as "not specified"
// and leaves dst untouched — mergo.WithOverride without
// WithOverwriteWithEmptyValue skips zero-value source fields, so an
// absent or null value in a higher tier never clobbers the base.
func mergeInto(dst, src *Config) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// Watcher hot-reloads the project tier on change, swapping in a freshly
// validated Config atomically. A reload that fails validation is logged
// and discarded; the previously loaded Config keeps serving requests.
type Watcher struct {
	paths   TierPaths
	current atomic.Pointer[Config]
	logger  *slog.Logger

	mu  sync.Mutex
	fsw *fsnotify.Watcher
}

// NewWatcher loads the initial config and starts watching the project
// tier file (if it exists) for changes.
func NewWatcher(paths TierPaths, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(paths)
	if err != nil {
		return nil, err
	}
	w := &Watcher{paths: paths, logger: logger}
	w.current.Store(cfg)

	if paths.Project == "" {
		return w, nil
	}
	if _, err := os.Stat(paths.Project); err != nil {
		return w, nil // nothing to watch yet
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(strings.TrimSuffix(paths.Project, "/")); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config tier: %w", err)
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.paths)
	if err != nil {
		w.logger.Warn("config reload rejected; keeping previous config", "error", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config reloaded")
}

// Current returns the most recently loaded, validated config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
