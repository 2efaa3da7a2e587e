package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Change describes one field that differed between the previous and new
// configuration after a reload.
type Change struct {
	Key      string `json:"key"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// ReloadableConfig holds the currently-active settings behind an atomic
// pointer so readers get a lock-free snapshot, and knows how to re-read its
// on-disk source.
type ReloadableConfig struct {
	current atomic.Pointer[Config]
	path    string
	logger  *slog.Logger
}

// NewReloadableConfig wraps an initial Config. If path is empty, Reload
// always re-parses environment variables; otherwise it parses a YAML file at
// path layered on top of the environment-derived defaults.
func NewReloadableConfig(initial *Config, path string, logger *slog.Logger) *ReloadableConfig {
	rc := &ReloadableConfig{path: path, logger: logger}
	rc.current.Store(initial)
	return rc
}

// Get returns the current, live configuration snapshot.
func (rc *ReloadableConfig) Get() *Config {
	return rc.current.Load()
}

// Reload re-reads the source, computes the change set against the previous
// snapshot, atomically swaps the live config, and returns the changes.
func (rc *ReloadableConfig) Reload() ([]Change, error) {
	next, err := rc.readSource()
	if err != nil {
		return nil, fmt.Errorf("reloading config: %w", err)
	}

	prev := rc.current.Load()
	changes := diff(prev, next)
	rc.current.Store(next)

	if rc.logger != nil {
		rc.logger.Info("configuration reloaded", "changed_keys", len(changes))
	}

	return changes, nil
}

// readSource loads fresh settings: environment variables, then a YAML
// overlay from rc.path if one is configured.
func (rc *ReloadableConfig) readSource() (*Config, error) {
	next, err := Load()
	if err != nil {
		return nil, err
	}

	if rc.path == "" {
		return next, nil
	}

	raw, err := os.ReadFile(rc.path)
	if err != nil {
		if os.IsNotExist(err) {
			return next, nil
		}
		return nil, fmt.Errorf("reading config source %s: %w", rc.path, err)
	}

	if err := yaml.Unmarshal(raw, next); err != nil {
		return nil, fmt.Errorf("parsing config source %s: %w", rc.path, err)
	}

	return next, nil
}

// diff compares exported fields of two Config values by name, reporting one
// Change per field whose value differs.
func diff(old, new *Config) []Change {
	if old == nil || new == nil {
		return nil
	}

	var changes []Change
	ov := reflect.ValueOf(old).Elem()
	nv := reflect.ValueOf(new).Elem()
	t := ov.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		ofield := ov.Field(i).Interface()
		nfield := nv.Field(i).Interface()
		if !reflect.DeepEqual(ofield, nfield) {
			changes = append(changes, Change{
				Key:      field.Name,
				OldValue: ofield,
				NewValue: nfield,
			})
		}
	}
	return changes
}

// Watcher drives fsnotify-based hot reload with a debounce window so
// successive edits coalesce into a single Reload call. This is the
// non-cluster analogue of the original's Kubernetes ConfigMap watcher.
type Watcher struct {
	rc       *ReloadableConfig
	debounce time.Duration
	logger   *slog.Logger
	onReload func([]Change)
}

// NewWatcher creates a Watcher for rc's source file.
func NewWatcher(rc *ReloadableConfig, debounce time.Duration, logger *slog.Logger, onReload func([]Change)) *Watcher {
	return &Watcher{rc: rc, debounce: debounce, logger: logger, onReload: onReload}
}

// Run watches rc's source path for writes and triggers debounced reloads
// until ctx is cancelled. If rc has no path configured, Run returns immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if w.rc.path == "" {
		w.logger.Info("config watcher disabled: no BROKKR_CONFIG path set")
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.rc.path); err != nil {
		return fmt.Errorf("watching config file %s: %w", w.rc.path, err)
	}

	w.logger.Info("config watcher started", "path", w.rc.path, "debounce", w.debounce)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			changes, err := w.rc.Reload()
			if err != nil {
				w.logger.Error("config reload failed", "error", err)
				continue
			}
			if w.onReload != nil {
				w.onReload(changes)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
