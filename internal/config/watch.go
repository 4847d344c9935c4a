package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appLog "autoplan/internal/log"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and passes every valid
// new version to onChange. Invalid versions are logged and dropped, so the
// caller keeps running on the last good config. Watch blocks until ctx is
// canceled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: create watcher")
	}
	defer w.Close()

	// Watch the directory: editors and atomic saves replace the file,
	// which drops a watch on the file itself.
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "config: watch %s", dir)
	}
	appLog.Debug("config watcher started", "dir", dir, "file", file)

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

	reload := func() {
		cfg, err := parse(path)
		if err != nil {
			appLog.Error("config reload rejected", err, "path", path)
			return
		}
		if ctx.Err() != nil {
			return
		}
		appLog.Info("config reloaded", "path", path)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config: watcher closed")
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			timerMu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config: watcher closed")
			}
			appLog.Error("config watcher error", err, "path", path)
		}
	}
}

// parse reads, normalizes and validates an existing config file.
func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Keys missing from the file keep their defaults. A list given in the
	// file, even an empty one, replaces the default list.
	cfg := Config{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
