// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events an editor or an
// atomic rename produces for one save.
const DefaultReloadDebounce = 200 * time.Millisecond

// =============================================================================
// STORE
// =============================================================================

// Store holds the live configuration. Readers get a snapshot; a reload swaps
// the whole value, so an in-flight operation keeps the URL it started with.
type Store struct {
	mu       sync.RWMutex
	cfg      *Config
	path     string
	loader   func() (*Config, error)
	onChange []func(*Config)
}

// NewStore creates a store holding cfg. path is the file Reload and Watch
// read; empty means Load's discovery order.
func NewStore(cfg *Config, path string) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{cfg: cfg, path: path}
	s.loader = s.load
	return s
}

// WithOverrides makes Reload apply fn to every freshly loaded
// configuration, so command-line overrides survive a file change.
func (s *Store) WithOverrides(fn func(*Config) error) *Store {
	load := s.loader
	s.loader = func() (*Config, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if err := fn(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return s
}

// Current returns a copy of the current configuration.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// BaseURL returns the current Ollama base URL.
func (s *Store) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Local.OllamaURL
}

// CatalogURL returns the current model catalog URL.
func (s *Store) CatalogURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Local.CatalogURL
}

// Path returns the file the store reloads from.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers fn to run after every successful Replace or Reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Replace validates cfg and makes it current.
func (s *Store) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg.Clone()
	hooks := append([]func(*Config){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(cfg.Clone())
	}
	return nil
}

// Reload re-reads the configuration file. On error the current
// configuration is kept.
func (s *Store) Reload() error {
	cfg, err := s.loader()
	if err != nil {
		return err
	}
	return s.Replace(cfg)
}

func (s *Store) load() (*Config, error) {
	if s.path == "" {
		return Load()
	}
	return LoadFromPath(s.path)
}

// =============================================================================
// FILE WATCHER
// =============================================================================

// Watch reloads the store whenever its configuration file changes, until ctx
// is done. The directory is watched rather than the file so saves that
// replace the file by rename are seen.
func (s *Store) Watch(ctx context.Context) error {
	path := s.path
	if path == "" {
		p, err := ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Printf("CONFIG_WATCH | path=%s", path)

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
		if ctx.Err() != nil {
			return
		}
		if err := s.Reload(); err != nil {
			log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", path, err)
			return
		}
		log.Printf("CONFIG_RELOADED | path=%s ollama_url=%s", path, s.BaseURL())
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event, path) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DefaultReloadDebounce, reload)
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("CONFIG_WATCH_ERROR | error=%v", err)
		}
	}
}

func (s *Store) relevant(event fsnotify.Event, path string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(path) {
		return true
	}
	// Discovery mode: any of the known config files counts.
	if s.path == "" {
		base := filepath.Base(event.Name)
		return base == "config.toml" || base == "config.json" || strings.HasPrefix(base, "config.y")
	}
	return false
}
