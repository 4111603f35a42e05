// Copyright 2025 CrossAudit
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/crossaudit/gateway/shared/logger"
)

// DefaultMaxStaleness bounds how old the in-memory snapshot may get
// before Get rereads the file, even if no watch event arrived. This
// covers environments where fsnotify misses events (NFS, some mounts).
const DefaultMaxStaleness = 30 * time.Second

// debounceInterval collapses rapid write events into one reload.
const debounceInterval = 100 * time.Millisecond

// configFile is the YAML shape of the tenant configuration file.
type configFile struct {
	Defaults Config            `yaml:"defaults"`
	Tenants  map[string]Config `yaml:"tenants"`
}

// Store serves per-tenant configuration snapshots. It keeps the parsed
// file in memory, reloads on file change events, and enforces a bounded
// staleness on reads. Safe for concurrent use.
type Store struct {
	path         string
	maxStaleness time.Duration
	log          *logger.Logger

	mu       sync.RWMutex
	defaults Config
	tenants  map[string]Config
	loadedAt time.Time
}

// NewStore creates a Store backed by the YAML file at path and performs
// the initial load. An empty path yields a store that serves defaults
// for every tenant.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.New("tenant-store")
	}

	s := &Store{
		path:         path,
		maxStaleness: DefaultMaxStaleness,
		log:          log,
		defaults:     DefaultConfig(),
		tenants:      map[string]Config{},
		loadedAt:     time.Now(),
	}

	if path != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the effective configuration for a tenant: file defaults
// overlaid with the tenant's overrides. Unknown tenants get the defaults.
func (s *Store) Get(tenantID string) Config {
	s.refreshIfStale()

	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.defaults
	if override, ok := s.tenants[tenantID]; ok {
		cfg = merge(s.defaults, override)
	}
	cfg.TenantID = tenantID
	return cfg
}

// Known reports whether the tenant has explicit configuration on file.
func (s *Store) Known(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenantID]
	return ok
}

// Reload rereads and parses the configuration file. On parse failure the
// previous snapshot stays in effect and the error is returned.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read tenant config %q: %w", s.path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse tenant config %q: %w", s.path, err)
	}

	defaults := merge(DefaultConfig(), file.Defaults)
	tenants := file.Tenants
	if tenants == nil {
		tenants = map[string]Config{}
	}

	s.mu.Lock()
	s.defaults = defaults
	s.tenants = tenants
	s.loadedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("", "", "tenant configuration loaded", map[string]interface{}{
		"path":    s.path,
		"tenants": len(tenants),
	})
	return nil
}

// Watch starts a background watcher that reloads the store whenever
// the config file changes, until the context is cancelled. Watcher
// setup failures are returned synchronously; reload failures after
// that are logged and the previous snapshot stays live
// (last-write-wins on success).
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %q: %w", s.path, err)
	}

	s.log.Info("", "", "tenant config watcher started", map[string]interface{}{"path": s.path})

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		_ = watcher.Close()
	}()

	var timer *time.Timer
	reloads := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			// Editors replace files on save; re-add the path so the
			// watch survives rename+create sequences.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				_ = watcher.Add(s.path)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})

		case <-reloads:
			if err := s.Reload(); err != nil {
				s.log.Error("", "", "tenant config reload failed", map[string]interface{}{
					"error": err.Error(),
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("", "", "tenant config watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// refreshIfStale rereads the file when the snapshot has outlived the
// staleness bound. Best effort: a failed refresh keeps the old snapshot.
func (s *Store) refreshIfStale() {
	if s.path == "" || s.maxStaleness <= 0 {
		return
	}

	s.mu.RLock()
	stale := time.Since(s.loadedAt) > s.maxStaleness
	s.mu.RUnlock()

	if stale {
		if err := s.Reload(); err != nil {
			s.log.Warn("", "", "stale tenant config refresh failed", map[string]interface{}{
				"error": err.Error(),
			})
			// Push loadedAt forward so we don't hammer a broken file.
			s.mu.Lock()
			s.loadedAt = time.Now()
			s.mu.Unlock()
		}
	}
}
