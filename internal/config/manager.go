package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config   atomic.Pointer[Config]
	status   atomic.Pointer[Status]
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	onChange []func(*Config)
	logger   *slog.Logger
}

// Status describes the currently loaded configuration.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount int64
}

// NewManager creates a new configuration manager. An empty path serves
// defaults plus environment overrides and disables watching.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:   path,
		logger: logger,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns information about the last successful load.
func (m *Manager) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{Path: m.path}
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Reload loads the file again. On failure the current configuration is kept.
func (m *Manager) Reload() error {
	if err := m.load(); err != nil {
		return err
	}
	m.mu.Lock()
	callbacks := append([]func(*Config){}, m.onChange...)
	m.mu.Unlock()

	cfg := m.Get()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

func (m *Manager) load() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	var checksum string
	if m.path != "" {
		if data, err := os.ReadFile(m.path); err == nil {
			sum := sha256.Sum256(data)
			checksum = hex.EncodeToString(sum[:])
		}
	}

	prev := m.Status()
	m.config.Store(cfg)
	m.status.Store(&Status{
		Path:        m.path,
		Checksum:    checksum,
		LoadedAt:    time.Now(),
		ReloadCount: prev.ReloadCount + 1,
	})
	return nil
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, m.reload)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	if err := m.Reload(); err != nil {
		m.logger.Error("failed to reload config, keeping current",
			"error", err,
		)
		return
	}
	cfg := m.Get()
	m.logger.Info("configuration reloaded successfully",
		"cache_enabled", cfg.Cache.Enabled,
		"similarity_threshold", cfg.Cache.SimilarityThreshold,
	)
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
