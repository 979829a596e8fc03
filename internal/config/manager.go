package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Manager serves the current configuration and hot-reloads it when the yaml
// file changes on disk. Only tunable values change at runtime; a reload that
// fails validation is rejected and the previous configuration stays active.
type Manager struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads the initial configuration and starts watching the file.
// An empty path disables watching and serves defaults plus env overrides.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger, current: cfg, done: make(chan struct{})}
	if path != "" {
		if err := m.watch(); err != nil {
			logger.Warn("Config file watching disabled", zap.Error(err))
		}
	}
	return m, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Close stops the file watcher.
func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return err
	}
	m.watcher = w

	go func() {
		for {
			select {
			case <-m.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Warn("Config reload rejected", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	m.logger.Info("Configuration reloaded",
		zap.Int("max_iterations", cfg.Ceilings.MaxIterations),
		zap.Int("max_consecutive_deep_dives", cfg.Ceilings.MaxConsecutiveDeepDives),
	)
}
