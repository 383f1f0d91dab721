package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceDelay collapses editor write bursts into one reload.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads the configuration file when it changes and notifies a
// callback, so pool limits can be adjusted without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	config   *Config
	onChange func(*Config)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the configuration at path and prepares a file watcher.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		config:   cfg,
		stopChan: make(chan struct{}),
	}, nil
}

// Config returns the most recently loaded configuration (thread-safe).
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange sets a callback function to be called when configuration changes.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = callback
}

// Start begins watching the configuration file for changes.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	go w.watchLoop()

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}

	log.Info().Str("path", w.path).Msg("Started watching configuration file")
	return nil
}

// watchLoop handles file system events.
func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.debounceReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// debounceReload reloads configuration with debouncing.
func (w *Watcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(debounceDelay, func() {
		cfg, err := Load(w.path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		w.mu.Lock()
		w.config = cfg
		callback := w.onChange
		w.mu.Unlock()

		if callback != nil {
			callback(cfg)
		}
		log.Info().Str("path", w.path).Msg("Configuration reloaded")
	})
}

// Stop stops watching for configuration changes.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)

		w.debounceMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceMu.Unlock()

		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
