package pool

import (
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Init creates the process-wide default pool. It is idempotent: once a
// default pool exists, later calls return it and ignore their arguments.
func Init(cfg Config, factory Factory) *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool != nil {
		return defaultPool
	}
	defaultPool = New(cfg, factory)
	log.Info().
		Int("min", defaultPool.cfg.Min).
		Int("max", defaultPool.cfg.Max).
		Dur("acquire_timeout", defaultPool.cfg.AcquireTimeout).
		Msg("Default pool initialized")
	return defaultPool
}

// Default returns the pool created by Init, or ErrNotInitialized when
// Init has not run yet.
func Default() (*Pool, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool == nil {
		return nil, ErrNotInitialized
	}
	return defaultPool, nil
}

// Shutdown closes the default pool and clears it so Init can run again.
func Shutdown() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool == nil {
		return nil
	}
	err := defaultPool.Close()
	defaultPool = nil
	return err
}
