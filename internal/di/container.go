// Package di provides the dependency injection container for the data
// layer. It manages the lifecycle of the database handle, the connection
// pool, the query optimizer and the performance monitor.
package di

import (
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"deja-vu/dbcore/perf"
	"deja-vu/dbcore/pkg/config"
	"deja-vu/dbcore/pool"
	"deja-vu/dbcore/query"
)

// Container manages all data-layer dependencies with lazy initialization
// and singleton semantics.
type Container struct {
	config *config.Config

	mu sync.Mutex

	db         *sqlx.DB
	redis      *redis.Client
	pool       *pool.Pool
	optimizer  *query.Optimizer
	monitor    *perf.Monitor
	maintainer *pool.Maintainer
	reloader   *pool.Reloader
}

// NewContainer creates a new dependency injection container.
func NewContainer(cfg *config.Config) *Container {
	return &Container{config: cfg}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// DB returns the database handle, connecting on first use.
func (c *Container) DB() (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dbLocked()
}

func (c *Container) dbLocked() (*sqlx.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sqlx.Connect("pgx", c.config.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("di: connect database: %w", err)
	}
	// The sql.DB limits mirror the pool bounds so the driver never
	// becomes the tighter bottleneck.
	db.SetMaxOpenConns(c.config.Pool.Max)
	db.SetMaxIdleConns(c.config.Pool.Max)
	c.db = db

	log.Info().
		Str("host", c.config.Database.Host).
		Int("port", c.config.Database.Port).
		Str("database", c.config.Database.Database).
		Msg("Database connection established")
	return c.db, nil
}

// Redis returns the redis client, or nil when redis is disabled.
func (c *Container) Redis() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redisLocked()
}

func (c *Container) redisLocked() *redis.Client {
	if !c.config.Redis.Enabled {
		return nil
	}
	if c.redis == nil {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     c.config.Redis.Addr(),
			Password: c.config.Redis.Password,
			DB:       c.config.Redis.DB,
		})
	}
	return c.redis
}

// Pool returns the connection pool, building it on first use.
func (c *Container) Pool() (*pool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolLocked()
}

func (c *Container) poolLocked() (*pool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	db, err := c.dbLocked()
	if err != nil {
		return nil, err
	}
	c.pool = pool.New(pool.Config{
		Min:            c.config.Pool.Min,
		Max:            c.config.Pool.Max,
		AcquireTimeout: c.config.Pool.AcquireTimeout(),
		IdleTimeout:    c.config.Pool.IdleTimeout(),
	}, pool.SQLXFactory(db))
	return c.pool, nil
}

// Monitor returns the performance monitor singleton.
func (c *Container) Monitor() *perf.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.monitor == nil {
		c.monitor = perf.New(0, 0)
	}
	return c.monitor
}

// Optimizer returns the query optimizer singleton.
func (c *Container) Optimizer() (*query.Optimizer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.optimizer != nil {
		return c.optimizer, nil
	}
	p, err := c.poolLocked()
	if err != nil {
		return nil, err
	}
	if c.monitor == nil {
		c.monitor = perf.New(0, 0)
	}
	c.optimizer = query.New(p, c.monitor)
	return c.optimizer, nil
}

// StartMaintenance starts the periodic pool sweep and, when redis is
// enabled, the reload listener.
func (c *Container) StartMaintenance() error {
	p, err := c.Pool()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maintainer == nil {
		c.maintainer = pool.NewMaintainer(p, c.config.Pool.SweepInterval())
		if err := c.maintainer.Start(); err != nil {
			c.maintainer = nil
			return err
		}
	}
	if c.reloader == nil {
		if rdb := c.redisLocked(); rdb != nil {
			c.reloader = pool.NewReloader(rdb, p)
			c.reloader.Start()
		}
	}
	return nil
}

// Close tears everything down in reverse dependency order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reloader != nil {
		c.reloader.Stop()
		c.reloader = nil
	}
	if c.maintainer != nil {
		c.maintainer.Stop()
		c.maintainer = nil
	}

	var firstErr error
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			firstErr = err
		}
		c.pool = nil
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.redis = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.db = nil
	}
	return firstErr
}
