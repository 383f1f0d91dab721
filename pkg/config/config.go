// Package config loads the data-layer configuration from yaml and can
// watch the file for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"deja-vu/dbcore/logger"
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// PoolConfig holds the connection pool limits.
type PoolConfig struct {
	Min              int `yaml:"min"`
	Max              int `yaml:"max"`
	AcquireTimeoutMS int `yaml:"acquire_timeout_ms"`
	IdleTimeoutMS    int `yaml:"idle_timeout_ms"`
	SweepIntervalS   int `yaml:"sweep_interval_s"`
}

// AcquireTimeout 获取连接的排队超时
func (c PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// IdleTimeout 空闲连接回收阈值
func (c PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// SweepInterval 清扫周期
func (c PoolConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}

// RedisConfig holds the optional redis settings used for pool reload
// notifications.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port pair for the redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Config is the full data-layer configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Pool     PoolConfig     `yaml:"pool"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      logger.Config  `yaml:"log"`
}

// Default returns the configuration used when a section is absent.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			SSLMode: "disable",
		},
		Pool: PoolConfig{
			Min:              2,
			Max:              10,
			AcquireTimeoutMS: 30000,
			IdleTimeoutMS:    60000,
			SweepIntervalS:   60,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads and parses the yaml configuration at path, filling missing
// sections with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pool.Max <= 0 {
		return fmt.Errorf("config: pool.max must be positive, got %d", c.Pool.Max)
	}
	if c.Pool.Min < 0 || c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("config: pool.min must be within [0, %d], got %d", c.Pool.Max, c.Pool.Min)
	}
	if c.Database.Port <= 0 {
		return fmt.Errorf("config: database.port must be positive, got %d", c.Database.Port)
	}
	return nil
}
