package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig sizes the connection pool behind a GormRepository.
//
// Only the controller writes job state, one save at a time per job, and the
// stats collector adds a write per flush. A small pool covers that load; the
// defaults are tuned for a shared PostgreSQL server, the SQLite presets for a
// local file or memory database.
type PoolConfig struct {
	MaxOpenConns    int           // default 4
	MaxIdleConns    int           // default 2, never above MaxOpenConns
	ConnMaxLifetime time.Duration // default 30m; zero keeps connections forever
	ConnMaxIdleTime time.Duration // default 5m; zero keeps idle connections
}

// DefaultPoolConfig is used for PostgreSQL.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// SQLiteFilePoolConfig keeps a single long-lived connection to a SQLite file.
// SQLite allows one writer; more connections only trade pool waits for
// SQLITE_BUSY retries.
func SQLiteFilePoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// SQLiteMemoryPoolConfig pins the pool to one connection. Each connection to
// ":memory:" opens a separate database, so a second one would see no jobs.
func SQLiteMemoryPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// normalized fixes settings database/sql would silently reinterpret.
func (c PoolConfig) normalized() PoolConfig {
	if c.MaxOpenConns < 1 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.MaxIdleConns < 0 {
		c.MaxIdleConns = 0
	}
	return c
}

// PoolOption adjusts a PoolConfig. Options apply in order on top of
// DefaultPoolConfig, so WithPoolConfig should come first.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// WithPoolConfig starts from cfg instead of the defaults.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { *c = cfg })
}

// MaxOpenConns overrides PoolConfig.MaxOpenConns.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxOpenConns = n })
}

// MaxIdleConns overrides PoolConfig.MaxIdleConns.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.MaxIdleConns = n })
}

// ConnMaxLifetime overrides PoolConfig.ConnMaxLifetime.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxLifetime = d })
}

// ConnMaxIdleTime overrides PoolConfig.ConnMaxIdleTime.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) { c.ConnMaxIdleTime = d })
}

func resolvePool(opts []PoolOption) PoolConfig {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}
	return cfg.normalized()
}

// ConfigurePool sizes db's connection pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := resolvePool(opts)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// NewGormRepositoryWithPool sizes db's pool and returns a repository on it.
//
//	repo, err := NewGormRepositoryWithPool(db, WithPoolConfig(SQLiteMemoryPoolConfig()))
func NewGormRepositoryWithPool(db *gorm.DB, opts ...PoolOption) (*GormRepository, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormRepository(db), nil
}
