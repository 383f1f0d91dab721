// Package pool provides a bounded connection pool for the DEJA-VU data layer.
// It hands out database sessions with FIFO queuing, acquire timeouts and
// idle-connection reclamation.
package pool

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Conn is the database surface a pooled session must provide.
// *sqlx.Conn satisfies it; tests substitute lightweight stubs.
type Conn interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
	Close() error
}

// Factory creates a new session against the backing store.
type Factory func(ctx context.Context) (Conn, error)

// SQLXFactory returns a Factory that checks dedicated connections
// out of an sqlx database handle.
func SQLXFactory(db *sqlx.DB) Factory {
	return func(ctx context.Context) (Conn, error) {
		return db.Connx(ctx)
	}
}

// PooledConn is a session owned by a Pool. It is handed to exactly one
// caller at a time; callers must return it with Release (or use Execute)
// and must not call Close themselves.
type PooledConn struct {
	Conn

	id        uuid.UUID
	pool      *Pool
	createdAt time.Time
	lastUsed  time.Time // guarded by pool.mu
	inUse     bool      // guarded by pool.mu
}

// ID returns the connection's identifier, used for log correlation.
func (pc *PooledConn) ID() uuid.UUID {
	return pc.id
}

// CreatedAt returns the time the connection was established.
func (pc *PooledConn) CreatedAt() time.Time {
	return pc.createdAt
}
