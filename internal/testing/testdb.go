// internal/testing/testdb.go
package testing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"deja-vu/dbcore/pool"
)

// NewMockDB creates a new mock database for testing
func NewMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	sqlxDB := sqlx.NewDb(db, "sqlmock")

	cleanup := func() {
		sqlxDB.Close()
	}

	return sqlxDB, mock, cleanup
}

// NewMockFactory returns a pool.Factory that checks sessions out of a
// mock database, plus the expectation handle and a cleanup function.
func NewMockFactory(t *testing.T) (pool.Factory, sqlmock.Sqlmock, func()) {
	db, mock, cleanup := NewMockDB(t)
	factory := func(ctx context.Context) (pool.Conn, error) {
		return db.Connx(ctx)
	}
	return factory, mock, cleanup
}
