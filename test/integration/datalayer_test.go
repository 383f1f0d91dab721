//go:build integration

package integration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deja-vu/dbcore/pool"
	"deja-vu/dbcore/query"
)

func TestPool_Integration(t *testing.T) {
	ctx := getTestContext()

	t.Run("acquire and release", func(t *testing.T) {
		conn, err := testPool.Acquire(ctx)
		require.NoError(t, err)

		var one int
		err = conn.QueryRowxContext(ctx, "SELECT 1").Scan(&one)
		assert.NoError(t, err)
		assert.Equal(t, 1, one)

		assert.NoError(t, testPool.Release(conn))
	})

	t.Run("execute round trip", func(t *testing.T) {
		err := testPool.Execute(ctx, func(c pool.Conn) error {
			var now string
			return c.QueryRowxContext(ctx, "SELECT now()::text").Scan(&now)
		})
		assert.NoError(t, err)
	})

	t.Run("stats", func(t *testing.T) {
		stats := testPool.Stats()
		assert.GreaterOrEqual(t, stats.Open, testConfig.Pool.Min)
		assert.LessOrEqual(t, stats.Open, testConfig.Pool.Max)
		t.Logf("pool: open=%d idle=%d in_use=%d", stats.Open, stats.Idle, stats.InUse)
	})
}

func TestOptimizer_Integration(t *testing.T) {
	ctx := getTestContext()

	// Scratch table, dropped at the end.
	err := testPool.Execute(ctx, func(c pool.Conn) error {
		_, err := c.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS dbcore_it_posts (
			id BIGSERIAL PRIMARY KEY,
			author_id BIGINT NOT NULL,
			body TEXT NOT NULL,
			likes BIGINT NOT NULL DEFAULT 0
		)`)
		return err
	})
	require.NoError(t, err)
	defer testPool.Execute(ctx, func(c pool.Conn) error {
		_, err := c.ExecContext(ctx, "DROP TABLE IF EXISTS dbcore_it_posts")
		return err
	})

	t.Run("bulk insert", func(t *testing.T) {
		records := make([]map[string]interface{}, 25)
		for i := range records {
			records[i] = map[string]interface{}{
				"author_id": i % 3,
				"body":      fmt.Sprintf("post number %d about coffee", i),
				"likes":     i,
			}
		}
		inserted, err := testOptimizer.BulkInsert(ctx, "dbcore_it_posts", records, query.BulkOptions{BatchSize: 10})
		require.NoError(t, err)
		assert.Len(t, inserted, 25)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		seen := 0
		var cursor interface{}
		for {
			page, err := testOptimizer.PaginateCursor(ctx, "dbcore_it_posts", query.PageOptions{
				Limit:     10,
				Cursor:    cursor,
				OrderBy:   "id",
				Ascending: true,
			})
			require.NoError(t, err)
			seen += len(page.Rows)
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}
		assert.Equal(t, 25, seen)
	})

	t.Run("aggregate", func(t *testing.T) {
		grouped, err := testOptimizer.Aggregate(ctx, "dbcore_it_posts", query.AggregateOptions{
			GroupBy:    []string{"author_id"},
			Aggregates: map[string]string{"*": "count", "likes": "sum"},
		})
		require.NoError(t, err)
		assert.Len(t, grouped, 3)
	})

	t.Run("full text search", func(t *testing.T) {
		res, err := testOptimizer.FullTextSearch(ctx, "dbcore_it_posts", "body", "coffee", query.SearchOptions{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, int64(25), res.Total)
		assert.Len(t, res.Rows, 5)
	})
}
