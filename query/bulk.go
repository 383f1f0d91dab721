package query

import (
	"context"
	"fmt"
	"strings"

	"deja-vu/dbcore/pool"
)

// defaultBatchSize is the chunk size used when BulkOptions.BatchSize is
// not positive.
const defaultBatchSize = 100

// BulkOptions controls a bulk insert.
type BulkOptions struct {
	BatchSize int
}

// BulkInsert writes records in chunks of BatchSize, all on one session,
// and returns the inserted rows (as reported by the store) in input
// order. The column set is taken from the first record; keys missing
// from later records insert NULL.
// 注意: 分块之间不是事务, 某一块失败时之前的块已经提交
func (o *Optimizer) BulkInsert(ctx context.Context, table string, records []map[string]interface{}, opt BulkOptions) ([]map[string]interface{}, error) {
	defer o.timeOp("query.bulk_insert")()

	if len(records) == 0 {
		return nil, nil
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cols := sortedKeys(records[0])
	if err := checkIdents(cols); err != nil {
		return nil, err
	}

	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	inserted := make([]map[string]interface{}, 0, len(records))
	err := o.pool.Execute(ctx, func(c pool.Conn) error {
		for start := 0; start < len(records); start += batchSize {
			end := start + batchSize
			if end > len(records) {
				end = len(records)
			}
			chunk := records[start:end]

			sqlText := o.insertSQL(table, cols, len(chunk))
			args := make([]interface{}, 0, len(chunk)*len(cols))
			for _, record := range chunk {
				for _, col := range cols {
					args = append(args, record[col]) // 缺失的列写入 NULL
				}
			}

			rows, err := c.QueryxContext(ctx, c.Rebind(sqlText), args...)
			if err != nil {
				return fmt.Errorf("query: bulk insert %s chunk at %d: %w", table, start, err)
			}
			for rows.Next() {
				row := map[string]interface{}{}
				if err := rows.MapScan(row); err != nil {
					rows.Close()
					return fmt.Errorf("query: bulk insert %s chunk at %d: %w", table, start, err)
				}
				inserted = append(inserted, row)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("query: bulk insert %s chunk at %d: %w", table, start, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// insertSQL builds a multi-row INSERT ... RETURNING * statement.
func (o *Optimizer) insertSQL(table string, cols []string, rowCount int) string {
	key := fmt.Sprintf("insert|%s|%s|%d", table, strings.Join(cols, ","), rowCount)
	return o.cachedSQL(key, func() string {
		row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
		values := make([]string, rowCount)
		for i := range values {
			values[i] = row
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
			table, strings.Join(cols, ", "), strings.Join(values, ", "))
	})
}
