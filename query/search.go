package query

import (
	"context"
	"fmt"
	"strings"

	"deja-vu/dbcore/pool"
)

// defaultSearchLimit is used when SearchOptions.Limit is not positive.
const defaultSearchLimit = 20

// SearchOptions controls one full-text search.
type SearchOptions struct {
	Limit   int
	Offset  int
	Filters map[string]interface{} // equality filters on other columns
	Select  []string               // projection, empty means *
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Rows  []map[string]interface{} `json:"rows"`
	Total int64                    `json:"total"`
}

// FullTextSearch matches term against one column using Postgres text
// search, combined with equality filters, offset-paginated. Rows and the
// total count are fetched on the same session.
func (o *Optimizer) FullTextSearch(ctx context.Context, table, column, term string, opt SearchOptions) (*SearchResult, error) {
	defer o.timeOp("query.search")()

	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if err := checkIdent(column); err != nil {
		return nil, err
	}
	if err := checkIdents(opt.Select); err != nil {
		return nil, err
	}
	filterCols := sortedKeys(opt.Filters)
	if err := checkIdents(filterCols); err != nil {
		return nil, err
	}

	limit := opt.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	predicate := fmt.Sprintf("to_tsvector(%s) @@ plainto_tsquery(?)", column)
	clauses := append([]string{predicate}, equalityClauses(filterCols)...)
	where := strings.Join(clauses, " AND ")

	rowsKey := fmt.Sprintf("search|%s|%s|%s|%s",
		table, column, strings.Join(filterCols, ","), strings.Join(opt.Select, ","))
	rowsSQL := o.cachedSQL(rowsKey, func() string {
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT ? OFFSET ?",
			selectList(opt.Select), table, where)
	})
	countSQL := o.cachedSQL("count|"+rowsKey, func() string {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	})

	predicateArgs := make([]interface{}, 0, len(filterCols)+1)
	predicateArgs = append(predicateArgs, term)
	for _, col := range filterCols {
		predicateArgs = append(predicateArgs, opt.Filters[col])
	}
	rowsArgs := append(append([]interface{}{}, predicateArgs...), limit, opt.Offset)

	result := &SearchResult{}
	err := o.pool.Execute(ctx, func(c pool.Conn) error {
		rows, err := c.QueryxContext(ctx, c.Rebind(rowsSQL), rowsArgs...)
		if err != nil {
			return fmt.Errorf("query: search %s.%s: %w", table, column, err)
		}
		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				rows.Close()
				return fmt.Errorf("query: search %s.%s: %w", table, column, err)
			}
			result.Rows = append(result.Rows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("query: search %s.%s: %w", table, column, err)
		}

		if err := c.QueryRowxContext(ctx, c.Rebind(countSQL), predicateArgs...).Scan(&result.Total); err != nil {
			return fmt.Errorf("query: search count %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
