package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"deja-vu/dbcore/pool"
)

// aggregateFuncs is the set of allowed aggregate functions.
var aggregateFuncs = map[string]string{
	"count": "COUNT",
	"sum":   "SUM",
	"avg":   "AVG",
	"min":   "MIN",
	"max":   "MAX",
}

// AggregateOptions controls one grouped aggregation.
type AggregateOptions struct {
	GroupBy    []string               // grouping columns
	Aggregates map[string]string      // column -> count|sum|avg|min|max; "*" is allowed for count
	Filters    map[string]interface{} // equality filters
	Limit      int                    // 0 means no limit
}

// Aggregate builds a grouped aggregate projection and returns the raw
// grouped rows. Aggregated columns are aliased "<column>_<fn>"; COUNT(*)
// is aliased "count".
func (o *Optimizer) Aggregate(ctx context.Context, table string, opt AggregateOptions) ([]map[string]interface{}, error) {
	defer o.timeOp("query.aggregate")()

	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if err := checkIdents(opt.GroupBy); err != nil {
		return nil, err
	}
	filterCols := sortedKeys(opt.Filters)
	if err := checkIdents(filterCols); err != nil {
		return nil, err
	}

	aggCols := make([]string, 0, len(opt.Aggregates))
	for col := range opt.Aggregates {
		aggCols = append(aggCols, col)
	}
	// 固定列顺序, 保证生成的 SQL 稳定
	sort.Strings(aggCols)

	projections := append([]string{}, opt.GroupBy...)
	for _, col := range aggCols {
		fn, ok := aggregateFuncs[strings.ToLower(opt.Aggregates[col])]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadAggregate, opt.Aggregates[col])
		}
		if col == "*" {
			if fn != "COUNT" {
				return nil, fmt.Errorf("%w: %s(*)", ErrBadAggregate, fn)
			}
			projections = append(projections, "COUNT(*) AS count")
			continue
		}
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		projections = append(projections, fmt.Sprintf("%s(%s) AS %s_%s",
			fn, col, col, strings.ToLower(opt.Aggregates[col])))
	}

	key := fmt.Sprintf("aggregate|%s|%s|%s|%s|%t",
		table, strings.Join(opt.GroupBy, ","), strings.Join(projections, ","),
		strings.Join(filterCols, ","), opt.Limit > 0)
	sqlText := o.cachedSQL(key, func() string {
		var sb strings.Builder
		fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(projections, ", "), table)
		if len(filterCols) > 0 {
			sb.WriteString(" WHERE ")
			sb.WriteString(strings.Join(equalityClauses(filterCols), " AND "))
		}
		if len(opt.GroupBy) > 0 {
			fmt.Fprintf(&sb, " GROUP BY %s", strings.Join(opt.GroupBy, ", "))
		}
		if opt.Limit > 0 {
			sb.WriteString(" LIMIT ?")
		}
		return sb.String()
	})

	args := make([]interface{}, 0, len(filterCols)+1)
	for _, col := range filterCols {
		args = append(args, opt.Filters[col])
	}
	if opt.Limit > 0 {
		args = append(args, opt.Limit)
	}

	var grouped []map[string]interface{}
	err := o.pool.Execute(ctx, func(c pool.Conn) error {
		rows, err := c.QueryxContext(ctx, c.Rebind(sqlText), args...)
		if err != nil {
			return fmt.Errorf("query: aggregate %s: %w", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return fmt.Errorf("query: aggregate %s: %w", table, err)
			}
			grouped = append(grouped, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return grouped, nil
}
