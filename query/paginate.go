package query

import (
	"context"
	"fmt"
	"strings"

	"deja-vu/dbcore/pool"
)

// defaultPageLimit is used when PageOptions.Limit is not positive.
const defaultPageLimit = 20

// PageOptions controls one keyset-pagination request.
type PageOptions struct {
	Limit     int
	Cursor    interface{}            // exclusive bound on OrderBy; nil starts at the beginning
	OrderBy   string                 // ordering column, required
	Ascending bool                   // sort direction
	Filters   map[string]interface{} // equality filters
	Select    []string               // projection, empty means *
}

// Page is one page of rows. NextCursor is only set when HasMore is true
// and is only meaningful for the same OrderBy/Ascending/Filters
// combination it was produced with.
type Page struct {
	Rows       []map[string]interface{} `json:"rows"`
	HasMore    bool                     `json:"has_more"`
	NextCursor interface{}              `json:"next_cursor,omitempty"`
}

// PaginateCursor fetches one page using keyset pagination: limit+1 rows
// ordered by OrderBy, starting strictly after (ascending) or before
// (descending) the cursor. The extra row only signals HasMore and is not
// returned.
func (o *Optimizer) PaginateCursor(ctx context.Context, table string, opt PageOptions) (*Page, error) {
	defer o.timeOp("query.paginate")()

	if opt.OrderBy == "" {
		return nil, ErrOrderByRequired
	}
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if err := checkIdent(opt.OrderBy); err != nil {
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
		limit = defaultPageLimit
	}

	direction, comparator := "ASC", ">"
	if !opt.Ascending {
		direction, comparator = "DESC", "<"
	}
	hasCursor := opt.Cursor != nil

	key := fmt.Sprintf("paginate|%s|%s|%s|%t|%s|%s",
		table, opt.OrderBy, direction, hasCursor,
		strings.Join(filterCols, ","), strings.Join(opt.Select, ","))
	sqlText := o.cachedSQL(key, func() string {
		clauses := equalityClauses(filterCols)
		if hasCursor {
			clauses = append(clauses, fmt.Sprintf("%s %s ?", opt.OrderBy, comparator))
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "SELECT %s FROM %s", selectList(opt.Select), table)
		if len(clauses) > 0 {
			sb.WriteString(" WHERE ")
			sb.WriteString(strings.Join(clauses, " AND "))
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s LIMIT ?", opt.OrderBy, direction)
		return sb.String()
	})

	args := make([]interface{}, 0, len(filterCols)+2)
	for _, col := range filterCols {
		args = append(args, opt.Filters[col])
	}
	if hasCursor {
		args = append(args, opt.Cursor)
	}
	args = append(args, limit+1)

	var fetched []map[string]interface{}
	err := o.pool.Execute(ctx, func(c pool.Conn) error {
		rows, err := c.QueryxContext(ctx, c.Rebind(sqlText), args...)
		if err != nil {
			return fmt.Errorf("query: paginate %s: %w", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return fmt.Errorf("query: paginate %s: %w", table, err)
			}
			fetched = append(fetched, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Rows: fetched}
	if len(fetched) > limit {
		page.Rows = fetched[:limit]
		page.HasMore = true
		page.NextCursor = page.Rows[limit-1][opt.OrderBy]
	}
	return page, nil
}
