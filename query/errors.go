// Package query provides common data-access patterns (batching, keyset
// pagination, full-text search, bulk insert, aggregation) on top of the
// connection pool. This file defines common error types used across all
// query operations.
package query

import "errors"

var (
	// ErrBadIdentifier is returned when a table or column name is not a
	// valid SQL identifier.
	ErrBadIdentifier = errors.New("query: invalid identifier")

	// ErrBadAggregate is returned when an unknown aggregate function is
	// requested.
	ErrBadAggregate = errors.New("query: invalid aggregate function")

	// ErrOrderByRequired is returned when cursor pagination is requested
	// without an ordering column.
	ErrOrderByRequired = errors.New("query: order by column required")
)
