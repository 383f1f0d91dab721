package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"deja-vu/dbcore/perf"
	"deja-vu/dbcore/pool"
)

// sqlCacheSize bounds the cache of built SQL text.
const sqlCacheSize = 256

// Optimizer runs data-access patterns through the pool so every
// operation inherits its bounded-concurrency and leak-safety guarantees.
// Stateless between calls apart from the SQL text cache.
type Optimizer struct {
	pool     *pool.Pool
	mon      *perf.Monitor
	sqlCache *lru.Cache[string, string]
}

// New creates an optimizer. mon may be nil to skip latency recording.
func New(p *pool.Pool, mon *perf.Monitor) *Optimizer {
	cache, _ := lru.New[string, string](sqlCacheSize)
	return &Optimizer{
		pool:     p,
		mon:      mon,
		sqlCache: cache,
	}
}

// Op is one unit of work in a batch, run against a shared session.
type Op func(pool.Conn) (interface{}, error)

// Batch runs ops sequentially on a single pooled session and returns
// their results in input order. Because the session is shared, any
// session-scoped consistency the store offers applies across the batch.
// The first failing op aborts the rest; the session is released either way.
// 注意: 批内操作不是事务, 失败前完成的操作不会回滚
func (o *Optimizer) Batch(ctx context.Context, ops []Op) ([]interface{}, error) {
	defer o.timeOp("query.batch")()

	results := make([]interface{}, 0, len(ops))
	err := o.pool.Execute(ctx, func(c pool.Conn) error {
		for i, op := range ops {
			v, err := op(c)
			if err != nil {
				return fmt.Errorf("query: batch op %d: %w", i, err)
			}
			results = append(results, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// timeOp starts a latency timer when a monitor is attached.
func (o *Optimizer) timeOp(name string) func() time.Duration {
	if o.mon == nil {
		return func() time.Duration { return 0 }
	}
	return o.mon.StartTimer(name)
}

// cachedSQL returns the SQL text under key, building it once.
func (o *Optimizer) cachedSQL(key string, build func() string) string {
	if text, ok := o.sqlCache.Get(key); ok {
		return text
	}
	text := build()
	o.sqlCache.Add(key, text)
	return text
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkIdent validates a table or column name. Identifiers are spliced
// into SQL text, so anything outside the pattern is rejected outright.
func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return nil
}

func checkIdents(names []string) error {
	for _, name := range names {
		if err := checkIdent(name); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys returns map keys in a stable order so built SQL and bound
// argument positions always line up.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// selectList renders the projection, defaulting to *.
func selectList(cols []string) string {
	if len(cols) == 0 {
		return "*"
	}
	return strings.Join(cols, ", ")
}

// equalityClauses renders "col = ?" terms for the given columns.
func equalityClauses(cols []string) []string {
	clauses := make([]string, 0, len(cols))
	for _, col := range cols {
		clauses = append(clauses, col+" = ?")
	}
	return clauses
}
