// Package datastore defines the generic relational boundary the stock core
// consumes: rows in named tables, equality/range filters and ordering.
package datastore

import (
	"context"
	"sort"
)

// Store is implemented by every backend (memory, badger, postgres).
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Insert stores row and returns it as persisted, including a generated id.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// InsertMany stores all rows or none.
	InsertMany(ctx context.Context, table string, rows []Row) error
	// Update applies patch to every row matching filters and reports how many
	// rows were changed.
	Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
}

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter is a predicate on a named column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(col string, v any) Filter  { return Filter{Column: col, Op: OpEq, Value: v} }
func Neq(col string, v any) Filter { return Filter{Column: col, Op: OpNeq, Value: v} }
func Gt(col string, v any) Filter  { return Filter{Column: col, Op: OpGt, Value: v} }
func Gte(col string, v any) Filter { return Filter{Column: col, Op: OpGte, Value: v} }
func Lt(col string, v any) Filter  { return Filter{Column: col, Op: OpLt, Value: v} }
func Lte(col string, v any) Filter { return Filter{Column: col, Op: OpLte, Value: v} }

// Order sorts by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows. A zero Limit means no limit.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

// Where returns a Query with only filters set.
func Where(filters ...Filter) Query { return Query{Filters: filters} }

// Match reports whether row satisfies every filter.
func Match(row Row, filters []Filter) bool {
	for _, f := range filters {
		c, ok := Compare(row[f.Column], f.Value)
		if !ok {
			if f.Op == OpNeq {
				continue
			}
			return false
		}
		var pass bool
		switch f.Op {
		case OpEq:
			pass = c == 0
		case OpNeq:
			pass = c != 0
		case OpGt:
			pass = c > 0
		case OpGte:
			pass = c >= 0
		case OpLt:
			pass = c < 0
		case OpLte:
			pass = c <= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// Apply filters, orders and limits rows in process. Backends without a query
// engine use it.
func Apply(rows []Row, q Query) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if Match(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c, ok := Compare(out[i][o.Column], out[j][o.Column])
				if !ok {
					// nil sorts first
					c = nilRank(out[i][o.Column]) - nilRank(out[j][o.Column])
				}
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func nilRank(v any) int {
	if v == nil {
		return 0
	}
	return 1
}
