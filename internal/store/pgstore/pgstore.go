// Package pgstore is a datastore.Store on PostgreSQL via sqlx and lib/pq.
//
// The schema is managed outside the service. Generated ids and created_at
// come from column defaults.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// Store is a datastore.Store on a PostgreSQL pool.
type Store struct {
	db *sqlx.DB
}

var _ datastore.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []datastore.Row{}
	for rows.Next() {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, normalize(m))
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	query, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := s.db.QueryRowxContext(ctx, query, args...).MapScan(m); err != nil {
		return nil, mapErr(err)
	}
	return normalize(m), nil
}

func (s *Store) InsertMany(ctx context.Context, table string, rows []datastore.Row) error {
	stmts := make([]string, len(rows))
	argv := make([][]any, len(rows))
	for i, r := range rows {
		q, args, err := buildInsert(table, r)
		if err != nil {
			return err
		}
		stmts[i], argv[i] = q, args
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()
	for i := range stmts {
		if _, err := tx.ExecContext(ctx, stmts[i], argv[i]...); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (s *Store) Update(ctx context.Context, table string, filters []datastore.Filter, patch datastore.Row) (int64, error) {
	query, args, err := buildUpdate(table, filters, patch)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, table string, filters []datastore.Filter) (int64, error) {
	query, args, err := buildDelete(table, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func mapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", apperr.ErrConstraint, pqErr.Message)
	}
	return err
}

// normalize turns driver byte slices (numeric, uuid) into strings so rows
// compare and encode like the other backends.
func normalize(m map[string]any) datastore.Row {
	r := make(datastore.Row, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		r[k] = v
	}
	return r
}

// builder accumulates positional arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where(filters []datastore.Filter) {
	for i, f := range filters {
		if i == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		switch {
		case f.Value == nil && f.Op == datastore.OpEq:
			fmt.Fprintf(&b.sb, "%s IS NULL", pq.QuoteIdentifier(f.Column))
		case f.Value == nil && f.Op == datastore.OpNeq:
			fmt.Fprintf(&b.sb, "%s IS NOT NULL", pq.QuoteIdentifier(f.Column))
		default:
			fmt.Fprintf(&b.sb, "%s %s %s", pq.QuoteIdentifier(f.Column), f.Op, b.arg(f.Value))
		}
	}
}

func checkOps(filters []datastore.Filter) error {
	for _, f := range filters {
		switch f.Op {
		case datastore.OpEq, datastore.OpNeq, datastore.OpGt, datastore.OpGte, datastore.OpLt, datastore.OpLte:
		default:
			return apperr.Validation("unsupported operator %q", f.Op)
		}
	}
	return nil
}

func buildSelect(table string, q datastore.Query) (string, []any, error) {
	if err := datastore.CheckColumns(table, q.Columns()...); err != nil {
		return "", nil, err
	}
	if err := checkOps(q.Filters); err != nil {
		return "", nil, err
	}
	var b builder
	fmt.Fprintf(&b.sb, "SELECT * FROM %s", pq.QuoteIdentifier(table))
	b.where(q.Filters)
	for i, o := range q.Order {
		if i == 0 {
			b.sb.WriteString(" ORDER BY ")
		} else {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(pq.QuoteIdentifier(o.Column))
		if o.Desc {
			b.sb.WriteString(" DESC NULLS LAST")
		} else {
			b.sb.WriteString(" ASC NULLS FIRST")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b.sb, " LIMIT %d", q.Limit)
	}
	return b.sb.String(), b.args, nil
}

func sortedKeys(r datastore.Row) []string {
	keys := datastore.RowColumns(r)
	sort.Strings(keys)
	return keys
}

func buildInsert(table string, row datastore.Row) (string, []any, error) {
	if err := datastore.CheckColumns(table, datastore.RowColumns(row)...); err != nil {
		return "", nil, err
	}
	var b builder
	keys := sortedKeys(row)
	if len(keys) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", pq.QuoteIdentifier(table)), nil, nil
	}
	cols := make([]string, len(keys))
	vals := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = pq.QuoteIdentifier(k)
		vals[i] = b.arg(row[k])
	}
	fmt.Fprintf(&b.sb, "INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return b.sb.String(), b.args, nil
}

func buildUpdate(table string, filters []datastore.Filter, patch datastore.Row) (string, []any, error) {
	if err := datastore.CheckColumns(table, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return "", nil, err
	}
	if err := datastore.CheckColumns(table, datastore.RowColumns(patch)...); err != nil {
		return "", nil, err
	}
	if err := checkOps(filters); err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, apperr.Validation("empty update on %s", table)
	}
	var b builder
	keys := sortedKeys(patch)
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = pq.QuoteIdentifier(k) + " = " + b.arg(patch[k])
	}
	fmt.Fprintf(&b.sb, "UPDATE %s SET %s", pq.QuoteIdentifier(table), strings.Join(sets, ", "))
	b.where(filters)
	return b.sb.String(), b.args, nil
}

func buildDelete(table string, filters []datastore.Filter) (string, []any, error) {
	if err := datastore.CheckColumns(table, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return "", nil, err
	}
	if err := checkOps(filters); err != nil {
		return "", nil, err
	}
	var b builder
	fmt.Fprintf(&b.sb, "DELETE FROM %s", pq.QuoteIdentifier(table))
	b.where(filters)
	return b.sb.String(), b.args, nil
}
