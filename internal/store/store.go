// Package store provides data-store backends for the stock core. The package
// itself holds the in-memory backend; durable backends live in subpackages.
package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
)

type table struct {
	rows   []datastore.Row
	lastID uint64
}

// Store is an in-memory datastore.Store. Ids are per-table sequences.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	now    func() time.Time
}

var _ datastore.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[string]*table), now: time.Now}
}

func (s *Store) tableLocked(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{}
		s.tables[name] = t
	}
	return t
}

func (s *Store) Select(ctx context.Context, name string, q datastore.Query) ([]datastore.Row, error) {
	if err := datastore.CheckColumns(name, q.Columns()...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return []datastore.Row{}, nil
	}
	return datastore.Apply(t.rows, q), nil
}

func (s *Store) Insert(ctx context.Context, name string, row datastore.Row) (datastore.Row, error) {
	if err := datastore.CheckColumns(name, datastore.RowColumns(row)...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tableLocked(name)
	r, err := s.prepareLocked(name, t, row, t.rows)
	if err != nil {
		return nil, err
	}
	t.rows = append(t.rows, r)
	return r.Clone(), nil
}

func (s *Store) InsertMany(ctx context.Context, name string, rows []datastore.Row) error {
	for _, r := range rows {
		if err := datastore.CheckColumns(name, datastore.RowColumns(r)...); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tableLocked(name)
	lastID := t.lastID
	staged := make([]datastore.Row, 0, len(t.rows)+len(rows))
	staged = append(staged, t.rows...)
	for _, row := range rows {
		r, err := s.prepareLocked(name, t, row, staged)
		if err != nil {
			t.lastID = lastID
			return err
		}
		staged = append(staged, r)
	}
	t.rows = staged
	return nil
}

// prepareLocked assigns defaults and checks unique keys against existing.
func (s *Store) prepareLocked(name string, t *table, row datastore.Row, existing []datastore.Row) (datastore.Row, error) {
	t.lastID++
	r := datastore.WithDefaults(name, row, strconv.FormatUint(t.lastID, 10), s.now())
	if err := datastore.CheckUnique(name, existing, r, ""); err != nil {
		t.lastID--
		return nil, err
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, name string, filters []datastore.Filter, patch datastore.Row) (int64, error) {
	if err := datastore.CheckColumns(name, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return 0, err
	}
	if err := datastore.CheckColumns(name, datastore.RowColumns(patch)...); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return 0, nil
	}
	next := make([]datastore.Row, len(t.rows))
	var n int64
	for i, r := range t.rows {
		if !datastore.Match(r, filters) {
			next[i] = r
			continue
		}
		u := r.Clone()
		for k, v := range patch {
			u[k] = v
		}
		if err := datastore.CheckUnique(name, t.rows, u, u.String(datastore.ColID)); err != nil {
			return 0, err
		}
		next[i] = u
		n++
	}
	t.rows = next
	return n, nil
}

func (s *Store) Delete(ctx context.Context, name string, filters []datastore.Filter) (int64, error) {
	if err := datastore.CheckColumns(name, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return 0, nil
	}
	kept := t.rows[:0:0]
	var n int64
	for _, r := range t.rows {
		if datastore.Match(r, filters) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	return n, nil
}
