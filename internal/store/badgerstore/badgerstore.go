// Package badgerstore is an embedded, persistent datastore.Store on BadgerDB.
//
// Rows are JSON documents stored under "<table>/<id>". Every call runs in a
// single badger transaction, so InsertMany is atomic.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence). Used by tests.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a datastore.Store on BadgerDB. Safe for concurrent use.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

var _ datastore.Store = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*Store, error) { return Open(Config{InMemory: true}) }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CollectGarbage runs one value-log GC pass. Having nothing to rewrite is not
// an error.
func (s *Store) CollectGarbage(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) ||
		errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func prefix(table string) []byte { return []byte(table + "/") }

func key(table, id string) []byte { return []byte(table + "/" + id) }

func decode(b []byte) (datastore.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var r datastore.Row
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}

// scan loads every row of table inside txn.
func scan(txn *badger.Txn, table string) ([]datastore.Row, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix(table)
	it := txn.NewIterator(opts)
	defer it.Close()
	var rows []datastore.Row
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			r, err := decode(val)
			if err != nil {
				return err
			}
			rows = append(rows, r)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func put(txn *badger.Txn, table string, r datastore.Row) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(key(table, r.String(datastore.ColID)), b)
}

func mapErr(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	}
	return err
}

func (s *Store) Select(ctx context.Context, table string, q datastore.Query) ([]datastore.Row, error) {
	if err := datastore.CheckColumns(table, q.Columns()...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []datastore.Row
	err := s.db.View(func(txn *badger.Txn) error {
		rows, err := scan(txn, table)
		if err != nil {
			return err
		}
		out = datastore.Apply(rows, q)
		return nil
	})
	return out, err
}

func (s *Store) Insert(ctx context.Context, table string, row datastore.Row) (datastore.Row, error) {
	if err := datastore.CheckColumns(table, datastore.RowColumns(row)...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := datastore.WithDefaults(table, row, uuid.NewString(), s.now())
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := scan(txn, table)
		if err != nil {
			return err
		}
		if err := datastore.CheckUnique(table, existing, r, ""); err != nil {
			return err
		}
		return put(txn, table, r)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	// Round-trip so callers see the same encodings a later Select returns.
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (s *Store) InsertMany(ctx context.Context, table string, rows []datastore.Row) error {
	for _, r := range rows {
		if err := datastore.CheckColumns(table, datastore.RowColumns(r)...); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := scan(txn, table)
		if err != nil {
			return err
		}
		for _, row := range rows {
			r := datastore.WithDefaults(table, row, uuid.NewString(), now)
			if err := datastore.CheckUnique(table, existing, r, ""); err != nil {
				return err
			}
			if err := put(txn, table, r); err != nil {
				return err
			}
			existing = append(existing, r)
		}
		return nil
	})
	return mapErr(err)
}

func (s *Store) Update(ctx context.Context, table string, filters []datastore.Filter, patch datastore.Row) (int64, error) {
	if err := datastore.CheckColumns(table, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return 0, err
	}
	if err := datastore.CheckColumns(table, datastore.RowColumns(patch)...); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.Update(func(txn *badger.Txn) error {
		n = 0
		rows, err := scan(txn, table)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !datastore.Match(r, filters) {
				continue
			}
			for k, v := range patch {
				r[k] = v
			}
			if err := datastore.CheckUnique(table, rows, r, r.String(datastore.ColID)); err != nil {
				return err
			}
			if err := put(txn, table, r); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, table string, filters []datastore.Filter) (int64, error) {
	if err := datastore.CheckColumns(table, datastore.Query{Filters: filters}.Columns()...); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.Update(func(txn *badger.Txn) error {
		n = 0
		rows, err := scan(txn, table)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !datastore.Match(r, filters) {
				continue
			}
			if err := txn.Delete(key(table, r.String(datastore.ColID))); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}
