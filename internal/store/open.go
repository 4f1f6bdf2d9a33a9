package store

import (
	"context"
	"fmt"
	"io"

	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/store/badgerstore"
	"github.com/fairyhunter13/pos-stock-service/internal/store/pgstore"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	BadgerPath  string
	PostgresDSN string
	MaxConns    int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the backend named by opts.Driver and a closer releasing it.
func Open(ctx context.Context, opts Options) (datastore.Store, io.Closer, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return New(), nopCloser{}, nil
	case DriverBadger:
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       opts.BadgerPath,
			SyncWrites: true,
			Logger:     obs.Logger.With("component", "badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case DriverPostgres:
		s, err := pgstore.Open(ctx, opts.PostgresDSN, opts.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
