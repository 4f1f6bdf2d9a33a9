// Package main is the entry point of the POS stock service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/pos-stock-service/internal/config"
	"github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/store"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	root := &cobra.Command{
		Use:           "pos-stock-service",
		Short:         "Sale commit, stock ledger and low-stock alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			obs.InitLogger(cfg.LogLevel)
			return nil
		},
	}
	serve := newServeCmd(&cfg)
	root.RunE = serve.RunE
	root.AddCommand(serve, newCheckCmd(&cfg), newSeedCmd(&cfg))
	return root
}

// openStore opens the configured backend behind the retry and timeout guard.
func openStore(ctx context.Context, cfg config.Config, m *obs.Metrics) (*datastore.Guarded, io.Closer, error) {
	raw, closer, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	obs.Logger.Info("store_opened", "driver", cfg.StoreDriver)
	return datastore.Guard(raw, cfg.StorePolicy(), m), closer, nil
}
