package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/pos-stock-service/internal/config"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/seed"
)

func newSeedCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load products and customers from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := seed.LoadFile(args[0], cfg.DefaultOrgID)
			if err != nil {
				return err
			}
			st, closer, err := openStore(cmd.Context(), *cfg, obs.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer closer.Close()
			res, err := seed.Apply(cmd.Context(), st, c)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
}
