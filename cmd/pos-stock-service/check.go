package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/config"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/monitor"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

func newCheckCmd(cfg *config.Config) *cobra.Command {
	var org string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one stock check and print the resulting alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if org == "" {
				org = cfg.DefaultOrgID
			}
			m := obs.NewMetrics(nil)
			st, closer, err := openStore(cmd.Context(), *cfg, m)
			if err != nil {
				return err
			}
			defer closer.Close()

			l := ledger.New(st, ledger.WithMetrics(m))
			engine := alerts.NewEngine(cfg.Alerts(), alerts.WithMetrics(m))
			sum, err := monitor.New(org, l, engine).Check(cmd.Context())
			if err != nil {
				return err
			}
			levels, err := l.Levels(cmd.Context(), org)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"org_id":  org,
				"summary": sum,
				"stats":   engine.Thresholds().Stats(levels),
				"alerts":  engine.Alerts(),
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization to check (default DEFAULT_ORG_ID)")
	return cmd
}
