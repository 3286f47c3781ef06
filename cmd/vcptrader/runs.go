package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vcplab/vcptrader/internal/persistence"
)

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted backtest runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.PostgresDSN == "" {
				return fmt.Errorf("runs: no store configured (set store.postgres_dsn or VCPTRADER_POSTGRES_DSN)")
			}

			store, err := persistence.Open(cmd.Context(), cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Printf("%-36s %-12s %-12s %10s %8s %8s %7s\n",
				"run", "start", "end", "return %", "max dd", "sharpe", "trades")
			for _, r := range runs {
				fmt.Printf("%-36s %-12s %-12s %+9.2f %7.2f%% %8.2f %7d\n",
					r.ID, r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"),
					r.TotalReturn, r.MaxDrawdown, r.Sharpe, r.TradeCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
