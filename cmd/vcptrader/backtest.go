package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vcplab/vcptrader/internal/alerts"
	"github.com/vcplab/vcptrader/internal/backtest"
	"github.com/vcplab/vcptrader/internal/backtest/perf"
	"github.com/vcplab/vcptrader/internal/config"
	"github.com/vcplab/vcptrader/internal/metrics"
	"github.com/vcplab/vcptrader/internal/ops"
	"github.com/vcplab/vcptrader/internal/patterns/rs"
	"github.com/vcplab/vcptrader/internal/patterns/trend"
	"github.com/vcplab/vcptrader/internal/patterns/vcp"
	"github.com/vcplab/vcptrader/internal/persistence"
	"github.com/vcplab/vcptrader/internal/report"
	"github.com/vcplab/vcptrader/internal/trading/risk"
	"github.com/vcplab/vcptrader/internal/trading/stops"
)

func newBacktestCmd() *cobra.Command {
	var (
		flagStart   string
		flagEnd     string
		flagTrades  bool
		flagNoStore bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over historical data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if flagStart != "" {
				cfg.Backtest.StartDate, err = time.Parse("2006-01-02", flagStart)
				if err != nil {
					return fmt.Errorf("bad --start: %w", err)
				}
			}
			if flagEnd != "" {
				cfg.Backtest.EndDate, err = time.Parse("2006-01-02", flagEnd)
				if err != nil {
					return fmt.Errorf("bad --end: %w", err)
				}
			}
			return runBacktest(cmd.Context(), cfg, flagTrades, flagNoStore)
		},
	}
	cmd.Flags().StringVar(&flagStart, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagEnd, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flagTrades, "trades", false, "print the trade log")
	cmd.Flags().BoolVar(&flagNoStore, "no-store", false, "skip persisting the run")
	return cmd
}

func runBacktest(ctx context.Context, cfg config.Config, printTrades, noStore bool) error {
	provider, cleanup, err := buildProvider(cfg.Data)
	if err != nil {
		return err
	}
	defer cleanup()

	tf, err := trend.NewFilter(cfg.Trend)
	if err != nil {
		return err
	}
	detector, err := vcp.NewDetector(cfg.VCP)
	if err != nil {
		return err
	}
	sizer, err := risk.NewSizer(cfg.Risk)
	if err != nil {
		return err
	}
	engine, err := stops.NewEngine(cfg.Stops)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metricSet := metrics.New(registry)

	var opsServer *ops.Server
	if cfg.Ops.Addr != "" {
		opsServer = ops.NewServer(cfg.Ops.Addr, registry)
		go func() {
			if err := opsServer.Start(); err != nil {
				log.Error().Err(err).Msg("ops server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("ops shutdown failed")
			}
		}()
	}

	sim, err := backtest.NewSimulator(cfg.Backtest, backtest.Deps{
		Provider: provider,
		Trend:    tf,
		Ranker:   rs.NewRanker(),
		Detector: detector,
		Sizer:    sizer,
		Stops:    engine,
		Notifier: alerts.NewLogNotifier(),
		Metrics:  metricSet,
		Progress: func(date time.Time, day, total int) {
			if day%20 == 0 || day == total {
				log.Info().Str("date", date.Format("2006-01-02")).
					Int("day", day).Int("total", total).Msg("simulating")
			}
		},
	})
	if err != nil {
		return err
	}

	result, err := sim.Run(ctx)
	if err != nil {
		return err
	}

	analyzer, err := perf.NewAnalyzer(result)
	if err != nil {
		return err
	}
	rep := analyzer.Analyze()

	if err := report.WriteSummary(os.Stdout, result, rep); err != nil {
		return err
	}
	if printTrades {
		fmt.Println()
		if err := report.WriteTrades(os.Stdout, result); err != nil {
			return err
		}
	}

	if cfg.Store.PostgresDSN != "" && !noStore {
		store, err := persistence.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := store.SaveRun(ctx, result, rep); err != nil {
			return err
		}
	}
	return nil
}
