package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vcplab/vcptrader/internal/data"
	"github.com/vcplab/vcptrader/internal/patterns/rs"
	"github.com/vcplab/vcptrader/internal/patterns/trend"
	"github.com/vcplab/vcptrader/internal/patterns/vcp"
)

type scanRow struct {
	symbol   string
	name     string
	rsRating int
	vcpScore int
	pivot    float64
	stop     float64
	close    float64
}

func newScanCmd() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the universe for confirmed contraction patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

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

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			return runScan(ctx, provider, tf, rs.NewRanker(), detector, showAll)
		},
	}
	cmd.Flags().BoolVar(&showAll, "all", false, "include trend passers whose pattern is below threshold")
	return cmd
}

func runScan(ctx context.Context, provider data.Provider, tf *trend.Filter,
	ranker *rs.Ranker, detector *vcp.Detector, showAll bool) error {

	started := time.Now()

	bench, err := provider.BenchmarkSeries(ctx)
	if err != nil {
		return fmt.Errorf("scan: load benchmark: %w", err)
	}
	listings, err := provider.ListUniverse(ctx)
	if err != nil {
		return fmt.Errorf("scan: list universe: %w", err)
	}

	var rows []scanRow
	skipped := 0
	for _, listing := range listings {
		series, err := provider.LoadSeries(ctx, listing.Symbol)
		if err != nil {
			log.Warn().Str("symbol", listing.Symbol).Err(err).Msg("scan: skipping symbol")
			skipped++
			continue
		}
		if err := series.Validate(); err != nil {
			log.Warn().Str("symbol", listing.Symbol).Err(err).Msg("scan: invalid series")
			skipped++
			continue
		}

		rating := ranker.RatingVsBenchmark(series, bench)
		score := tf.Analyze(series, rating)
		if !score.Passes {
			continue
		}

		pattern := detector.Detect(series)
		if !pattern.Detected && !showAll {
			continue
		}

		var lastClose float64
		if series.Len() > 0 {
			lastClose = series.Last().Close
		}
		rows = append(rows, scanRow{
			symbol:   listing.Symbol,
			name:     listing.Name,
			rsRating: rating,
			vcpScore: pattern.Score,
			pivot:    pattern.PivotPrice,
			stop:     pattern.StopPrice,
			close:    lastClose,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].vcpScore != rows[j].vcpScore {
			return rows[i].vcpScore > rows[j].vcpScore
		}
		if rows[i].rsRating != rows[j].rsRating {
			return rows[i].rsRating > rows[j].rsRating
		}
		return rows[i].symbol < rows[j].symbol
	})

	printScan(rows, len(listings), skipped, time.Since(started))
	return nil
}

func printScan(rows []scanRow, universe, skipped int, elapsed time.Duration) {
	fmt.Printf("Scanned %d symbols in %s (%d skipped)\n\n", universe, elapsed.Round(time.Millisecond), skipped)
	if len(rows) == 0 {
		fmt.Println("No candidates.")
		return
	}
	fmt.Printf("%-10s %-24s %4s %5s %12s %12s %12s\n",
		"symbol", "name", "rs", "vcp", "close", "pivot", "stop")
	for _, r := range rows {
		fmt.Printf("%-10s %-24s %4d %5d %12.2f %12.2f %12.2f\n",
			r.symbol, truncate(r.name, 24), r.rsRating, r.vcpScore, r.close, r.pivot, r.stop)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
