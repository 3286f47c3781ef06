package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vcplab/vcptrader/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	// Optional .env for DSNs and addresses; absence is fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "vcptrader",
		Short:         "Momentum stock scanner and backtester",
		Long:          "vcptrader screens a stock universe for trend-template leaders forming volatility contraction bases, sizes entries against portfolio risk limits, and replays the whole strategy over historical data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config (defaults apply when empty)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(newScanCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newRunsCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides plus logger
// setup, shared by every subcommand.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if dsn := os.Getenv("VCPTRADER_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if addr := os.Getenv("VCPTRADER_REDIS_ADDR"); addr != "" {
		cfg.Data.RedisAddr = addr
	}
	setupLogger(cfg.LogLevel)
	return cfg, nil
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
