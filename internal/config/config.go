package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vcplab/vcptrader/internal/backtest"
	"github.com/vcplab/vcptrader/internal/data"
	"github.com/vcplab/vcptrader/internal/patterns/trend"
	"github.com/vcplab/vcptrader/internal/patterns/vcp"
	"github.com/vcplab/vcptrader/internal/trading/risk"
	"github.com/vcplab/vcptrader/internal/trading/stops"
)

// DataConfig locates price history and the caching layer.
type DataConfig struct {
	Dir          string           `yaml:"dir"`
	Benchmark    string           `yaml:"benchmark"`
	RedisAddr    string           `yaml:"redis_addr"`
	CacheTTLDays int              `yaml:"cache_ttl_days"`
	Guard        data.GuardConfig `yaml:"guard"`
}

// StoreConfig locates the results database. Empty DSN disables persistence.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// OpsConfig controls the operational HTTP endpoint. Empty Addr disables it.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full strategy configuration.
type Config struct {
	LogLevel string          `yaml:"log_level"`
	Data     DataConfig      `yaml:"data"`
	Trend    trend.Config    `yaml:"trend"`
	VCP      vcp.Config      `yaml:"vcp"`
	Risk     risk.Config     `yaml:"risk"`
	Stops    stops.Config    `yaml:"stops"`
	Backtest backtest.Config `yaml:"backtest"`
	Store    StoreConfig     `yaml:"store"`
	Ops      OpsConfig       `yaml:"ops"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Data: DataConfig{
			Dir:          "data",
			Benchmark:    "KOSPI",
			CacheTTLDays: 1,
			Guard:        data.DefaultGuardConfig(),
		},
		Trend:    trend.DefaultConfig(),
		VCP:      vcp.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Stops:    stops.DefaultConfig(),
		Backtest: backtest.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("config: data.dir required")
	}
	if c.Data.Benchmark == "" {
		return fmt.Errorf("config: data.benchmark required")
	}
	if c.Data.CacheTTLDays < 0 {
		return fmt.Errorf("config: data.cache_ttl_days must not be negative")
	}
	if err := c.Trend.Validate(); err != nil {
		return err
	}
	if err := c.VCP.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Stops.Validate(); err != nil {
		return err
	}
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	return nil
}
