package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the pricing process. The detection and
// pricing thresholds ship with the hand-tuned values the market was
// balanced around; they are configuration, not derived constants.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Market struct {
		Symbol          string  `yaml:"symbol"`
		Currency        string  `yaml:"currency"`
		TotalSupply     float64 `yaml:"total_supply"`
		DefaultPrice    float64 `yaml:"default_price"`
		PriceFloor      float64 `yaml:"price_floor"`
		RecalcIntervalS int     `yaml:"recalc_interval_sec"`
		TickIntervalS   int     `yaml:"tick_interval_sec"`
		SaveIntervalMin int     `yaml:"save_interval_min"`
	} `yaml:"market"`

	Detection struct {
		WashWindowHours     int     `yaml:"wash_window_hours"`
		WashMinTrades       int     `yaml:"wash_min_trades"`
		WashMatchRatio      float64 `yaml:"wash_match_ratio"`
		FreqWindowHours     int     `yaml:"frequency_window_hours"`
		MaxTradesPerUser    float64 `yaml:"max_trades_per_user"`
		SmallTradeRatio     float64 `yaml:"small_trade_ratio"`
		SmallTradeMaxAccs   int     `yaml:"small_trade_max_accounts"`
		SmallTradeMinTxs    int     `yaml:"small_trade_min_trades"`
		SmallTradeMinPerAcc int     `yaml:"small_trade_min_per_account"`
		CooldownSec         int     `yaml:"cooldown_sec"`
		ExpirySec           int     `yaml:"detection_expiry_sec"`
	} `yaml:"detection"`

	Events struct {
		CooldownMin int `yaml:"cooldown_min"`
	} `yaml:"events"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"storage"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the configuration the market was tuned with.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "parcmarket"
	cfg.App.Version = "dev"

	cfg.Market.Symbol = "PARC"
	cfg.Market.Currency = "JPY"
	cfg.Market.TotalSupply = 100_000_000
	cfg.Market.DefaultPrice = 0.07
	cfg.Market.PriceFloor = 0.01
	cfg.Market.RecalcIntervalS = 60
	cfg.Market.TickIntervalS = 10
	cfg.Market.SaveIntervalMin = 15

	cfg.Detection.WashWindowHours = 3
	cfg.Detection.WashMinTrades = 10
	cfg.Detection.WashMatchRatio = 0.7
	cfg.Detection.FreqWindowHours = 24
	cfg.Detection.MaxTradesPerUser = 10
	cfg.Detection.SmallTradeRatio = 0.7
	cfg.Detection.SmallTradeMaxAccs = 5
	cfg.Detection.SmallTradeMinTxs = 20
	cfg.Detection.SmallTradeMinPerAcc = 5
	cfg.Detection.CooldownSec = 3600
	cfg.Detection.ExpirySec = 86400

	cfg.Events.CooldownMin = 30

	cfg.Storage.DataDir = "data"
	cfg.Storage.DBPath = "data/market.db"
	cfg.Server.Addr = ":8765"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return cfg
}

// LoadConfig reads the YAML config file over the defaults and applies
// environment overrides for deployment-specific paths.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Market.DefaultPrice <= 0 {
		return fmt.Errorf("default price must be positive")
	}
	if c.Market.PriceFloor <= 0 || c.Market.PriceFloor > c.Market.DefaultPrice {
		return fmt.Errorf("price floor must be positive and below default price")
	}
	if c.Market.RecalcIntervalS <= 0 || c.Market.TickIntervalS <= 0 || c.Market.SaveIntervalMin <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.Market.TotalSupply <= 0 {
		return fmt.Errorf("total supply must be positive")
	}
	if c.Detection.WashMatchRatio <= 0 || c.Detection.WashMatchRatio > 1 {
		return fmt.Errorf("wash match ratio must be in (0,1]")
	}
	if c.Detection.SmallTradeRatio <= 0 || c.Detection.SmallTradeRatio > 1 {
		return fmt.Errorf("small trade ratio must be in (0,1]")
	}
	if c.Storage.DBPath == "" || c.Storage.DataDir == "" {
		return fmt.Errorf("storage paths must be set")
	}
	return nil
}

// Interval accessors keep time arithmetic out of call sites.

func (c *Config) RecalcInterval() time.Duration {
	return time.Duration(c.Market.RecalcIntervalS) * time.Second
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Market.TickIntervalS) * time.Second
}

func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.Market.SaveIntervalMin) * time.Minute
}

func (c *Config) DetectionCooldown() time.Duration {
	return time.Duration(c.Detection.CooldownSec) * time.Second
}

func (c *Config) DetectionExpiry() time.Duration {
	return time.Duration(c.Detection.ExpirySec) * time.Second
}

func (c *Config) EventCooldown() time.Duration {
	return time.Duration(c.Events.CooldownMin) * time.Minute
}

// overrideWithEnv applies deployment overrides when the variables exist.
func overrideWithEnv(cfg *Config) {
	if dir := os.Getenv("PARC_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if path := os.Getenv("PARC_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if addr := os.Getenv("PARC_LISTEN_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("PARC_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
