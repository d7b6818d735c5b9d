// Package config loads and validates run configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Engine   EngineConfig   `yaml:"engine"`
	Broker   BrokerConfig   `yaml:"broker"`
	Data     DataConfig     `yaml:"data"`
	Journal  JournalConfig  `yaml:"journal"`
	LogLevel string         `yaml:"log_level"`
}

// AccountConfig seeds the ledger.
type AccountConfig struct {
	ID      string  `yaml:"id"`
	Balance float64 `yaml:"balance"`
}

// StrategyConfig holds the crossover parameters.
type StrategyConfig struct {
	Symbols     []string `yaml:"symbols"`
	ShortWindow int      `yaml:"short_window"`
	LongWindow  int      `yaml:"long_window"`
}

// RiskConfig holds sizing and limit parameters.
type RiskConfig struct {
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	PositionSizePct float64 `yaml:"position_size_pct"`
	SizingMode      string  `yaml:"sizing_mode"` // "percentage" or "fixed"
	FixedAmount     float64 `yaml:"fixed_amount,omitempty"`
	MaxPositions    int     `yaml:"max_positions"`
}

// EngineConfig holds loop timing knobs. Durations use Go syntax ("30s").
type EngineConfig struct {
	PollInterval  string `yaml:"poll_interval"`
	SignalMaxAge  string `yaml:"signal_max_age"`
	FetchTimeout  string `yaml:"fetch_timeout"`
	SubmitTimeout string `yaml:"submit_timeout"`
	FetchRetries  int    `yaml:"fetch_retries"`
	RetryBackoff  string `yaml:"retry_backoff"`
	CloseAtEnd    bool   `yaml:"close_at_end"`
}

// BrokerConfig selects and parameterizes the execution venue.
type BrokerConfig struct {
	Type        string  `yaml:"type"` // "sim" or "alpaca"
	SlippagePct float64 `yaml:"slippage_pct,omitempty"`
	Commission  float64 `yaml:"commission,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	APISecret   string  `yaml:"api_secret,omitempty"`
	Paper       bool    `yaml:"paper"`
}

// DataConfig selects the bar source.
type DataConfig struct {
	Provider  string `yaml:"provider"` // "csv", "alpaca" or "stream"
	CSVPath   string `yaml:"csv_path,omitempty"`
	From      string `yaml:"from,omitempty"` // RFC3339, backtest range
	To        string `yaml:"to,omitempty"`
	StreamURL string `yaml:"stream_url,omitempty"`
}

// JournalConfig selects trade/equity persistence.
type JournalConfig struct {
	Type       string `yaml:"type"` // "sqlite", "csv" or "none"
	DBPath     string `yaml:"db_path,omitempty"`
	TradesFile string `yaml:"trades_file,omitempty"`
	EquityFile string `yaml:"equity_file,omitempty"`
}

// LoadFromFile reads and validates a YAML config.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the config as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if len(c.Strategy.Symbols) == 0 {
		return fmt.Errorf("strategy.symbols is required")
	}
	if c.Strategy.ShortWindow <= 0 || c.Strategy.LongWindow <= c.Strategy.ShortWindow {
		return fmt.Errorf("strategy windows must satisfy 0 < short_window < long_window")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be between 0 and 1")
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive")
	}
	switch c.Risk.SizingMode {
	case "percentage":
		if c.Risk.PositionSizePct <= 0 || c.Risk.PositionSizePct > 1 {
			return fmt.Errorf("risk.position_size_pct must be between 0 and 1")
		}
	case "fixed":
		if c.Risk.FixedAmount <= 0 {
			return fmt.Errorf("risk.fixed_amount must be positive")
		}
	default:
		return fmt.Errorf("risk.sizing_mode must be 'percentage' or 'fixed'")
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive")
	}

	for name, v := range map[string]string{
		"engine.poll_interval":  c.Engine.PollInterval,
		"engine.signal_max_age": c.Engine.SignalMaxAge,
		"engine.fetch_timeout":  c.Engine.FetchTimeout,
		"engine.submit_timeout": c.Engine.SubmitTimeout,
		"engine.retry_backoff":  c.Engine.RetryBackoff,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Engine.FetchRetries < 0 {
		return fmt.Errorf("engine.fetch_retries must not be negative")
	}

	switch c.Broker.Type {
	case "sim":
	case "alpaca":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return fmt.Errorf("broker api_key and api_secret required for alpaca")
		}
	default:
		return fmt.Errorf("broker.type must be 'sim' or 'alpaca'")
	}

	switch c.Data.Provider {
	case "csv":
		if c.Data.CSVPath == "" {
			return fmt.Errorf("data.csv_path required for CSV provider")
		}
	case "alpaca":
	case "stream":
		if c.Data.StreamURL == "" {
			return fmt.Errorf("data.stream_url required for stream provider")
		}
	default:
		return fmt.Errorf("data.provider must be 'csv', 'alpaca' or 'stream'")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	return nil
}

// Duration parses a duration field, empty or invalid meaning fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:      "SIM-001",
			Balance: 100000,
		},
		Strategy: StrategyConfig{
			Symbols:     []string{"AAPL"},
			ShortWindow: 10,
			LongWindow:  30,
		},
		Risk: RiskConfig{
			StopLossPct:     0.05,
			TakeProfitPct:   0.10,
			PositionSizePct: 0.25,
			SizingMode:      "percentage",
			MaxPositions:    5,
		},
		Engine: EngineConfig{
			PollInterval:  "1m",
			SignalMaxAge:  "5m",
			FetchTimeout:  "10s",
			SubmitTimeout: "10s",
			FetchRetries:  2,
			RetryBackoff:  "2s",
			CloseAtEnd:    true,
		},
		Broker: BrokerConfig{
			Type:  "sim",
			Paper: true,
		},
		Data: DataConfig{
			Provider: "csv",
			CSVPath:  "./bars.csv",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./smabot.db",
		},
		LogLevel: "info",
	}
}
