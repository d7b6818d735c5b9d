package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"smabot/config"
	"smabot/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "smabot",
	Short: "An SMA-crossover trading engine for backtesting and live trading",
	Long: `Smabot runs a moving-average crossover strategy against historical or
live market data.

It provides tools for:
  - Backtesting the strategy over CSV bar data
  - Running the same strategy live against a brokerage account
  - Recording trades and equity curves to SQLite or CSV journals
  - Reporting win rate, Sharpe ratio and drawdown per run
  - Downloading historical bars into the replay format`,
}

var (
	cfgPath  string
	logLevel string
)

// Execute runs the root command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the --config file, or defaults when none is given, and
// initializes logging.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.Setup(level)
	return cfg, nil
}
