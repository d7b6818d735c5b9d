package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"smabot/analytics"
	"smabot/engine"
	"smabot/feed"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through the strategy",
	Long: `Run the crossover strategy over a CSV file of historical bars and
print a performance report.

Example:
  smabot backtest -f config.yaml --data bars.csv`,
	RunE: runBacktest,
}

var backtestDataPath string

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&backtestDataPath, "data", "", "bar CSV file (overrides data.csv_path)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Data.CSVPath
	if backtestDataPath != "" {
		path = backtestDataPath
	}
	from, err := parseTime(cfg.Data.From)
	if err != nil {
		return fmt.Errorf("data.from: %w", err)
	}
	to, err := parseTime(cfg.Data.To)
	if err != nil {
		return fmt.Errorf("data.to: %w", err)
	}
	barFeed, err := feed.NewCSVFeed(path, from, to)
	if err != nil {
		return fmt.Errorf("open bar data: %w", err)
	}

	opts, err := buildOptions(cfg, engine.ModeBacktest)
	if err != nil {
		return err
	}
	defer opts.Journal.Close()
	opts.Feed = barFeed
	opts.CloseAtEnd = cfg.Engine.CloseAtEnd

	run, err := engine.NewRun(opts)
	if err != nil {
		return err
	}
	if err := run.Start(context.Background()); err != nil {
		return err
	}
	run.Wait()

	if err := run.LastErr(); err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	analytics.PrintReport(os.Stdout, run.Performance())
	analytics.PrintTrades(os.Stdout, run.Trades())
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
