package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"smabot/broker/alpaca"
	"smabot/feed"
	"smabot/market"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download historical bars to the replay CSV format",
	Long: `Fetch historical bars for the configured symbols and write them as a
CSV file the backtest command can replay.

Example:
  smabot download -f config.yaml --out bars.csv --start 2024-01-01T00:00:00Z --timeframe 1Day`,
	RunE: runDownload,
}

var (
	downloadOut       string
	downloadStart     string
	downloadEnd       string
	downloadTimeframe string
)

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadOut, "out", "bars.csv", "output CSV path")
	downloadCmd.Flags().StringVar(&downloadStart, "start", "", "range start (RFC3339)")
	downloadCmd.Flags().StringVar(&downloadEnd, "end", "", "range end (RFC3339)")
	downloadCmd.Flags().StringVar(&downloadTimeframe, "timeframe", "1Day", "bar timeframe (1Min, 1Hour, 1Day)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "" {
		return fmt.Errorf("broker api_key and api_secret required to download data")
	}

	start, err := parseTime(downloadStart)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseTime(downloadEnd)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	client := alpaca.NewClient(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Paper)
	ctx := context.Background()

	var all []market.Bar
	for _, sym := range cfg.Strategy.Symbols {
		bars, err := client.GetBars(ctx, alpaca.BarsRequest{
			Symbol:    sym,
			Timeframe: downloadTimeframe,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return fmt.Errorf("fetch bars for %s: %w", sym, err)
		}
		fmt.Printf("fetched %d bars for %s\n", len(bars), sym)
		all = append(all, bars...)
	}

	// replay order: by timestamp, then symbol for equal stamps
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Time.Equal(all[j].Time) {
			return all[i].Time.Before(all[j].Time)
		}
		return all[i].Symbol < all[j].Symbol
	})

	if err := feed.WriteCSV(downloadOut, all); err != nil {
		return fmt.Errorf("write %s: %w", downloadOut, err)
	}
	fmt.Printf("wrote %d bars to %s\n", len(all), downloadOut)
	return nil
}
