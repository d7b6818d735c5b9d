package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"smabot/analytics"
	"smabot/journal"
	"smabot/portfolio"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Report performance for a journaled run",
	Long: `Compute win rate, Sharpe ratio, drawdown and return for a run
recorded in the SQLite journal. Without a run ID, lists the recorded runs.

Examples:
  smabot report --db smabot.db
  smabot report 01J3ZK... --db smabot.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

var reportDBPath string

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVarP(&reportDBPath, "db", "d", "./smabot.db", "path to SQLite journal")
}

func runReport(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(reportDBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	if len(args) == 0 {
		runs, err := j.ListRuns()
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Println(r)
		}
		return nil
	}

	runID := args[0]
	recs, err := j.ListTradesByRun(runID)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	equity, err := j.ListEquityByRun(runID)
	if err != nil {
		return fmt.Errorf("list equity: %w", err)
	}
	if len(recs) == 0 && len(equity) == 0 {
		return fmt.Errorf("run %s not found in journal", runID)
	}

	trades := make([]portfolio.Trade, len(recs))
	for i, r := range recs {
		trades[i] = portfolio.Trade{
			ID:         r.TradeID,
			Symbol:     r.Symbol,
			EntryTime:  r.EntryTime,
			ExitTime:   r.ExitTime,
			EntryPrice: r.EntryPrice,
			ExitPrice:  r.ExitPrice,
			Quantity:   r.Quantity,
			PnL:        r.PnL,
			ExitReason: r.Reason,
		}
	}
	snapshots := make([]portfolio.Snapshot, len(equity))
	for i, e := range equity {
		snapshots[i] = portfolio.Snapshot{
			Time:     e.Time,
			Balance:  e.Balance,
			DailyPnL: e.DailyPnL,
		}
	}

	var initial, final float64
	if len(equity) > 0 {
		initial = equity[0].Balance - equity[0].DailyPnL
		final = equity[len(equity)-1].Balance
	}

	analytics.PrintReport(os.Stdout, analytics.Compute(trades, snapshots, initial, final))
	analytics.PrintTrades(os.Stdout, trades)
	return nil
}
