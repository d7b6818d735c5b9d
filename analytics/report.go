package analytics

import (
	"fmt"
	"io"
	"time"

	"smabot/portfolio"
)

// PrintReport writes a formatted run summary.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Performance Report")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:         %d\n", r.TotalTrades)
	fmt.Fprintf(w, "Wins:           %d\n", r.WinningTrades)
	fmt.Fprintf(w, "Losses:         %d\n", r.LosingTrades)
	fmt.Fprintf(w, "Win Rate:       %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "Total P/L:      %.2f\n", r.TotalPnL)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Equity:   %.2f\n", r.InitialEquity)
	fmt.Fprintf(w, "End Equity:     %.2f\n", r.FinalEquity)
	fmt.Fprintf(w, "Return:         %.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(w, "Sharpe Ratio:   %.3f\n", r.Sharpe)
	fmt.Fprintf(w, "Max Drawdown:   %.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintln(w)
}

// PrintTrades writes the closed trade log, most recent last.
func PrintTrades(w io.Writer, trades []portfolio.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No closed trades.")
		return
	}

	fmt.Fprintln(w, "Closed Trades")
	fmt.Fprintln(w, "--------------------------------------------------")
	for _, t := range trades {
		fmt.Fprintf(w, "%s  %-6s qty=%.0f entry=%.2f exit=%.2f pnl=%+.2f (%s)\n",
			t.ExitTime.Format(time.RFC3339),
			t.Symbol,
			t.Quantity,
			t.EntryPrice,
			t.ExitPrice,
			t.PnL,
			t.ExitReason,
		)
	}
}
