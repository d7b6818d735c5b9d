// Package analytics derives performance metrics from the ledger's trade log
// and equity curve. Everything here is a pure function of its inputs.
package analytics

import (
	"math"

	"smabot/portfolio"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// Report is the derived performance summary for a run.
type Report struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalPnL      float64
	Sharpe        float64
	MaxDrawdown   float64
	TotalReturn   float64
	InitialEquity float64
	FinalEquity   float64
}

// Compute builds a Report from closed trades and the equity snapshot
// series. A run with no trades or a flat curve reports zeros, never NaN.
func Compute(trades []portfolio.Trade, snapshots []portfolio.Snapshot, initialEquity, finalEquity float64) Report {
	r := Report{
		TotalTrades:   len(trades),
		InitialEquity: initialEquity,
		FinalEquity:   finalEquity,
	}

	for _, t := range trades {
		r.TotalPnL += t.PnL
		if t.PnL > 0 {
			r.WinningTrades++
		} else if t.PnL < 0 {
			r.LosingTrades++
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	}

	r.Sharpe = sharpe(returns(snapshots))
	r.MaxDrawdown = maxDrawdown(snapshots)
	if initialEquity > 0 {
		r.TotalReturn = (finalEquity - initialEquity) / initialEquity
	}
	return r
}

// returns converts the equity curve into period-over-period returns.
func returns(snapshots []portfolio.Snapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	out := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Balance
		if prev == 0 {
			continue
		}
		out = append(out, (snapshots[i].Balance-prev)/prev)
	}
	return out
}

// sharpe is mean(returns)/std(returns) annualized by sqrt(252). Flat
// returns have undefined Sharpe, reported as 0.
func sharpe(rets []float64) float64 {
	if len(rets) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	variance := 0.0
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough decline over the curve,
// as a fraction of the peak.
func maxDrawdown(snapshots []portfolio.Snapshot) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, s := range snapshots {
		if s.Balance > peak {
			peak = s.Balance
		}
		if peak > 0 {
			dd := (peak - s.Balance) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
