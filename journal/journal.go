// Package journal persists closed trades and equity snapshots for later
// reporting.
package journal

import "time"

// TradeRecord is one closed round trip as persisted.
type TradeRecord struct {
	TradeID    string
	RunID      string
	Symbol     string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	Reason     string
}

// EquityRecord is one point on the persisted equity curve.
type EquityRecord struct {
	RunID    string
	Time     time.Time
	Balance  float64
	Cash     float64
	DailyPnL float64
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquityRecord) error
	Close() error
}

// Noop discards everything; used when persistence is disabled.
type Noop struct{}

func (Noop) RecordTrade(TradeRecord) error   { return nil }
func (Noop) RecordEquity(EquityRecord) error { return nil }
func (Noop) Close() error                    { return nil }
