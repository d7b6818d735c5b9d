// Package portfolio holds the authoritative account, position and trade
// state. The Ledger is the single writer; every other component reads
// snapshots or submits fills.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"smabot/broker"
	"smabot/internal/id"
)

// ErrInconsistent is returned when the equity invariant breaks after a
// mutation. It indicates a bookkeeping bug, is never corrected silently,
// and must move the owning run to its error state.
var ErrInconsistent = errors.New("ledger inconsistent")

// equityTolerance bounds float drift allowed by the invariant check.
const equityTolerance = 1e-6

// Account is the capital pool shared by all symbols.
type Account struct {
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// Position is one open holding. At most one exists per symbol.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	EntryTime     time.Time
	StopLoss      float64
	TakeProfit    float64
}

// Trade is a closed round trip, immutable once recorded.
type Trade struct {
	ID         string
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	ExitReason string
}

// Snapshot is one point on the equity curve, appended per trading period.
type Snapshot struct {
	Time     time.Time
	Balance  float64
	DailyPnL float64
}

// Ledger applies fills and marks positions to market. Safe for concurrent
// use; all mutation is funneled through one mutex so live-mode fetches can
// overlap but bookkeeping never interleaves.
type Ledger struct {
	mu sync.Mutex

	initialCash float64
	acct        Account
	positions   map[string]*Position
	trades      []Trade
	snapshots   []Snapshot
	lastPrices  map[string]float64
}

func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		acct: Account{
			Cash:        initialCash,
			Equity:      initialCash,
			BuyingPower: initialCash,
		},
		positions:  make(map[string]*Position),
		lastPrices: make(map[string]float64),
	}
}

// ApplyFill books a fill. A BUY fill opens the symbol's position; a SELL
// fill closes it and returns the recorded Trade. The equity invariant is
// re-verified after every mutation.
func (l *Ledger) ApplyFill(f broker.Fill) (*Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastPrices[f.Symbol] = f.Price

	var closed *Trade

	switch f.Side {
	case broker.Buy:
		if _, exists := l.positions[f.Symbol]; exists {
			return nil, fmt.Errorf("fill for %s: position already open", f.Symbol)
		}
		cost := f.Price*f.Quantity + f.Commission
		if cost > l.acct.Cash+equityTolerance {
			return nil, fmt.Errorf("fill for %s: cost %.2f exceeds cash %.2f", f.Symbol, cost, l.acct.Cash)
		}
		l.acct.Cash -= cost
		l.positions[f.Symbol] = &Position{
			Symbol:        f.Symbol,
			Quantity:      f.Quantity,
			AvgEntryPrice: f.Price,
			EntryTime:     f.Time,
			StopLoss:      f.StopLoss,
			TakeProfit:    f.TakeProfit,
		}

	case broker.Sell:
		pos, exists := l.positions[f.Symbol]
		if !exists {
			return nil, fmt.Errorf("fill for %s: no open position", f.Symbol)
		}
		if f.Quantity != pos.Quantity {
			return nil, fmt.Errorf("fill for %s: quantity %v does not match position %v", f.Symbol, f.Quantity, pos.Quantity)
		}
		l.acct.Cash += f.Price*f.Quantity - f.Commission

		trade := Trade{
			ID:         id.New(),
			Symbol:     f.Symbol,
			EntryTime:  pos.EntryTime,
			ExitTime:   f.Time,
			EntryPrice: pos.AvgEntryPrice,
			ExitPrice:  f.Price,
			Quantity:   pos.Quantity,
			PnL:        (f.Price-pos.AvgEntryPrice)*pos.Quantity - f.Commission,
			ExitReason: f.Reason,
		}
		delete(l.positions, f.Symbol)
		l.trades = append(l.trades, trade)
		closed = &trade

	default:
		return nil, fmt.Errorf("fill for %s: unknown side %q", f.Symbol, f.Side)
	}

	l.revalueLocked()
	if err := l.checkInvariantLocked(); err != nil {
		return nil, err
	}
	return closed, nil
}

// MarkToMarket updates latest prices and recomputes equity. It mutates
// neither cash nor positions and may be called at any frequency.
func (l *Ledger) MarkToMarket(prices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for sym, px := range prices {
		l.lastPrices[sym] = px
	}
	l.revalueLocked()
}

func (l *Ledger) revalueLocked() {
	equity := l.acct.Cash
	for sym, pos := range l.positions {
		px, ok := l.lastPrices[sym]
		if !ok {
			px = pos.AvgEntryPrice
		}
		equity += pos.Quantity * px
	}
	l.acct.Equity = equity
	l.acct.BuyingPower = l.acct.Cash
}

func (l *Ledger) checkInvariantLocked() error {
	want := l.acct.Cash
	for sym, pos := range l.positions {
		px, ok := l.lastPrices[sym]
		if !ok {
			px = pos.AvgEntryPrice
		}
		want += pos.Quantity * px
	}
	if math.Abs(want-l.acct.Equity) > equityTolerance*math.Max(1, math.Abs(want)) {
		return fmt.Errorf("%w: equity %.6f != cash + positions %.6f", ErrInconsistent, l.acct.Equity, want)
	}
	return nil
}

// AppendSnapshot records one equity-curve point. DailyPnL is the change
// since the previous snapshot (or since initial cash for the first one).
func (l *Ledger) AppendSnapshot(t time.Time) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.initialCash
	if n := len(l.snapshots); n > 0 {
		prev = l.snapshots[n-1].Balance
	}
	snap := Snapshot{
		Time:     t,
		Balance:  l.acct.Equity,
		DailyPnL: l.acct.Equity - prev,
	}
	l.snapshots = append(l.snapshots, snap)
	return snap
}

// AccountSnapshot returns a copy of the account.
func (l *Ledger) AccountSnapshot() Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct
}

// OpenPositions returns open positions ordered by symbol, so tick
// processing over them is deterministic.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for a symbol, if any.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// TradeHistory returns all closed trades in close order.
func (l *Ledger) TradeHistory() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Snapshots returns the equity curve recorded so far.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// InitialCash returns the starting capital for the run.
func (l *Ledger) InitialCash() float64 { return l.initialCash }
