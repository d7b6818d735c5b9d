// Package risk sizes trade intents, attaches protective levels and vetoes
// intents that violate capital or position limits.
package risk

import (
	"fmt"
	"math"

	"smabot/broker"
	"smabot/internal/id"
	"smabot/portfolio"
	"smabot/strategy"
)

// SizingMode selects how entry quantity is derived.
type SizingMode string

const (
	// SizePercent sizes entries as a fraction of account equity.
	SizePercent SizingMode = "percentage"
	// SizeFixed sizes entries from a fixed dollar amount.
	SizeFixed SizingMode = "fixed"
)

// Params are the per-run risk settings.
type Params struct {
	StopLossPct     float64
	TakeProfitPct   float64
	PositionSizePct float64
	SizingMode      SizingMode
	FixedAmount     float64
	MaxPositions    int
}

func (p Params) Validate() error {
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0, 1), got %v", p.StopLossPct)
	}
	if p.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive, got %v", p.TakeProfitPct)
	}
	switch p.SizingMode {
	case SizePercent:
		if p.PositionSizePct <= 0 || p.PositionSizePct > 1 {
			return fmt.Errorf("position_size_pct must be in (0, 1], got %v", p.PositionSizePct)
		}
	case SizeFixed:
		if p.FixedAmount <= 0 {
			return fmt.Errorf("fixed_amount must be positive, got %v", p.FixedAmount)
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", p.SizingMode)
	}
	if p.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", p.MaxPositions)
	}
	return nil
}

// VetoCode identifies why an intent was refused. A veto is expected
// control flow, not an error.
type VetoCode string

const (
	VetoExistingPosition VetoCode = "existing_position"
	VetoMaxPositions     VetoCode = "max_positions"
	VetoBuyingPower      VetoCode = "insufficient_buying_power"
	VetoZeroQuantity     VetoCode = "zero_quantity"
	VetoNoPosition       VetoCode = "no_position"
)

// Veto carries the refusal code and a human-readable detail.
type Veto struct {
	Code   VetoCode
	Detail string
}

func (v *Veto) String() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Detail)
}

// Manager applies Params to signals and open positions. It is stateless
// beyond its configuration; all position state lives in the ledger.
type Manager struct {
	params Params
}

func NewManager(params Params) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("risk params: %w", err)
	}
	return &Manager{params: params}, nil
}

func (m *Manager) Params() Params { return m.params }

// Quantity computes entry size for a price against account equity:
// floor(equity * position_size_pct / price) in percentage mode, or
// floor(fixed_amount / price) in fixed mode.
func (m *Manager) Quantity(price, equity float64) float64 {
	if price <= 0 {
		return 0
	}
	notional := equity * m.params.PositionSizePct
	if m.params.SizingMode == SizeFixed {
		notional = m.params.FixedAmount
	}
	return math.Floor(notional / price)
}

// SizeAndApprove turns a signal into an approved order or a veto.
//
// BUY intents are vetoed when a position already exists for the symbol,
// when max_positions would be exceeded, when sizing rounds to zero, or when
// the notional exceeds buying power. Approved entries carry stop and target
// levels derived from the entry price. SELL intents close the symbol's open
// position and are vetoed when there is none.
func (m *Manager) SizeAndApprove(
	sig *strategy.Signal,
	acct portfolio.Account,
	existing *portfolio.Position,
	openPositions int,
) (broker.Order, *Veto) {
	switch sig.Direction {
	case strategy.Buy:
		if existing != nil {
			return broker.Order{}, &Veto{
				Code:   VetoExistingPosition,
				Detail: fmt.Sprintf("already holding %v %s", existing.Quantity, sig.Symbol),
			}
		}
		if openPositions >= m.params.MaxPositions {
			return broker.Order{}, &Veto{
				Code:   VetoMaxPositions,
				Detail: fmt.Sprintf("open positions %d >= max %d", openPositions, m.params.MaxPositions),
			}
		}

		qty := m.Quantity(sig.Price, acct.Equity)
		if qty <= 0 {
			return broker.Order{}, &Veto{
				Code:   VetoZeroQuantity,
				Detail: fmt.Sprintf("equity %.2f sizes to zero shares at %.2f", acct.Equity, sig.Price),
			}
		}
		if notional := qty * sig.Price; notional > acct.BuyingPower {
			return broker.Order{}, &Veto{
				Code:   VetoBuyingPower,
				Detail: fmt.Sprintf("notional %.2f exceeds buying power %.2f", notional, acct.BuyingPower),
			}
		}

		return broker.Order{
			ID:         id.New(),
			Symbol:     sig.Symbol,
			Side:       broker.Buy,
			Quantity:   qty,
			Price:      sig.Price,
			StopLoss:   sig.Price * (1 - m.params.StopLossPct),
			TakeProfit: sig.Price * (1 + m.params.TakeProfitPct),
			Time:       sig.Time,
			Reason:     broker.ReasonSignal,
		}, nil

	case strategy.Sell:
		if existing == nil {
			return broker.Order{}, &Veto{
				Code:   VetoNoPosition,
				Detail: fmt.Sprintf("no open position in %s to sell", sig.Symbol),
			}
		}
		return broker.Order{
			ID:       id.New(),
			Symbol:   sig.Symbol,
			Side:     broker.Sell,
			Quantity: existing.Quantity,
			Price:    sig.Price,
			Time:     sig.Time,
			Reason:   broker.ReasonSignal,
		}, nil
	}

	return broker.Order{}, &Veto{Code: VetoZeroQuantity, Detail: fmt.Sprintf("unknown direction %q", sig.Direction)}
}
