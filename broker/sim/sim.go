// Package sim implements the simulated broker: orders fill immediately at
// their reference price, optionally adjusted by configured slippage, and the
// broker keeps its own mirrored account state in sync.
package sim

import (
	"context"
	"fmt"
	"sync"

	"smabot/broker"
	"smabot/internal/id"
)

// Options tune fill behavior. Zero values mean frictionless fills.
type Options struct {
	SlippagePct float64 // applied against the order: buys fill higher, sells lower
	Commission  float64 // flat fee per fill
}

// Broker is an in-process execution venue. Safe for concurrent use.
type Broker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	opts      Options
}

type position struct {
	quantity  float64
	avgPrice  float64
	lastPrice float64
}

func New(initialCash float64, opts Options) *Broker {
	return &Broker{
		cash:      initialCash,
		positions: make(map[string]*position),
		opts:      opts,
	}
}

func (b *Broker) SubmitOrder(ctx context.Context, o broker.Order) (broker.Fill, error) {
	select {
	case <-ctx.Done():
		return broker.Fill{}, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Quantity <= 0 {
		return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: "non-positive quantity"}
	}

	fillPrice := o.Price
	switch o.Side {
	case broker.Buy:
		fillPrice = o.Price * (1 + b.opts.SlippagePct)
	case broker.Sell:
		fillPrice = o.Price * (1 - b.opts.SlippagePct)
	default:
		return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: fmt.Sprintf("unknown side %q", o.Side)}
	}

	switch o.Side {
	case broker.Buy:
		cost := fillPrice*o.Quantity + b.opts.Commission
		if cost > b.cash {
			return broker.Fill{}, &broker.OrderError{
				OrderID: o.ID, Symbol: o.Symbol,
				Detail: fmt.Sprintf("insufficient funds: need %.2f, have %.2f", cost, b.cash),
			}
		}
		b.cash -= cost
		p, ok := b.positions[o.Symbol]
		if !ok {
			p = &position{}
			b.positions[o.Symbol] = p
		}
		total := p.quantity + o.Quantity
		p.avgPrice = (p.quantity*p.avgPrice + o.Quantity*fillPrice) / total
		p.quantity = total
		p.lastPrice = fillPrice

	case broker.Sell:
		p, ok := b.positions[o.Symbol]
		if !ok || p.quantity < o.Quantity {
			return broker.Fill{}, &broker.OrderError{
				OrderID: o.ID, Symbol: o.Symbol,
				Detail: "no position to sell",
			}
		}
		b.cash += fillPrice*o.Quantity - b.opts.Commission
		p.quantity -= o.Quantity
		p.lastPrice = fillPrice
		if p.quantity <= 0 {
			delete(b.positions, o.Symbol)
		}
	}

	fillID := o.ID
	if fillID == "" {
		fillID = id.New()
	}

	return broker.Fill{
		OrderID:    fillID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      fillPrice,
		Commission: b.opts.Commission,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Time:       o.Time,
		Reason:     o.Reason,
	}, nil
}

func (b *Broker) GetAccount(ctx context.Context) (broker.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.quantity * p.lastPrice
	}
	return broker.AccountInfo{
		ID:          "SIM",
		Cash:        b.cash,
		Equity:      equity,
		BuyingPower: b.cash,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]broker.PositionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.PositionInfo, 0, len(b.positions))
	for sym, p := range b.positions {
		out = append(out, broker.PositionInfo{Symbol: sym, Quantity: p.quantity, AvgPrice: p.avgPrice})
	}
	return out, nil
}
