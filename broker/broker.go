package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Exit reasons carried on orders and fills.
const (
	ReasonSignal     = "signal"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonEndOfData  = "end_of_data"
)

// Order is a risk-approved market order. Price is the reference price the
// order was sized against; simulated fills happen at it (plus slippage).
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Time       time.Time
	Reason     string
}

// Fill confirms an order executed in full.
type Fill struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	Commission float64
	StopLoss   float64
	TakeProfit float64
	Time       time.Time
	Reason     string
}

// AccountInfo is the venue's view of the account. The ledger remains the
// authoritative record; this mirror exists for reconciliation and display.
type AccountInfo struct {
	ID          string
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// PositionInfo is the venue's view of one open position.
type PositionInfo struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// ErrRejected wraps venue-side order rejections, including partial or
// delayed fills. Callers must treat a rejected order as "no position
// change" and never retry automatically: the venue state is ambiguous and a
// retry risks a duplicate fill.
var ErrRejected = errors.New("order rejected")

// OrderError describes why the venue refused (or failed to fully fill)
// an order.
type OrderError struct {
	OrderID string
	Symbol  string
	Detail  string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s: %s", e.OrderID, e.Symbol, e.Detail)
}

func (e *OrderError) Unwrap() error { return ErrRejected }

// Broker is the execution port: everything the trading loop needs from a
// venue. Implementations are substitutable in tests; the loop never cares
// whether fills are simulated or live.
type Broker interface {
	SubmitOrder(ctx context.Context, o Order) (Fill, error)
	GetAccount(ctx context.Context) (AccountInfo, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
}
