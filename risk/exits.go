package risk

import (
	"time"

	"smabot/broker"
	"smabot/internal/id"
	"smabot/portfolio"
)

// ScanExits compares each open position's latest price against its stop and
// target levels and returns forced exit orders for any breach. It runs
// every tick, independently of the signal generator, and its exits take
// priority over new entries for the same symbol within the tick.
//
// The stop wins when a single bar breaches both levels.
func ScanExits(positions []portfolio.Position, prices map[string]float64, now time.Time) []broker.Order {
	var exits []broker.Order
	for _, pos := range positions {
		px, ok := prices[pos.Symbol]
		if !ok {
			continue
		}

		reason := ""
		switch {
		case pos.StopLoss > 0 && px <= pos.StopLoss:
			reason = broker.ReasonStopLoss
		case pos.TakeProfit > 0 && px >= pos.TakeProfit:
			reason = broker.ReasonTakeProfit
		}
		if reason == "" {
			continue
		}

		exits = append(exits, broker.Order{
			ID:       id.New(),
			Symbol:   pos.Symbol,
			Side:     broker.Sell,
			Quantity: pos.Quantity,
			Price:    px,
			Time:     now,
			Reason:   reason,
		})
	}
	return exits
}
