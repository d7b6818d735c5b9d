package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smabot/broker"
	"smabot/portfolio"
)

func openPosition(symbol string, qty, entry, stop, target float64) portfolio.Position {
	return portfolio.Position{
		Symbol:        symbol,
		Quantity:      qty,
		AvgEntryPrice: entry,
		EntryTime:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		StopLoss:      stop,
		TakeProfit:    target,
	}
}

func TestScanExits(t *testing.T) {
	now := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	positions := []portfolio.Position{
		openPosition("AAPL", 100, 100, 95, 110),
		openPosition("TSLA", 50, 200, 190, 220),
		openPosition("NVDA", 10, 500, 475, 550),
	}

	t.Run("no breach", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"AAPL": 100, "TSLA": 205, "NVDA": 510}, now)
		assert.Empty(t, exits)
	})

	t.Run("stop loss breach", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"AAPL": 94.5, "TSLA": 205, "NVDA": 510}, now)
		require.Len(t, exits, 1)
		assert.Equal(t, "AAPL", exits[0].Symbol)
		assert.Equal(t, broker.Sell, exits[0].Side)
		assert.Equal(t, 100.0, exits[0].Quantity)
		assert.Equal(t, broker.ReasonStopLoss, exits[0].Reason)
		assert.Equal(t, 94.5, exits[0].Price)
	})

	t.Run("stop triggers only at or below level", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"AAPL": 95}, now)
		require.Len(t, exits, 1)
		assert.Equal(t, broker.ReasonStopLoss, exits[0].Reason)

		exits = ScanExits(positions, map[string]float64{"AAPL": 95.01}, now)
		assert.Empty(t, exits)
	})

	t.Run("take profit breach", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"TSLA": 221}, now)
		require.Len(t, exits, 1)
		assert.Equal(t, "TSLA", exits[0].Symbol)
		assert.Equal(t, broker.ReasonTakeProfit, exits[0].Reason)
	})

	t.Run("take profit triggers only at or above level", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"TSLA": 220}, now)
		require.Len(t, exits, 1)

		exits = ScanExits(positions, map[string]float64{"TSLA": 219.99}, now)
		assert.Empty(t, exits)
	})

	t.Run("stop wins when both levels breached", func(t *testing.T) {
		// A wild bar breaching both sides resolves conservatively.
		weird := []portfolio.Position{openPosition("GME", 10, 100, 120, 90)}
		exits := ScanExits(weird, map[string]float64{"GME": 95}, now)
		require.Len(t, exits, 1)
		assert.Equal(t, broker.ReasonStopLoss, exits[0].Reason)
	})

	t.Run("missing price skipped", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{}, now)
		assert.Empty(t, exits)
	})

	t.Run("multiple breaches in one scan", func(t *testing.T) {
		exits := ScanExits(positions, map[string]float64{"AAPL": 90, "TSLA": 230, "NVDA": 500}, now)
		require.Len(t, exits, 2)
	})
}
