// Package feed provides the bar sources the trading loop consumes: a
// deterministic replay feed for backtests and polling sources for live
// runs.
package feed

import (
	"context"
	"errors"

	"smabot/market"
)

// ErrEndOfData signals a replay feed is exhausted.
var ErrEndOfData = errors.New("end of data")

// BarFeed yields bars one at a time in timestamp order. Implementations
// must be deterministic and return ok=false at end of data.
type BarFeed interface {
	Next() (b market.Bar, ok bool, err error)
	Close() error
}

// BarSource answers "what is the latest bar for this symbol"; live mode
// polls it each iteration. Implementations must honor ctx deadlines.
type BarSource interface {
	Latest(ctx context.Context, symbol string) (market.Bar, error)
}

// Slice is an in-memory BarFeed, mostly for tests and small fixtures.
type Slice struct {
	bars []market.Bar
	idx  int
}

func NewSlice(bars []market.Bar) *Slice {
	return &Slice{bars: bars}
}

func (s *Slice) Next() (market.Bar, bool, error) {
	if s.idx >= len(s.bars) {
		return market.Bar{}, false, nil
	}
	b := s.bars[s.idx]
	s.idx++
	return b, true, nil
}

func (s *Slice) Close() error { return nil }
