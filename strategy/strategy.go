package strategy

import (
	"time"
)

// Direction is the side of a trade intent.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Signal is a directional trade intent produced on a crossing edge.
// One signal is emitted per crossing event; the generator will not re-emit
// until the averages cross back.
type Signal struct {
	Symbol    string
	Time      time.Time
	Direction Direction
	Price     float64
	Short     float64
	Long      float64
	Reason    string
}

// Stale reports whether the signal is older than maxAge relative to now.
// Live mode discards stale signals rather than acting on crossovers that
// happened during a polling gap. A maxAge of zero disables the check.
func (s *Signal) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.Time) > maxAge
}

// Generator evaluates one symbol and returns a fresh signal or nil.
type Generator interface {
	Evaluate(symbol string) *Signal
}
