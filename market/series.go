package market

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned until a symbol has seen at least
// longWindow+1 bars, the minimum needed for a previous/current SMA pair.
var ErrInsufficientData = errors.New("insufficient data")

// SMAState is the current and previous short/long SMA pair for one symbol.
// Crossover detection compares the previous pair against the current one.
type SMAState struct {
	Symbol      string
	Short       float64
	Long        float64
	PrevShort   float64
	PrevLong    float64
	ShortWindow int
	LongWindow  int
}

// SeriesBuffer maintains a rolling window of bars per symbol and recomputes
// short and long simple moving averages with O(1) sliding sums on each
// update. It is not safe for concurrent use; the trading loop is the only
// writer.
type SeriesBuffer struct {
	shortWindow int
	longWindow  int
	series      map[string]*symbolSeries
}

type symbolSeries struct {
	win  []float64 // ring of the last longWindow closes
	head int
	seen int64

	shortSum float64
	longSum  float64

	short     float64
	long      float64
	prevShort float64
	prevLong  float64

	last Bar
}

func NewSeriesBuffer(shortWindow, longWindow int) (*SeriesBuffer, error) {
	if shortWindow <= 0 || longWindow <= 0 {
		return nil, fmt.Errorf("windows must be positive, got %d/%d", shortWindow, longWindow)
	}
	if shortWindow >= longWindow {
		return nil, fmt.Errorf("short window %d must be less than long window %d", shortWindow, longWindow)
	}
	return &SeriesBuffer{
		shortWindow: shortWindow,
		longWindow:  longWindow,
		series:      make(map[string]*symbolSeries),
	}, nil
}

// Update feeds one bar into the symbol's window and slides both SMA sums.
func (sb *SeriesBuffer) Update(b Bar) {
	s, ok := sb.series[b.Symbol]
	if !ok {
		s = &symbolSeries{win: make([]float64, sb.longWindow)}
		sb.series[b.Symbol] = s
	}

	c := b.Close

	// The slot at head holds the value falling out of the long window.
	if s.seen >= int64(sb.longWindow) {
		s.longSum -= s.win[s.head]
	}
	// The value written shortWindow updates ago falls out of the short window.
	if s.seen >= int64(sb.shortWindow) {
		idx := (s.head - sb.shortWindow + 2*sb.longWindow) % sb.longWindow
		s.shortSum -= s.win[idx]
	}

	s.win[s.head] = c
	s.head = (s.head + 1) % sb.longWindow
	s.shortSum += c
	s.longSum += c
	s.seen++
	s.last = b

	if s.seen >= int64(sb.longWindow) {
		s.prevShort, s.prevLong = s.short, s.long
		s.short = s.shortSum / float64(sb.shortWindow)
		s.long = s.longSum / float64(sb.longWindow)
	}
}

// State returns the current and previous SMA pair for the symbol.
// It returns ErrInsufficientData until longWindow+1 bars have been seen,
// since a crossover needs both a current and a previous pair.
func (sb *SeriesBuffer) State(symbol string) (SMAState, error) {
	s, ok := sb.series[symbol]
	if !ok || s.seen < int64(sb.longWindow)+1 {
		return SMAState{}, ErrInsufficientData
	}
	return SMAState{
		Symbol:      symbol,
		Short:       s.short,
		Long:        s.long,
		PrevShort:   s.prevShort,
		PrevLong:    s.prevLong,
		ShortWindow: sb.shortWindow,
		LongWindow:  sb.longWindow,
	}, nil
}

// Last returns the most recent bar seen for the symbol.
func (sb *SeriesBuffer) Last(symbol string) (Bar, bool) {
	s, ok := sb.series[symbol]
	if !ok || s.seen == 0 {
		return Bar{}, false
	}
	return s.last, true
}
