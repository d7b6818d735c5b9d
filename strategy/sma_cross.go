package strategy

import (
	"fmt"
	"time"

	"smabot/market"
)

// SMACross detects golden and death crosses from a SeriesBuffer.
//
//   - BUY when the short SMA crosses above the long SMA
//   - SELL when the short SMA crosses below the long SMA
//
// Evaluate is edge-triggered: it compares the previous SMA pair against the
// current one, so a sustained short>long regime yields no further signals.
// Re-evaluating the same bar (live mode may poll an unchanged bar) also
// yields nothing.
type SMACross struct {
	buf *market.SeriesBuffer

	lastEmit map[string]time.Time // bar time of the last emitted signal
}

func NewSMACross(buf *market.SeriesBuffer) *SMACross {
	return &SMACross{
		buf:      buf,
		lastEmit: make(map[string]time.Time),
	}
}

func (s *SMACross) Evaluate(symbol string) *Signal {
	st, err := s.buf.State(symbol)
	if err != nil {
		return nil
	}

	bar, ok := s.buf.Last(symbol)
	if !ok {
		return nil
	}

	// Already emitted for this bar; the cross edge is consumed.
	if prev, ok := s.lastEmit[symbol]; ok && !bar.Time.After(prev) {
		return nil
	}

	golden := st.PrevShort <= st.PrevLong && st.Short > st.Long
	death := st.PrevShort >= st.PrevLong && st.Short < st.Long

	var sig *Signal
	switch {
	case golden:
		sig = &Signal{
			Symbol:    symbol,
			Time:      bar.Time,
			Direction: Buy,
			Price:     bar.Close,
			Short:     st.Short,
			Long:      st.Long,
			Reason: fmt.Sprintf("golden cross: SMA%d(%.2f) > SMA%d(%.2f)",
				st.ShortWindow, st.Short, st.LongWindow, st.Long),
		}
	case death:
		sig = &Signal{
			Symbol:    symbol,
			Time:      bar.Time,
			Direction: Sell,
			Price:     bar.Close,
			Short:     st.Short,
			Long:      st.Long,
			Reason: fmt.Sprintf("death cross: SMA%d(%.2f) < SMA%d(%.2f)",
				st.ShortWindow, st.Short, st.LongWindow, st.Long),
		}
	default:
		return nil
	}

	s.lastEmit[symbol] = bar.Time
	return sig
}
