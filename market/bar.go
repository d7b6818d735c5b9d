package market

import (
	"errors"
	"sync"
	"time"
)

// Bar is a single OHLCV price bar for one symbol. Bars are produced by a
// data source, never mutated, and arrive in timestamp order per symbol.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceStore keeps the latest known bar per symbol. It is safe for
// concurrent use; live mode writes from fetch goroutines and the loop reads.
type PriceStore struct {
	mu   sync.RWMutex
	bars map[string]Bar
}

func NewPriceStore() *PriceStore {
	return &PriceStore{bars: make(map[string]Bar)}
}

func (ps *PriceStore) Set(b Bar) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.bars[b.Symbol] = b
}

func (ps *PriceStore) Get(symbol string) (Bar, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	b, ok := ps.bars[symbol]
	if !ok {
		return Bar{}, errors.New("price not found")
	}
	return b, nil
}

// Latest returns the latest close for every symbol in the store.
func (ps *PriceStore) Latest() map[string]float64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]float64, len(ps.bars))
	for sym, b := range ps.bars {
		out[sym] = b.Close
	}
	return out
}
