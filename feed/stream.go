package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"smabot/market"
)

// Stream consumes a websocket push feed of bars and keeps the latest bar
// per symbol in a store the trading loop polls through Latest. The loop
// stays a poller either way; only the upstream transport changes.
type Stream struct {
	url     string
	symbols []string
	store   *market.PriceStore

	dialTimeout time.Duration
	backoff     time.Duration
}

type streamBar struct {
	Symbol string  `json:"S"`
	Time   string  `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

func NewStream(url string, symbols []string) *Stream {
	return &Stream{
		url:         url,
		symbols:     symbols,
		store:       market.NewPriceStore(),
		dialTimeout: 10 * time.Second,
		backoff:     5 * time.Second,
	}
}

// Run connects and consumes bars until ctx is cancelled, reconnecting with
// a fixed backoff on any read or dial failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", s.url).Msg("bar stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	sub := map[string]any{"action": "subscribe", "bars": s.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msgs []streamBar
		if err := json.Unmarshal(data, &msgs); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable stream message")
			continue
		}
		for _, m := range msgs {
			if m.Symbol == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, m.Time)
			if err != nil {
				log.Debug().Str("time", m.Time).Msg("skipping bar with bad timestamp")
				continue
			}
			s.store.Set(market.Bar{
				Symbol: m.Symbol,
				Time:   ts,
				Open:   m.Open,
				High:   m.High,
				Low:    m.Low,
				Close:  m.Close,
				Volume: m.Volume,
			})
		}
	}
}

// Latest returns the newest bar pushed for the symbol.
func (s *Stream) Latest(ctx context.Context, symbol string) (market.Bar, error) {
	return s.store.Get(symbol)
}
