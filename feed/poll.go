package feed

import (
	"context"
	"time"

	"smabot/market"
)

// Retrying wraps a BarSource with a bounded retry and fixed backoff. Data
// source failures are recoverable: after the retries are spent, the caller
// skips the symbol's tick rather than blocking the loop.
type Retrying struct {
	Source  BarSource
	Retries int
	Backoff time.Duration
}

func (r *Retrying) Latest(ctx context.Context, symbol string) (market.Bar, error) {
	var lastErr error
	attempts := r.Retries + 1
	for i := 0; i < attempts; i++ {
		b, err := r.Source.Latest(ctx, symbol)
		if err == nil {
			return b, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return market.Bar{}, ctx.Err()
		case <-time.After(r.Backoff):
		}
	}
	return market.Bar{}, lastErr
}

// LatestBarClient is the slice of the venue's data API the poller needs.
type LatestBarClient interface {
	GetLatestBar(ctx context.Context, symbol string) (market.Bar, error)
}

// ClientSource adapts a venue data client into a BarSource.
type ClientSource struct {
	Client LatestBarClient
}

func (s *ClientSource) Latest(ctx context.Context, symbol string) (market.Bar, error) {
	return s.Client.GetLatestBar(ctx, symbol)
}
