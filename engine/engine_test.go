package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smabot/broker"
	"smabot/broker/sim"
	"smabot/feed"
	"smabot/market"
	"smabot/portfolio"
	"smabot/risk"
	"smabot/strategy"
)

var t0 = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func bars(symbol string, closes []float64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{
			Symbol: symbol,
			Time:   t0.Add(time.Duration(i) * time.Minute),
			Open:   c, High: c, Low: c, Close: c,
			Volume: 1000,
		}
	}
	return out
}

func interleave(seqs ...[]market.Bar) []market.Bar {
	var out []market.Bar
	for i := 0; ; i++ {
		any := false
		for _, s := range seqs {
			if i < len(s) {
				out = append(out, s[i])
				any = true
			}
		}
		if !any {
			return out
		}
	}
}

type pipeline struct {
	ledger *portfolio.Ledger
	run    *Run
}

func backtest(t *testing.T, symbols []string, feedBars []market.Bar, params risk.Params, cash float64, closeAtEnd bool) *pipeline {
	t.Helper()

	buf, err := market.NewSeriesBuffer(2, 3)
	require.NoError(t, err)
	mgr, err := risk.NewManager(params)
	require.NoError(t, err)
	ledger := portfolio.NewLedger(cash)

	run, err := NewRun(Options{
		RunID:      "test-run",
		Mode:       ModeBacktest,
		Symbols:    symbols,
		Buffer:     buf,
		Generator:  strategy.NewSMACross(buf),
		Risk:       mgr,
		Broker:     sim.New(cash, sim.Options{}),
		Ledger:     ledger,
		Feed:       feed.NewSlice(feedBars),
		CloseAtEnd: closeAtEnd,
	})
	require.NoError(t, err)
	require.NoError(t, run.Start(context.Background()))
	run.Wait()
	return &pipeline{ledger: ledger, run: run}
}

func wideParams() risk.Params {
	// Stop and target far enough away that only crossover signals trade.
	return risk.Params{
		StopLossPct:     0.5,
		TakeProfitPct:   10,
		PositionSizePct: 0.25,
		SizingMode:      risk.SizePercent,
		MaxPositions:    3,
	}
}

func TestBacktestCrossoverRoundTrip(t *testing.T) {
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{10, 10, 10, 12, 14, 9, 8}), wideParams(), 100_000, false)

	require.Equal(t, StateStopped, p.run.State())
	require.NoError(t, p.run.LastErr())

	trades := p.run.Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "AAPL", tr.Symbol)
	assert.Equal(t, 12.0, tr.EntryPrice)
	assert.Equal(t, 9.0, tr.ExitPrice)
	assert.Equal(t, broker.ReasonSignal, tr.ExitReason)

	// floor(100000 * 0.25 / 12) shares, pnl = (9 - 12) * qty
	assert.Equal(t, 2083.0, tr.Quantity)
	assert.Equal(t, -3*2083.0, tr.PnL)

	assert.Empty(t, p.run.Positions())

	acct := p.run.Account()
	assert.InDelta(t, 100_000-3*2083.0, acct.Equity, 1e-6)
}

func TestBacktestFlatSeriesTradesNothing(t *testing.T) {
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{50, 50, 50, 50, 50, 50, 50, 50}), wideParams(), 100_000, false)

	assert.Equal(t, StateStopped, p.run.State())
	assert.Empty(t, p.run.Trades())
	assert.Empty(t, p.run.Positions())
	assert.Equal(t, 100_000.0, p.run.Account().Equity)
}

func TestBacktestStopLossExit(t *testing.T) {
	params := wideParams()
	params.StopLossPct = 0.05
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{100, 100, 100, 110, 120, 90}), params, 100_000, false)

	trades := p.run.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, broker.ReasonStopLoss, trades[0].ExitReason)
	assert.Equal(t, 110.0, trades[0].EntryPrice)
	assert.Equal(t, 90.0, trades[0].ExitPrice)
	assert.LessOrEqual(t, trades[0].ExitPrice, 110*0.95)
	assert.Empty(t, p.run.Positions())
}

func TestBacktestTakeProfitExit(t *testing.T) {
	params := wideParams()
	params.StopLossPct = 0.05
	params.TakeProfitPct = 0.10
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{100, 100, 100, 110, 125}), params, 100_000, false)

	trades := p.run.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, broker.ReasonTakeProfit, trades[0].ExitReason)
	assert.GreaterOrEqual(t, trades[0].ExitPrice, 110*1.10)
	assert.Positive(t, trades[0].PnL)
}

func TestBacktestCloseAtEnd(t *testing.T) {
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{100, 100, 100, 110, 120}), wideParams(), 100_000, true)

	trades := p.run.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, broker.ReasonEndOfData, trades[0].ExitReason)
	assert.Equal(t, 120.0, trades[0].ExitPrice)
	assert.Empty(t, p.run.Positions())
}

func TestBacktestMaxPositions(t *testing.T) {
	params := wideParams()
	params.MaxPositions = 2
	params.PositionSizePct = 0.1

	closes := []float64{100, 100, 100, 110, 120}
	all := interleave(
		bars("AAA", closes),
		bars("BBB", closes),
		bars("CCC", closes),
	)
	p := backtest(t, []string{"AAA", "BBB", "CCC"}, all, params, 100_000, false)

	require.Equal(t, StateStopped, p.run.State())
	positions := p.run.Positions()
	assert.Len(t, positions, 2)
	assert.Equal(t, "AAA", positions[0].Symbol)
	assert.Equal(t, "BBB", positions[1].Symbol)
}

func TestBacktestDeterminism(t *testing.T) {
	closes := make([]float64, 0, 120)
	px := 100.0
	for i := 0; i < 120; i++ {
		// deterministic zig-zag walk with regime changes
		step := float64((i*7)%13) - 6
		if (i/15)%2 == 1 {
			step = -step
		}
		px += step
		if px < 20 {
			px = 20
		}
		closes = append(closes, px)
	}

	params := wideParams()
	params.StopLossPct = 0.05
	params.TakeProfitPct = 0.10

	run := func() *pipeline {
		return backtest(t, []string{"AAPL"}, bars("AAPL", closes), params, 100_000, true)
	}
	a, b := run(), run()

	ta, tb := a.run.Trades(), b.run.Trades()
	require.Equal(t, len(ta), len(tb))
	for i := range ta {
		// IDs are freshly minted per run; everything else must match.
		ta[i].ID = ""
		tb[i].ID = ""
		assert.Equal(t, ta[i], tb[i])
	}
	assert.Equal(t, a.ledger.Snapshots(), b.ledger.Snapshots())
	assert.Equal(t, a.run.Account(), b.run.Account())
}

func TestBacktestSnapshotPerDay(t *testing.T) {
	day1 := bars("AAPL", []float64{100, 100, 100, 100})
	day2 := bars("AAPL", []float64{100, 100})
	for i := range day2 {
		day2[i].Time = day2[i].Time.Add(24 * time.Hour)
	}
	p := backtest(t, []string{"AAPL"}, append(day1, day2...), wideParams(), 100_000, false)

	snaps := p.ledger.Snapshots()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Time.Equal(day1[len(day1)-1].Time))
	assert.True(t, snaps[1].Time.Equal(day2[len(day2)-1].Time))
}

type rejectingBroker struct{}

func (rejectingBroker) SubmitOrder(ctx context.Context, o broker.Order) (broker.Fill, error) {
	return broker.Fill{}, &broker.OrderError{OrderID: o.ID, Symbol: o.Symbol, Detail: "venue says no"}
}
func (rejectingBroker) GetAccount(ctx context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{}, nil
}
func (rejectingBroker) GetPositions(ctx context.Context) ([]broker.PositionInfo, error) {
	return nil, nil
}

func TestRejectedOrderIsDroppedNotFatal(t *testing.T) {
	buf, err := market.NewSeriesBuffer(2, 3)
	require.NoError(t, err)
	mgr, err := risk.NewManager(wideParams())
	require.NoError(t, err)
	ledger := portfolio.NewLedger(100_000)

	run, err := NewRun(Options{
		RunID:     "rejects",
		Mode:      ModeBacktest,
		Symbols:   []string{"AAPL"},
		Buffer:    buf,
		Generator: strategy.NewSMACross(buf),
		Risk:      mgr,
		Broker:    rejectingBroker{},
		Ledger:    ledger,
		Feed:      feed.NewSlice(bars("AAPL", []float64{10, 10, 10, 12, 14})),
	})
	require.NoError(t, err)
	require.NoError(t, run.Start(context.Background()))
	run.Wait()

	assert.Equal(t, StateStopped, run.State())
	assert.NoError(t, run.LastErr())
	assert.Empty(t, run.Positions())
	assert.Empty(t, run.Trades())
	assert.Equal(t, 100_000.0, run.Account().Equity)
}

func TestEventStreamOrdered(t *testing.T) {
	p := backtest(t, []string{"AAPL"}, bars("AAPL", []float64{10, 10, 10, 12, 14, 9, 8}), wideParams(), 100_000, false)

	var events []Event
	for ev := range p.run.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	var lastSeq uint64
	counts := map[EventType]int{}
	for _, ev := range events {
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
		counts[ev.Type]++
	}
	assert.Equal(t, 2, counts[EventSignal])
	assert.Equal(t, 2, counts[EventFill])
	assert.Equal(t, StateRunning, events[0].State)
	assert.Equal(t, StateStopped, events[len(events)-1].State)
}

func TestStartTwiceFails(t *testing.T) {
	buf, _ := market.NewSeriesBuffer(2, 3)
	mgr, _ := risk.NewManager(wideParams())

	run, err := NewRun(Options{
		RunID:     "once",
		Mode:      ModeBacktest,
		Symbols:   []string{"AAPL"},
		Buffer:    buf,
		Generator: strategy.NewSMACross(buf),
		Risk:      mgr,
		Broker:    sim.New(1000, sim.Options{}),
		Ledger:    portfolio.NewLedger(1000),
		Feed:      feed.NewSlice(nil),
	})
	require.NoError(t, err)
	require.NoError(t, run.Start(context.Background()))
	assert.Error(t, run.Start(context.Background()))
	run.Wait()
}

func TestOptionsValidation(t *testing.T) {
	buf, _ := market.NewSeriesBuffer(2, 3)
	mgr, _ := risk.NewManager(wideParams())

	base := Options{
		RunID:     "v",
		Mode:      ModeBacktest,
		Symbols:   []string{"AAPL"},
		Buffer:    buf,
		Generator: strategy.NewSMACross(buf),
		Risk:      mgr,
		Broker:    sim.New(1000, sim.Options{}),
		Ledger:    portfolio.NewLedger(1000),
		Feed:      feed.NewSlice(nil),
	}

	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"bad mode", func(o *Options) { o.Mode = "paper" }},
		{"no symbols", func(o *Options) { o.Symbols = nil }},
		{"no broker", func(o *Options) { o.Broker = nil }},
		{"backtest without feed", func(o *Options) { o.Feed = nil }},
		{"live without source", func(o *Options) { o.Mode = ModeLive; o.PollInterval = time.Second }},
		{"live without interval", func(o *Options) {
			o.Mode = ModeLive
			o.Source = &scriptedSource{}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base
			tc.mutate(&opts)
			_, err := NewRun(opts)
			assert.Error(t, err)
		})
	}
}

// scriptedSource hands out a fixed bar sequence, repeating the last bar
// once exhausted, the way a real latest-bar endpoint would off-hours.
type scriptedSource struct {
	bars []market.Bar
	idx  int
}

func (s *scriptedSource) Latest(ctx context.Context, symbol string) (market.Bar, error) {
	if len(s.bars) == 0 {
		return market.Bar{}, fmt.Errorf("no bar for %s", symbol)
	}
	b := s.bars[s.idx]
	if s.idx < len(s.bars)-1 {
		s.idx++
	}
	return b, nil
}

func TestLiveModePollsAndTrades(t *testing.T) {
	buf, err := market.NewSeriesBuffer(2, 3)
	require.NoError(t, err)
	mgr, err := risk.NewManager(wideParams())
	require.NoError(t, err)
	ledger := portfolio.NewLedger(100_000)

	src := &scriptedSource{bars: bars("AAPL", []float64{10, 10, 10, 12, 14})}
	run, err := NewRun(Options{
		RunID:        "live",
		Mode:         ModeLive,
		Symbols:      []string{"AAPL"},
		Buffer:       buf,
		Generator:    strategy.NewSMACross(buf),
		Risk:         mgr,
		Broker:       sim.New(100_000, sim.Options{}),
		Ledger:       ledger,
		Source:       src,
		PollInterval: time.Millisecond,
		FetchTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, run.Start(context.Background()))

	deadline := time.After(5 * time.Second)
	for len(run.Positions()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no position opened before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	run.Stop()
	run.Wait()
	assert.Equal(t, StateStopped, run.State())

	positions := run.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 12.0, positions[0].AvgEntryPrice)
	assert.NotEmpty(t, ledger.Snapshots())
}

func TestRegistry(t *testing.T) {
	buf, _ := market.NewSeriesBuffer(2, 3)
	mgr, _ := risk.NewManager(wideParams())

	reg := NewRegistry()
	run, err := reg.StartRun(context.Background(), Options{
		Mode:      ModeBacktest,
		Symbols:   []string{"AAPL"},
		Buffer:    buf,
		Generator: strategy.NewSMACross(buf),
		Risk:      mgr,
		Broker:    sim.New(1000, sim.Options{}),
		Ledger:    portfolio.NewLedger(1000),
		Feed:      feed.NewSlice(bars("AAPL", []float64{10, 10})),
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID())

	got, ok := reg.Get(run.ID())
	require.True(t, ok)
	assert.Same(t, run, got)

	require.NoError(t, reg.StopRun(run.ID()))
	assert.Equal(t, StateStopped, run.State())

	assert.Error(t, reg.StopRun("nope"))
	assert.Len(t, reg.List(), 1)
}
