// Package engine drives the trading loop. A Run owns one strategy pipeline
// end to end: bars in, signals through risk, orders to the broker, fills
// into the ledger. The per-tick algorithm is identical in backtest and live
// mode; only the bar source differs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"smabot/analytics"
	"smabot/broker"
	"smabot/feed"
	"smabot/internal/id"
	"smabot/journal"
	"smabot/market"
	"smabot/portfolio"
	"smabot/risk"
	"smabot/strategy"
)

// State is the run lifecycle. STOPPED and ERROR are terminal; a new run is
// started fresh rather than resumed.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

// Mode selects the bar source driving the loop.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Options assembles one run. Feed drives backtest mode; Source drives live
// mode. Everything else is shared.
type Options struct {
	RunID   string
	Mode    Mode
	Symbols []string

	Buffer    *market.SeriesBuffer
	Generator strategy.Generator
	Risk      *risk.Manager
	Broker    broker.Broker
	Ledger    *portfolio.Ledger
	Journal   journal.Journal

	// Backtest.
	Feed feed.BarFeed
	// CloseAtEnd liquidates open positions at the final bar's price.
	CloseAtEnd bool

	// Live.
	Source       feed.BarSource
	PollInterval time.Duration
	FetchTimeout time.Duration
	// SignalMaxAge discards signals older than this; zero disables the
	// check. Applied in live mode only.
	SignalMaxAge time.Duration

	SubmitTimeout time.Duration
}

func (o Options) validate() error {
	if o.Mode != ModeBacktest && o.Mode != ModeLive {
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if len(o.Symbols) == 0 {
		return errors.New("no symbols")
	}
	if o.Buffer == nil || o.Generator == nil || o.Risk == nil || o.Broker == nil || o.Ledger == nil {
		return errors.New("incomplete pipeline")
	}
	if o.Mode == ModeBacktest && o.Feed == nil {
		return errors.New("backtest mode needs a feed")
	}
	if o.Mode == ModeLive {
		if o.Source == nil {
			return errors.New("live mode needs a bar source")
		}
		if o.PollInterval <= 0 {
			return errors.New("live mode needs a poll interval")
		}
	}
	return nil
}

// Run is one execution of the trading loop with its own ledger and event
// stream. Queries are safe while the loop is running.
type Run struct {
	opts Options
	jnl  journal.Journal
	log  zerolog.Logger

	prices *market.PriceStore

	mu      sync.Mutex
	state   State
	lastErr error

	evmu     sync.Mutex
	seq      uint64
	events   chan Event
	evClosed bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// live bar dedupe, loop goroutine only
	lastBar map[string]time.Time
}

// NewRun wires a run in IDLE state.
func NewRun(opts Options) (*Run, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("run options: %w", err)
	}
	jnl := opts.Journal
	if jnl == nil {
		jnl = journal.Noop{}
	}
	return &Run{
		opts:    opts,
		jnl:     jnl,
		log:     log.With().Str("run_id", opts.RunID).Str("mode", string(opts.Mode)).Logger(),
		prices:  market.NewPriceStore(),
		state:   StateIdle,
		events:  make(chan Event, eventBuffer),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		lastBar: make(map[string]time.Time),
	}, nil
}

func (r *Run) ID() string { return r.opts.RunID }

// Start launches the loop goroutine. It may be called once per Run.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("cannot start run in state %s", st)
	}
	r.state = StateRunning
	r.mu.Unlock()

	r.emit(Event{Time: time.Now(), Type: EventState, State: StateRunning})
	r.log.Info().Strs("symbols", r.opts.Symbols).Msg("run started")

	go r.loop(ctx)
	return nil
}

// Stop requests a cooperative stop. The in-flight tick completes, including
// any order already submitted, before the run transitions to STOPPED.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		if r.state == StateRunning {
			r.state = StateStopping
			r.mu.Unlock()
			r.emit(Event{Time: time.Now(), Type: EventState, State: StateStopping})
			r.log.Info().Msg("stop requested")
		} else {
			r.mu.Unlock()
		}
		close(r.stopCh)
	})
}

// Wait blocks until the run reaches a terminal state.
func (r *Run) Wait() { <-r.done }

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastErr returns the error that moved the run to ERROR, if any.
func (r *Run) LastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Account returns the ledger's account snapshot.
func (r *Run) Account() portfolio.Account { return r.opts.Ledger.AccountSnapshot() }

// Positions returns the open positions ordered by symbol.
func (r *Run) Positions() []portfolio.Position { return r.opts.Ledger.OpenPositions() }

// Trades returns the closed trades in close order.
func (r *Run) Trades() []portfolio.Trade { return r.opts.Ledger.TradeHistory() }

// Performance computes analytics over the run's history so far.
func (r *Run) Performance() analytics.Report {
	l := r.opts.Ledger
	return analytics.Compute(l.TradeHistory(), l.Snapshots(), l.InitialCash(), l.AccountSnapshot().Equity)
}

func (r *Run) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Run) finish(terminal State) {
	r.mu.Lock()
	r.state = terminal
	r.mu.Unlock()
	r.emit(Event{Time: time.Now(), Type: EventState, State: terminal})
	r.log.Info().Str("state", string(terminal)).Msg("run finished")
	r.closeEvents()
	close(r.done)
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	r.state = StateError
	r.lastErr = err
	r.mu.Unlock()
	r.emit(Event{Time: time.Now(), Type: EventError, Err: err.Error()})
	r.emit(Event{Time: time.Now(), Type: EventState, State: StateError})
	r.log.Error().Err(err).Msg("run failed")
	r.closeEvents()
	close(r.done)
}

func (r *Run) loop(ctx context.Context) {
	var err error
	switch r.opts.Mode {
	case ModeBacktest:
		err = r.replay(ctx)
	case ModeLive:
		err = r.poll(ctx)
	}
	if err != nil {
		r.fail(err)
		return
	}
	r.finish(StateStopped)
}

// replay drives the loop from a deterministic feed, one bar per tick.
func (r *Run) replay(ctx context.Context) error {
	defer r.opts.Feed.Close()

	var lastTime time.Time
	var lastDay time.Time
	exhausted := false

	for {
		if ctx.Err() != nil || r.stopping() {
			break
		}

		bar, ok, err := r.opts.Feed.Next()
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		if !ok {
			exhausted = true
			break
		}

		day := bar.Time.UTC().Truncate(24 * time.Hour)
		if !lastDay.IsZero() && day.After(lastDay) {
			r.snapshot(lastTime)
		}
		lastDay = day
		lastTime = bar.Time

		if err := r.tick(ctx, bar, false); err != nil {
			return err
		}
	}

	if r.opts.CloseAtEnd && exhausted && !lastTime.IsZero() {
		if err := r.closeAll(ctx, lastTime); err != nil {
			return err
		}
	}
	if !lastTime.IsZero() {
		r.snapshot(lastTime)
	}
	return nil
}

// poll drives the loop from a latest-bar source. Fetches run concurrently
// per symbol; ledger mutation stays serialized in this goroutine.
func (r *Run) poll(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case <-ticker.C:
		}

		bars := r.fetchAll(ctx)
		for _, bar := range bars {
			if prev, ok := r.lastBar[bar.Symbol]; ok && !bar.Time.After(prev) {
				continue
			}
			r.lastBar[bar.Symbol] = bar.Time

			if err := r.tick(ctx, bar, true); err != nil {
				return err
			}
		}
		r.snapshot(time.Now())
	}
}

func (r *Run) fetchAll(ctx context.Context) []market.Bar {
	results := make([]*market.Bar, len(r.opts.Symbols))

	var wg sync.WaitGroup
	for i, sym := range r.opts.Symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()

			fctx := ctx
			if r.opts.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
				defer cancel()
			}
			bar, err := r.opts.Source.Latest(fctx, sym)
			if err != nil {
				r.log.Warn().Err(err).Str("symbol", sym).Msg("bar fetch failed, skipping tick")
				return
			}
			results[i] = &bar
		}(i, sym)
	}
	wg.Wait()

	bars := make([]market.Bar, 0, len(results))
	for _, b := range results {
		if b != nil {
			bars = append(bars, *b)
		}
	}
	return bars
}

// tick runs the shared per-bar algorithm: mark to market, forced exits
// first, then the signal path for the bar's symbol.
func (r *Run) tick(ctx context.Context, bar market.Bar, live bool) error {
	r.opts.Buffer.Update(bar)
	r.prices.Set(bar)

	prices := r.prices.Latest()
	r.opts.Ledger.MarkToMarket(prices)

	exited := make(map[string]bool)
	for _, o := range risk.ScanExits(r.opts.Ledger.OpenPositions(), prices, bar.Time) {
		if err := r.execute(ctx, o); err != nil {
			return err
		}
		exited[o.Symbol] = true
	}

	sig := r.opts.Generator.Evaluate(bar.Symbol)
	if sig == nil {
		return nil
	}
	if live && sig.Stale(time.Now(), r.opts.SignalMaxAge) {
		r.log.Info().Str("symbol", sig.Symbol).Time("signal_time", sig.Time).Msg("discarding stale signal")
		return nil
	}
	r.emit(Event{Time: sig.Time, Type: EventSignal, Signal: sig})
	r.log.Debug().Str("symbol", sig.Symbol).Str("direction", string(sig.Direction)).Str("reason", sig.Reason).Msg("signal")

	if exited[sig.Symbol] {
		// The forced exit already acted on this symbol this tick.
		return nil
	}

	acct := r.opts.Ledger.AccountSnapshot()
	var existing *portfolio.Position
	if pos, ok := r.opts.Ledger.Position(sig.Symbol); ok {
		existing = &pos
	}
	order, veto := r.opts.Risk.SizeAndApprove(sig, acct, existing, len(r.opts.Ledger.OpenPositions()))
	if veto != nil {
		r.log.Info().Str("symbol", sig.Symbol).Str("veto", string(veto.Code)).Str("detail", veto.Detail).Msg("signal vetoed")
		return nil
	}
	return r.execute(ctx, order)
}

// execute submits one approved order and books the fill. A rejection means
// no position change; it is logged and dropped, never retried.
func (r *Run) execute(ctx context.Context, o broker.Order) error {
	sctx := ctx
	if r.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.opts.SubmitTimeout)
		defer cancel()
	}

	fill, err := r.opts.Broker.SubmitOrder(sctx, o)
	if err != nil {
		r.log.Warn().Err(err).Str("order_id", o.ID).Str("symbol", o.Symbol).Msg("order not filled, dropping intent")
		return nil
	}

	closed, err := r.opts.Ledger.ApplyFill(fill)
	if err != nil {
		if errors.Is(err, portfolio.ErrInconsistent) {
			return err
		}
		r.log.Error().Err(err).Str("order_id", o.ID).Msg("ledger refused fill")
		return nil
	}

	r.emit(Event{Time: fill.Time, Type: EventFill, Fill: &fill})
	r.log.Info().
		Str("symbol", fill.Symbol).
		Str("side", string(fill.Side)).
		Float64("qty", fill.Quantity).
		Float64("price", fill.Price).
		Str("reason", fill.Reason).
		Msg("fill")

	if closed != nil {
		rec := journal.TradeRecord{
			TradeID:    closed.ID,
			RunID:      r.opts.RunID,
			Symbol:     closed.Symbol,
			Quantity:   closed.Quantity,
			EntryPrice: closed.EntryPrice,
			ExitPrice:  closed.ExitPrice,
			EntryTime:  closed.EntryTime,
			ExitTime:   closed.ExitTime,
			PnL:        closed.PnL,
			Reason:     closed.ExitReason,
		}
		if err := r.jnl.RecordTrade(rec); err != nil {
			r.log.Warn().Err(err).Str("trade_id", closed.ID).Msg("journal write failed")
		}
	}
	return nil
}

// closeAll liquidates remaining open positions at their last known price.
func (r *Run) closeAll(ctx context.Context, now time.Time) error {
	prices := r.prices.Latest()
	for _, pos := range r.opts.Ledger.OpenPositions() {
		px, ok := prices[pos.Symbol]
		if !ok {
			px = pos.AvgEntryPrice
		}
		o := broker.Order{
			ID:       id.New(),
			Symbol:   pos.Symbol,
			Side:     broker.Sell,
			Quantity: pos.Quantity,
			Price:    px,
			Time:     now,
			Reason:   broker.ReasonEndOfData,
		}
		if err := r.execute(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) snapshot(t time.Time) {
	snap := r.opts.Ledger.AppendSnapshot(t)
	rec := journal.EquityRecord{
		RunID:    r.opts.RunID,
		Time:     snap.Time,
		Balance:  snap.Balance,
		Cash:     r.opts.Ledger.AccountSnapshot().Cash,
		DailyPnL: snap.DailyPnL,
	}
	if err := r.jnl.RecordEquity(rec); err != nil {
		r.log.Warn().Err(err).Msg("equity journal write failed")
	}
}
