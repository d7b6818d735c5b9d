package cmd

import (
	"fmt"

	"smabot/broker"
	"smabot/broker/alpaca"
	"smabot/broker/sim"
	"smabot/config"
	"smabot/engine"
	"smabot/journal"
	"smabot/market"
	"smabot/portfolio"
	"smabot/risk"
	"smabot/strategy"
)

func buildJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	case "csv":
		return journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	default:
		return journal.Noop{}, nil
	}
}

func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "sim":
		return sim.New(cfg.Account.Balance, sim.Options{
			SlippagePct: cfg.Broker.SlippagePct,
			Commission:  cfg.Broker.Commission,
		}), nil
	case "alpaca":
		return alpaca.NewClient(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Paper), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

// buildOptions wires the shared pipeline pieces; the caller fills in the
// mode-specific bar source.
func buildOptions(cfg *config.Config, mode engine.Mode) (engine.Options, error) {
	buf, err := market.NewSeriesBuffer(cfg.Strategy.ShortWindow, cfg.Strategy.LongWindow)
	if err != nil {
		return engine.Options{}, err
	}
	mgr, err := risk.NewManager(risk.Params{
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
		PositionSizePct: cfg.Risk.PositionSizePct,
		SizingMode:      risk.SizingMode(cfg.Risk.SizingMode),
		FixedAmount:     cfg.Risk.FixedAmount,
		MaxPositions:    cfg.Risk.MaxPositions,
	})
	if err != nil {
		return engine.Options{}, err
	}
	brk, err := buildBroker(cfg)
	if err != nil {
		return engine.Options{}, err
	}
	jnl, err := buildJournal(cfg)
	if err != nil {
		return engine.Options{}, fmt.Errorf("create journal: %w", err)
	}

	return engine.Options{
		Mode:          mode,
		Symbols:       cfg.Strategy.Symbols,
		Buffer:        buf,
		Generator:     strategy.NewSMACross(buf),
		Risk:          mgr,
		Broker:        brk,
		Ledger:        portfolio.NewLedger(cfg.Account.Balance),
		Journal:       jnl,
		SubmitTimeout: config.Duration(cfg.Engine.SubmitTimeout, 0),
	}, nil
}
