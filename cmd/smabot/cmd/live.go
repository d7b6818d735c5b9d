package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"smabot/analytics"
	"smabot/broker/alpaca"
	"smabot/config"
	"smabot/engine"
	"smabot/feed"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the strategy against live market data",
	Long: `Poll live bars for the configured symbols and trade the crossover
strategy through the configured broker. The run stops cleanly on SIGINT
or SIGTERM, finishing any in-flight order first.

Example:
  smabot live -f config.yaml`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cfg, engine.ModeLive)
	if err != nil {
		return err
	}
	defer opts.Journal.Close()
	opts.Source = source
	opts.PollInterval = config.Duration(cfg.Engine.PollInterval, time.Minute)
	opts.FetchTimeout = config.Duration(cfg.Engine.FetchTimeout, 10*time.Second)
	opts.SignalMaxAge = config.Duration(cfg.Engine.SignalMaxAge, 5*time.Minute)

	run, err := engine.NewRun(opts)
	if err != nil {
		return err
	}
	if err := run.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		run.Stop()
	}()

	run.Wait()
	if err := run.LastErr(); err != nil {
		return fmt.Errorf("live run failed: %w", err)
	}

	analytics.PrintReport(os.Stdout, run.Performance())
	return nil
}

// buildSource assembles the live bar source, with retries applied the same
// way regardless of the upstream transport.
func buildSource(ctx context.Context, cfg *config.Config) (feed.BarSource, error) {
	var upstream feed.BarSource
	switch cfg.Data.Provider {
	case "alpaca":
		client := alpaca.NewClient(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Paper)
		upstream = &feed.ClientSource{Client: client}
	case "stream":
		stream := feed.NewStream(cfg.Data.StreamURL, cfg.Strategy.Symbols)
		go stream.Run(ctx)
		upstream = stream
	default:
		return nil, fmt.Errorf("data provider %q cannot drive a live run", cfg.Data.Provider)
	}

	return &feed.Retrying{
		Source:  upstream,
		Retries: cfg.Engine.FetchRetries,
		Backoff: config.Duration(cfg.Engine.RetryBackoff, 2*time.Second),
	}, nil
}
