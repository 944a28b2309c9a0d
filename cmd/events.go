package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/events"
	"github.com/sells-group/pulse-cli/internal/resilience"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Relay protocol events from the outbox",
}

var eventsFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Publish pending outbox events to the configured driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("driver", cfg.Events.Driver))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pub, err := events.NewPublisher(cfg.Events, log)
		if err != nil {
			return err
		}
		defer pub.Close() //nolint:errcheck

		ec := cfg.Events
		relay := events.NewRelay(st, pub,
			events.WithBatchSize(ec.BatchSize),
			events.WithPolicy(resilience.PolicyFrom(ec.Retry.MaxAttempts, ec.Retry.InitialBackoffMs, ec.Retry.MaxBackoffMs)),
			events.WithBreaker(resilience.NewBreaker(resilience.BreakerFrom(ec.Circuit.FailureThreshold, ec.Circuit.ResetTimeoutSecs))),
			events.WithRelayLogger(log),
		)
		n, err := relay.Flush(ctx)
		printer.Fprintf(cmd.OutOrStdout(), "published %d events\n", n)
		return err
	},
}

func init() {
	eventsCmd.AddCommand(eventsFlushCmd)
	rootCmd.AddCommand(eventsCmd)
}
