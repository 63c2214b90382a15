package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/missionctl/missionctl/internal/logging"
)

var runnerLog = logging.For("worker")

// newPollBackoff builds the error backoff used when a tick itself fails
// (e.g. the database is temporarily unavailable): 1s up to 30s, doubling,
// with jitter.
func newPollBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Run polls the worker on pollInterval until ctx is cancelled. Clock time
// (time.Now) is used here, not a test-controlled parameter, since this is
// the production entry point; Tick itself stays pure and deterministic for
// tests.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	errBackoff := newPollBackoff()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counters, err := w.Tick(ctx, time.Now().UnixMilli())
			if err != nil {
				next := errBackoff.NextBackOff()
				runnerLog.Error("worker tick failed, backing off", "error", err, "next_retry", next)
				ticker.Reset(next)
				continue
			}

			errBackoff.Reset()
			ticker.Reset(pollInterval)
			if counters.Processed > 0 {
				runnerLog.Info("worker tick complete",
					"polled", counters.Polled,
					"processed", counters.Processed,
					"delivered", counters.Delivered,
					"deferred_busy", counters.DeferredBusy,
					"failed", counters.Failed,
					"timed_out", counters.TimedOut,
					"dead_lettered", counters.DeadLettered,
					"escalated", counters.Escalated,
				)
			}
		}
	}
}
