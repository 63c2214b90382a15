// Package worker implements the delivery worker: it claims work-ready
// notifications from the store, drives each through a send attempt, and
// interprets the outcome into the next state per the transition table.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/store"
)

const (
	defaultLimit        = 20
	defaultMaxAttempts  = 3
	defaultRetryDelayMs = 30000
	minMaxAttempts      = 1
	minRetryDelayMs     = 1000

	actorSystem = "system:delivery-worker"
)

// SendResult is what a send attempt against a target session reports back.
// The worker checks Busy first, then Status "timeout", then OK (with a
// Status other than "failed"); anything else is treated as a failure.
type SendResult struct {
	OK              bool
	Status          string // "", "timeout", or any other transport-reported status
	ActorSessionKey *string
	Busy            bool
	BusyReason      string
	ETAAt           *int64
	NextCheckAt     *int64
}

// SendViaSessions delivers message text to a target session, tagged with
// metadata identifying the notification/task/message/mention that produced
// it. Implementations are free to be synchronous or to race against a
// deadline derived from the caller's context.
type SendViaSessions func(ctx context.Context, targetSessionKey, text string, meta SendMeta) (SendResult, error)

// SendMeta is attached to every send attempt so a capability implementation
// can correlate acks/errors back to the originating notification.
type SendMeta struct {
	NotificationID string
	TaskID         string
	MessageID      string
	MentionAlias   string
}

// GetMessageText resolves a message id to the text that should actually be
// sent; most implementations just call through to the store, but callers
// are free to inject transformation (templating, truncation) here.
type GetMessageText func(ctx context.Context, messageID string) (string, error)

// Tunables bounds the delivery worker's per-tick behavior. Zero values are
// replaced with defaults; values below the documented floor are clamped up
// to it.
type Tunables struct {
	Limit        int
	MaxAttempts  int
	RetryDelayMs int64
}

func (t Tunables) normalized() Tunables {
	if t.Limit <= 0 {
		t.Limit = defaultLimit
	}
	if t.MaxAttempts < minMaxAttempts {
		if t.MaxAttempts == 0 {
			t.MaxAttempts = defaultMaxAttempts
		} else {
			t.MaxAttempts = minMaxAttempts
		}
	}
	if t.RetryDelayMs < minRetryDelayMs {
		if t.RetryDelayMs == 0 {
			t.RetryDelayMs = defaultRetryDelayMs
		} else {
			t.RetryDelayMs = minRetryDelayMs
		}
	}
	return t
}

// Counters tallies one tick's outcomes, returned to the caller for logging
// and tests.
type Counters struct {
	Polled       int
	Processed    int
	Delivered    int
	DeferredBusy int
	Failed       int
	TimedOut     int
	DeadLettered int
	Escalated    int
}

// Worker drives notifications from claim through outcome. It never holds
// its own clock or its own store connection lifecycle; both are handed in,
// so tests can control time and data precisely.
type Worker struct {
	Store           *store.Store
	SendViaSessions SendViaSessions
	GetMessageText  GetMessageText
	Tunables        Tunables
}

// Tick runs exactly one delivery pass: claim, then for each claimed row,
// SLA-check, claim-transition, send, and interpret the outcome. A failure
// to move a single row never aborts the batch; it is logged and counted.
func (w *Worker) Tick(ctx context.Context, now int64) (Counters, error) {
	tickStart := time.Now()
	defer func() { metrics.WorkerTickDuration.Observe(time.Since(tickStart).Seconds()) }()

	tunables := w.Tunables.normalized()
	var counters Counters

	batch, err := w.Store.ClaimReadyNotifications(ctx, tunables.Limit, now)
	if err != nil {
		return counters, fmt.Errorf("claim ready notifications: %w", err)
	}
	counters.Polled = len(batch)

	for _, n := range batch {
		w.processOne(ctx, n, now, tunables, &counters)
	}

	metrics.WorkerTicksTotal.Inc()
	return counters, nil
}

func (w *Worker) processOne(ctx context.Context, n store.Notification, now int64, tunables Tunables, counters *Counters) {
	counters.Processed++

	if n.SLADueAt != nil && *n.SLADueAt <= now {
		w.escalateSLABreach(ctx, n, now, counters)
		return
	}

	claimed, ok := w.claimForDelivery(ctx, n, now, counters)
	if !ok {
		return
	}

	text, err := w.GetMessageText(ctx, claimed.MessageID)
	if err != nil {
		w.markFailureOrDeadLetter(ctx, claimed, now, tunables, err.Error(), counters)
		return
	}

	result, err := w.SendViaSessions(ctx, claimed.TargetSessionKey, text, SendMeta{
		NotificationID: claimed.ID,
		TaskID:         claimed.TaskID,
		MessageID:      claimed.MessageID,
		MentionAlias:   claimed.MentionAlias,
	})
	if err != nil {
		w.markFailureOrDeadLetter(ctx, claimed, now, tunables, err.Error(), counters)
		return
	}

	switch {
	case result.Busy:
		w.markDeferredBusy(ctx, claimed, now, tunables, result, counters)
	case result.Status == "timeout":
		w.markTimeout(ctx, claimed, now, counters)
	case result.OK && result.Status != "failed":
		w.markDelivered(ctx, claimed, now, result, counters)
	default:
		w.markFailureOrDeadLetter(ctx, claimed, now, tunables, result.Status, counters)
	}
}

// escalateSLABreach forces timeout -> reassigned -> queued so the
// notification resurfaces for redelivery on the next poll, per §1.4 step 3a.
// SLA breach is not an error condition; it drives this cascade deliberately.
func (w *Worker) escalateSLABreach(ctx context.Context, n store.Notification, now int64, counters *Counters) {
	breachErr := "SLA breach"
	actor := actorSystem

	if _, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateTimeout, Force: true,
		ActorSessionKey: &actor, Error: &breachErr,
	}, now); err != nil {
		runnerLog.Error("sla escalation: timeout transition failed", "notification_id", n.ID, "error", err)
		return
	}
	if _, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateReassigned, Force: true,
	}, now); err != nil {
		runnerLog.Error("sla escalation: reassigned transition failed", "notification_id", n.ID, "error", err)
		return
	}
	retryAt := now
	if _, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateQueued, Force: true, RetryAt: &retryAt,
	}, now); err != nil {
		runnerLog.Error("sla escalation: queued transition failed", "notification_id", n.ID, "error", err)
		return
	}

	counters.TimedOut++
	counters.Escalated++
	metrics.NotificationOutcomesTotal.WithLabelValues("sla_escalated").Inc()
}

// claimForDelivery performs the actual queued/failed/deferred_busy ->
// delivering compare-and-set. A TransitionInvalid or TransitionNotFound
// result means another worker already won the race; that is a benign skip,
// not an error.
func (w *Worker) claimForDelivery(ctx context.Context, n store.Notification, now int64, counters *Counters) (store.Notification, bool) {
	attempts := n.Attempts + 1
	expected := n.State
	res, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID:            n.ID,
		State:         store.StateDelivering,
		ExpectedState: &expected,
		Attempts:      &attempts,
		ClearRetryAt:  true,
		ClearError:    true,
	}, now)
	if err != nil {
		runnerLog.Error("claim for delivery failed", "notification_id", n.ID, "error", err)
		return store.Notification{}, false
	}
	if res.Status != store.TransitionUpdated {
		return store.Notification{}, false
	}
	return *res.Notification, true
}

func (w *Worker) markDelivered(ctx context.Context, n store.Notification, now int64, result SendResult, counters *Counters) {
	actor := n.TargetSessionKey
	if result.ActorSessionKey != nil {
		actor = *result.ActorSessionKey
	}
	_, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateDelivered, ActorSessionKey: &actor, ClearRetryAt: true, ClearError: true,
	}, now)
	if err != nil {
		runnerLog.Error("mark delivered failed", "notification_id", n.ID, "error", err)
		return
	}
	counters.Delivered++
	metrics.NotificationOutcomesTotal.WithLabelValues("delivered").Inc()
}

func (w *Worker) markTimeout(ctx context.Context, n store.Notification, now int64, counters *Counters) {
	_, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateTimeout, ClearRetryAt: true,
	}, now)
	if err != nil {
		runnerLog.Error("mark timeout failed", "notification_id", n.ID, "error", err)
		return
	}
	counters.TimedOut++
	metrics.NotificationOutcomesTotal.WithLabelValues("timeout").Inc()
}

func (w *Worker) markDeferredBusy(ctx context.Context, n store.Notification, now int64, tunables Tunables, result SendResult, counters *Counters) {
	nextCheckAt := now + tunables.RetryDelayMs
	if result.NextCheckAt != nil {
		nextCheckAt = *result.NextCheckAt
	}
	busyReason := result.BusyReason
	etaAt := result.ETAAt
	actor := n.TargetSessionKey
	if result.ActorSessionKey != nil {
		actor = *result.ActorSessionKey
	}

	params := store.TransitionParams{
		ID:              n.ID,
		State:           store.StateDeferredBusy,
		ActorSessionKey: &actor,
		BusyReason:      &busyReason,
		NextCheckAt:     &nextCheckAt,
		RetryAt:         &nextCheckAt,
	}
	if etaAt != nil {
		params.ETAAt = etaAt
	}

	if _, err := w.Store.TransitionNotificationState(ctx, params, now); err != nil {
		runnerLog.Error("mark deferred busy failed", "notification_id", n.ID, "error", err)
		return
	}
	counters.DeferredBusy++
	metrics.NotificationOutcomesTotal.WithLabelValues("deferred_busy").Inc()
}

func (w *Worker) markFailureOrDeadLetter(ctx context.Context, n store.Notification, now int64, tunables Tunables, errMsg string, counters *Counters) {
	if n.Attempts >= tunables.MaxAttempts {
		if _, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
			ID: n.ID, State: store.StateDeadLetter, Error: &errMsg,
		}, now); err != nil {
			runnerLog.Error("mark dead letter failed", "notification_id", n.ID, "error", err)
			return
		}
		counters.DeadLettered++
		metrics.NotificationOutcomesTotal.WithLabelValues("dead_letter").Inc()
		return
	}

	retryAt := now + tunables.RetryDelayMs
	if _, err := w.Store.TransitionNotificationState(ctx, store.TransitionParams{
		ID: n.ID, State: store.StateFailed, Error: &errMsg, RetryAt: &retryAt,
	}, now); err != nil {
		runnerLog.Error("mark failed failed", "notification_id", n.ID, "error", err)
		return
	}
	counters.Failed++
	metrics.NotificationOutcomesTotal.WithLabelValues("failed").Inc()
}
