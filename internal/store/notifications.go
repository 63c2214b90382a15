package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/missionctl/missionctl/internal/metrics"
)

// ListTaskNotifications returns the notifications fanned out from messages
// in taskID, ordered by message time then notification creation time,
// joined with the originating message's content and creation time, bounded
// by limit (0 or negative means the default of 100).
func (s *Store) ListTaskNotifications(ctx context.Context, taskID string, limit int) ([]NotificationWithMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, notificationSelect+`
		WHERE n.task_id = ?
		ORDER BY m.created_at ASC, n.created_at ASC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task notifications: %w", err)
	}
	defer rows.Close()
	return scanNotificationsWithMessage(rows)
}

// ListNotifications is the general-purpose filtered query: filter by task
// and/or state, most recently updated first, bounded by filter.Limit (0 or
// negative means the default of 200).
func (s *Store) ListNotifications(ctx context.Context, filter ListNotificationsFilter) ([]NotificationWithMessage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	query := notificationSelect + " WHERE 1=1"
	var args []any
	if filter.TaskID != "" {
		query += " AND n.task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.State != "" {
		query += " AND n.state = ?"
		args = append(args, string(filter.State))
	}
	query += " ORDER BY n.updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotificationsWithMessage(rows)
}

const notificationSelect = `
	SELECT
		n.id, n.message_id, n.task_id, n.mention_alias, n.target_session_key,
		n.state, n.attempts, n.retry_at, n.next_check_at, n.sla_due_at,
		n.actor_session_key, n.busy_reason, n.eta_at, n.error,
		n.created_at, n.updated_at, n.queued_at, n.delivering_at, n.delivered_at,
		n.seen_at, n.accepted_at, n.in_progress_at, n.completed_at,
		n.deferred_busy_at, n.failed_at, n.timeout_at, n.reassigned_at,
		n.declined_at, n.dead_letter_at,
		m.content, m.content_compression, m.created_at
	FROM notifications n
	JOIN task_messages m ON m.id = n.message_id
`

func scanNotificationsWithMessage(rows *sql.Rows) ([]NotificationWithMessage, error) {
	var out []NotificationWithMessage
	for rows.Next() {
		n, contentRaw, compression, err := scanNotificationRowWithMessage(rows)
		if err != nil {
			return nil, err
		}
		decoded, err := decodeContent(contentRaw, contentCompression(compression))
		if err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		n.MessageContent = string(decoded)
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotificationRowWithMessage(row rowScanner) (NotificationWithMessage, []byte, string, error) {
	var (
		n                                                                      NotificationWithMessage
		retryAt, nextCheckAt, slaDueAt, etaAt                                  sql.NullInt64
		queuedAt, deliveringAt, deliveredAt, seenAt, acceptedAt, inProgressAt  sql.NullInt64
		completedAt, deferredBusyAt, failedAt, timeoutAt, reassignedAt         sql.NullInt64
		declinedAt, deadLetterAt                                              sql.NullInt64
		actorSessionKey, busyReason, errStr                                   sql.NullString
		state                                                                 string
		contentRaw                                                            []byte
		compression                                                           string
	)

	err := row.Scan(
		&n.ID, &n.MessageID, &n.TaskID, &n.MentionAlias, &n.TargetSessionKey,
		&state, &n.Attempts, &retryAt, &nextCheckAt, &slaDueAt,
		&actorSessionKey, &busyReason, &etaAt, &errStr,
		&n.CreatedAt, &n.UpdatedAt, &queuedAt, &deliveringAt, &deliveredAt,
		&seenAt, &acceptedAt, &inProgressAt, &completedAt,
		&deferredBusyAt, &failedAt, &timeoutAt, &reassignedAt,
		&declinedAt, &deadLetterAt,
		&contentRaw, &compression, &n.MessageCreatedAt,
	)
	if err != nil {
		return NotificationWithMessage{}, nil, "", fmt.Errorf("scan notification: %w", err)
	}

	n.State = State(state)
	n.RetryAt = int64Ptr(retryAt)
	n.NextCheckAt = int64Ptr(nextCheckAt)
	n.SLADueAt = int64Ptr(slaDueAt)
	n.ActorSessionKey = strPtr(actorSessionKey)
	n.BusyReason = strPtr(busyReason)
	n.ETAAt = int64Ptr(etaAt)
	n.Error = strPtr(errStr)
	n.QueuedAt = int64Ptr(queuedAt)
	n.DeliveringAt = int64Ptr(deliveringAt)
	n.DeliveredAt = int64Ptr(deliveredAt)
	n.SeenAt = int64Ptr(seenAt)
	n.AcceptedAt = int64Ptr(acceptedAt)
	n.InProgressAt = int64Ptr(inProgressAt)
	n.CompletedAt = int64Ptr(completedAt)
	n.DeferredBusyAt = int64Ptr(deferredBusyAt)
	n.FailedAt = int64Ptr(failedAt)
	n.TimeoutAt = int64Ptr(timeoutAt)
	n.ReassignedAt = int64Ptr(reassignedAt)
	n.DeclinedAt = int64Ptr(declinedAt)
	n.DeadLetterAt = int64Ptr(deadLetterAt)

	return n, contentRaw, compression, nil
}

const notificationPlainSelect = `
	SELECT
		id, message_id, task_id, mention_alias, target_session_key,
		state, attempts, retry_at, next_check_at, sla_due_at,
		actor_session_key, busy_reason, eta_at, error,
		created_at, updated_at, queued_at, delivering_at, delivered_at,
		seen_at, accepted_at, in_progress_at, completed_at,
		deferred_busy_at, failed_at, timeout_at, reassigned_at,
		declined_at, dead_letter_at
	FROM notifications
`

func scanNotificationPlain(row rowScanner) (Notification, error) {
	var (
		n                                                                      Notification
		retryAt, nextCheckAt, slaDueAt, etaAt                                  sql.NullInt64
		queuedAt, deliveringAt, deliveredAt, seenAt, acceptedAt, inProgressAt  sql.NullInt64
		completedAt, deferredBusyAt, failedAt, timeoutAt, reassignedAt         sql.NullInt64
		declinedAt, deadLetterAt                                              sql.NullInt64
		actorSessionKey, busyReason, errStr                                   sql.NullString
		state                                                                 string
	)
	err := row.Scan(
		&n.ID, &n.MessageID, &n.TaskID, &n.MentionAlias, &n.TargetSessionKey,
		&state, &n.Attempts, &retryAt, &nextCheckAt, &slaDueAt,
		&actorSessionKey, &busyReason, &etaAt, &errStr,
		&n.CreatedAt, &n.UpdatedAt, &queuedAt, &deliveringAt, &deliveredAt,
		&seenAt, &acceptedAt, &inProgressAt, &completedAt,
		&deferredBusyAt, &failedAt, &timeoutAt, &reassignedAt,
		&declinedAt, &deadLetterAt,
	)
	if err != nil {
		return Notification{}, fmt.Errorf("scan notification: %w", err)
	}

	n.State = State(state)
	n.RetryAt = int64Ptr(retryAt)
	n.NextCheckAt = int64Ptr(nextCheckAt)
	n.SLADueAt = int64Ptr(slaDueAt)
	n.ActorSessionKey = strPtr(actorSessionKey)
	n.BusyReason = strPtr(busyReason)
	n.ETAAt = int64Ptr(etaAt)
	n.Error = strPtr(errStr)
	n.QueuedAt = int64Ptr(queuedAt)
	n.DeliveringAt = int64Ptr(deliveringAt)
	n.DeliveredAt = int64Ptr(deliveredAt)
	n.SeenAt = int64Ptr(seenAt)
	n.AcceptedAt = int64Ptr(acceptedAt)
	n.InProgressAt = int64Ptr(inProgressAt)
	n.CompletedAt = int64Ptr(completedAt)
	n.DeferredBusyAt = int64Ptr(deferredBusyAt)
	n.FailedAt = int64Ptr(failedAt)
	n.TimeoutAt = int64Ptr(timeoutAt)
	n.ReassignedAt = int64Ptr(reassignedAt)
	n.DeclinedAt = int64Ptr(declinedAt)
	n.DeadLetterAt = int64Ptr(deadLetterAt)
	return n, nil
}

// stateTimestampColumn names the column that records entry into each state.
var stateTimestampColumn = map[State]string{
	StateQueued:       "queued_at",
	StateDelivering:   "delivering_at",
	StateDelivered:    "delivered_at",
	StateSeen:         "seen_at",
	StateAccepted:     "accepted_at",
	StateInProgress:   "in_progress_at",
	StateCompleted:    "completed_at",
	StateDeferredBusy: "deferred_busy_at",
	StateFailed:       "failed_at",
	StateTimeout:      "timeout_at",
	StateReassigned:   "reassigned_at",
	StateDeclined:     "declined_at",
	StateDeadLetter:   "dead_letter_at",
}

// TransitionNotificationState is the single mutation point for a
// notification's state. It is a tagged operation: callers inspect
// result.Status rather than branching on error, since "not found" and
// "illegal transition" are expected, non-exceptional outcomes.
func (s *Store) TransitionNotificationState(ctx context.Context, p TransitionParams, now int64) (TransitionResult, error) {
	if !IsValidState(p.State) {
		return TransitionResult{}, fmt.Errorf("transition to unknown state %q", p.State)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentState string
	err = tx.QueryRowContext(ctx, `SELECT state FROM notifications WHERE id = ?`, p.ID).Scan(&currentState)
	if err == sql.ErrNoRows {
		return TransitionResult{Status: TransitionNotFound}, nil
	}
	if err != nil {
		return TransitionResult{}, fmt.Errorf("lookup current state: %w", err)
	}

	from := State(currentState)
	if p.ExpectedState != nil && from != *p.ExpectedState {
		return TransitionResult{Status: TransitionInvalid}, nil
	}
	if !p.Force && !CanTransition(from, p.State) {
		return TransitionResult{Status: TransitionInvalid}, nil
	}

	setClauses := []string{"state = ?", "updated_at = ?"}
	args := []any{string(p.State), now}

	if col, ok := stateTimestampColumn[p.State]; ok && from != p.State {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, now)
	}

	if p.Attempts != nil {
		setClauses = append(setClauses, "attempts = ?")
		args = append(args, *p.Attempts)
	}
	if p.ClearRetryAt {
		setClauses = append(setClauses, "retry_at = NULL")
	} else if p.RetryAt != nil {
		setClauses = append(setClauses, "retry_at = ?")
		args = append(args, *p.RetryAt)
	}
	if p.ClearError {
		setClauses = append(setClauses, "error = NULL")
	} else if p.Error != nil {
		setClauses = append(setClauses, "error = ?")
		args = append(args, *p.Error)
	}
	if p.ActorSessionKey != nil {
		setClauses = append(setClauses, "actor_session_key = ?")
		args = append(args, *p.ActorSessionKey)
	}
	if p.BusyReason != nil {
		setClauses = append(setClauses, "busy_reason = ?")
		args = append(args, *p.BusyReason)
	}
	if p.ETAAt != nil {
		setClauses = append(setClauses, "eta_at = ?")
		args = append(args, *p.ETAAt)
	}
	if p.NextCheckAt != nil {
		setClauses = append(setClauses, "next_check_at = ?")
		args = append(args, *p.NextCheckAt)
	}
	if p.SLADueAt != nil {
		setClauses = append(setClauses, "sla_due_at = ?")
		args = append(args, *p.SLADueAt)
	}

	query := "UPDATE notifications SET "
	for i, c := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	// The WHERE clause re-checks state = from, turning this UPDATE into the
	// explicit compare-and-set the concurrency model calls for: if another
	// transaction moved the row off `from` between our SELECT and this
	// UPDATE, zero rows match and we report a lost race rather than
	// clobbering whatever that other transaction wrote.
	query += " WHERE id = ? AND state = ?"
	args = append(args, p.ID, string(from))

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("update notification: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return TransitionResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return TransitionResult{Status: TransitionInvalid}, nil
	}

	updated, err := scanNotificationPlain(tx.QueryRowContext(ctx, notificationPlainSelect+` WHERE id = ?`, p.ID))
	if err != nil {
		return TransitionResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransitionResult{}, fmt.Errorf("commit: %w", err)
	}

	metrics.NotificationStateTransitionsTotal.WithLabelValues(string(from), string(p.State)).Inc()

	return TransitionResult{Status: TransitionUpdated, Notification: &updated}, nil
}

// ClaimReadyNotifications selects, but does not mutate, up to limit
// work-ready notifications: rows in a retryable state whose retry_at and
// next_check_at are both unset or already due, ordered oldest-created
// first. The caller (the delivery worker) is responsible for moving each
// row to delivering via TransitionNotificationState; because that
// transition is the actual compare-and-set point, a second worker racing
// on the same row simply sees TransitionInvalid or TransitionNotFound and
// skips it as a benign lost race.
func (s *Store) ClaimReadyNotifications(ctx context.Context, limit int, now int64) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, notificationPlainSelect+`
		WHERE state IN ('queued', 'failed', 'deferred_busy')
		  AND (retry_at IS NULL OR retry_at <= ?)
		  AND (next_check_at IS NULL OR next_check_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim ready notifications: %w", err)
	}
	defer rows.Close()

	var claimed []Notification
	for rows.Next() {
		n, err := scanNotificationPlain(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, n)
	}
	return claimed, rows.Err()
}
