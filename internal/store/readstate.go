package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MarkThreadReadState records that sessionKey has advanced its read cursor
// in taskID. lastReadMessageID and lastReadAt are each independently
// optional: a nil field leaves the existing column value untouched rather
// than clobbering it with NULL, so a caller can move the at-marker without
// knowing the latest message id (or vice versa). Upserts; a later call with
// an older cursor is still accepted verbatim, since the caller (not the
// store) decides what "read up to" means for its client.
func (s *Store) MarkThreadReadState(ctx context.Context, taskID, sessionKey string, lastReadMessageID *string, lastReadAt *int64, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_read_state (task_id, session_key, last_read_message_id, last_read_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, session_key) DO UPDATE SET
			last_read_message_id = COALESCE(excluded.last_read_message_id, thread_read_state.last_read_message_id),
			last_read_at         = COALESCE(excluded.last_read_at, thread_read_state.last_read_at),
			updated_at           = excluded.updated_at
	`, taskID, sessionKey, nullStr(lastReadMessageID), nullInt64(lastReadAt), now)
	if err != nil {
		return fmt.Errorf("mark thread read state: %w", err)
	}
	return nil
}

// GetThreadReadState returns the read cursor for (taskID, sessionKey), or
// nil if the viewer has never read anything in this thread.
func (s *Store) GetThreadReadState(ctx context.Context, taskID, sessionKey string) (*ThreadReadState, error) {
	var (
		rs                 ThreadReadState
		lastReadMessageID  sql.NullString
		lastReadAt         sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, session_key, last_read_message_id, last_read_at, updated_at
		FROM thread_read_state WHERE task_id = ? AND session_key = ?
	`, taskID, sessionKey).Scan(&rs.TaskID, &rs.SessionKey, &lastReadMessageID, &lastReadAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread read state: %w", err)
	}
	rs.LastReadMessageID = strPtr(lastReadMessageID)
	rs.LastReadAt = int64Ptr(lastReadAt)
	return &rs, nil
}

// GetThreadUnreadCount counts messages in taskID created strictly after the
// viewer's stored last-read-at cursor (or all messages, if the viewer has
// never read any), excluding the viewer's own authored messages.
func (s *Store) GetThreadUnreadCount(ctx context.Context, taskID, sessionKey string) (int, error) {
	state, err := s.GetThreadReadState(ctx, taskID, sessionKey)
	if err != nil {
		return 0, err
	}

	var cutoff int64 = -1
	if state != nil && state.LastReadAt != nil {
		cutoff = *state.LastReadAt
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_messages
		WHERE task_id = ? AND created_at > ? AND author_session_key != ?
	`, taskID, cutoff, sessionKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
