package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/missionctl/missionctl/internal/id"
	"github.com/missionctl/missionctl/internal/metrics"
)

// CreateTaskMessage persists one author utterance and fans it out to one
// queued notification per unique resolved mention target, minus the author,
// all inside a single transaction. The message row is never visible without
// its notification rows: any error rolls the whole operation back.
func (s *Store) CreateTaskMessage(ctx context.Context, taskID, authorSessionKey, content string, slaMs *int64, now int64) (*TaskMessage, error) {
	mentionTokens := parseMentions(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	resolved, err := resolveMentions(ctx, tx, mentionTokens)
	if err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}

	// Self-mention rule: the author never receives a notification for their
	// own message.
	targets := make([]ResolvedMention, 0, len(resolved))
	for _, r := range resolved {
		if r.SessionKey == authorSessionKey {
			continue
		}
		targets = append(targets, r)
	}

	msgID := id.Generate()
	mentionsJSON, err := json.Marshal(mentionTokens)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}

	encoded, compression := encodeContent([]byte(content))
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_messages (id, task_id, author_session_key, content, content_compression, mentions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msgID, taskID, authorSessionKey, encoded, string(compression), string(mentionsJSON), now); err != nil {
		return nil, fmt.Errorf("insert task message: %w", err)
	}

	var slaDueAt *int64
	if slaMs != nil {
		v := now + *slaMs
		slaDueAt = &v
	}

	for _, target := range targets {
		notifID := id.Generate()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (
				id, message_id, task_id, mention_alias, target_session_key,
				state, attempts, sla_due_at, created_at, updated_at, queued_at
			) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		`, notifID, msgID, taskID, target.Alias, target.SessionKey,
			string(StateQueued), nullInt64(slaDueAt), now, now, now); err != nil {
			return nil, fmt.Errorf("insert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	metrics.MessagesCreatedTotal.Inc()
	metrics.NotificationsCreatedTotal.Add(float64(len(targets)))

	return &TaskMessage{
		ID:               msgID,
		TaskID:           taskID,
		AuthorSessionKey: authorSessionKey,
		Content:          content,
		Mentions:         mentionTokens,
		CreatedAt:        now,
	}, nil
}

// ListTaskMessages returns messages for taskID in ascending creation order,
// bounded by limit (0 or negative means the default of 100).
func (s *Store) ListTaskMessages(ctx context.Context, taskID string, limit int) ([]TaskMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author_session_key, content, content_compression, mentions, created_at
		FROM task_messages
		WHERE task_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task messages: %w", err)
	}
	defer rows.Close()

	var out []TaskMessage
	for rows.Next() {
		msg, err := scanTaskMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskMessage(row rowScanner) (TaskMessage, error) {
	var (
		m           TaskMessage
		contentRaw  []byte
		compression string
		mentionsRaw string
	)
	if err := row.Scan(&m.ID, &m.TaskID, &m.AuthorSessionKey, &contentRaw, &compression, &mentionsRaw, &m.CreatedAt); err != nil {
		return TaskMessage{}, fmt.Errorf("scan task message: %w", err)
	}

	decoded, err := decodeContent(contentRaw, contentCompression(compression))
	if err != nil {
		return TaskMessage{}, fmt.Errorf("decode content: %w", err)
	}
	m.Content = string(decoded)

	if err := json.Unmarshal([]byte(mentionsRaw), &m.Mentions); err != nil {
		return TaskMessage{}, fmt.Errorf("unmarshal mentions: %w", err)
	}
	return m, nil
}

// GetMessageTextByID resolves a message id to its decompressed text. It
// satisfies the worker.GetMessageText capability signature directly.
func (s *Store) GetMessageTextByID(ctx context.Context, id string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, author_session_key, content, content_compression, mentions, created_at
		FROM task_messages WHERE id = ?
	`, id)
	m, err := scanTaskMessage(row)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("message not found: %s", id)
	}
	if err != nil {
		return "", err
	}
	return m.Content, nil
}
