package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const agentKeyPrefix = "agent:"

// UpsertAgentAlias binds alias to sessionKey, trimming both and rejecting
// empty inputs. Re-binding an existing alias to a new session key updates
// in place (last write wins).
func (s *Store) UpsertAgentAlias(ctx context.Context, alias, sessionKey string, now int64) error {
	alias = strings.TrimSpace(alias)
	sessionKey = strings.TrimSpace(sessionKey)
	if alias == "" {
		return fmt.Errorf("alias must not be empty")
	}
	if sessionKey == "" {
		return fmt.Errorf("session key must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_aliases (alias, session_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			session_key = excluded.session_key,
			updated_at  = excluded.updated_at
	`, alias, sessionKey, now, now)
	if err != nil {
		return fmt.Errorf("upsert agent alias: %w", err)
	}
	return nil
}

// lookupAlias resolves a single alias to a session key: exact match first,
// then a case-insensitive fallback. Returns ok=false on no match.
func lookupAlias(ctx context.Context, q querier, alias string) (sessionKey string, ok bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT session_key FROM agent_aliases WHERE alias = ?`, alias).Scan(&sessionKey)
	if err == nil {
		return sessionKey, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("lookup alias: %w", err)
	}

	err = q.QueryRowContext(ctx, `SELECT session_key FROM agent_aliases WHERE LOWER(alias) = LOWER(?) LIMIT 1`, alias).Scan(&sessionKey)
	if err == nil {
		return sessionKey, true, nil
	}
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return "", false, fmt.Errorf("lookup alias case-insensitive: %w", err)
}

// resolveMentions maps mention tokens to {alias, sessionKey} pairs.
// Tokens prefixed with "agent:" are accepted verbatim as already-canonical
// session keys. Unresolvable tokens are silently dropped. Results are
// deduplicated by session key, keeping the first alias that produced each
// key.
func resolveMentions(ctx context.Context, q querier, mentions []string) ([]ResolvedMention, error) {
	seen := make(map[string]bool, len(mentions))
	resolved := make([]ResolvedMention, 0, len(mentions))

	for _, token := range mentions {
		var sessionKey string
		if strings.HasPrefix(token, agentKeyPrefix) {
			sessionKey = token
		} else {
			key, ok, err := lookupAlias(ctx, q, token)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			sessionKey = key
		}

		if seen[sessionKey] {
			continue
		}
		seen[sessionKey] = true
		resolved = append(resolved, ResolvedMention{Alias: token, SessionKey: sessionKey})
	}

	return resolved, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting resolution run
// either standalone or inside createTaskMessage's transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
