package storage

import (
	"context"
	"fmt"
	"time"
)

// AppendTurns stores turns for a session in one transaction. Sequence
// numbers continue from the last stored turn, so concurrent appends for the
// same session never interleave within a call.
func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []TurnRecord) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE session_id = ?`, sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading last turn of %s: %w", sessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_turns (session_id, seq, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing turn insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, t := range turns {
		if _, err := stmt.ExecContext(ctx, sessionID, next+i, t.Role, t.Text, now); err != nil {
			return fmt.Errorf("inserting turn %d of %s: %w", next+i, sessionID, err)
		}
	}

	return tx.Commit()
}

// LoadTurns returns all turns of a session in append order. A session
// without turns yields an empty slice, not ErrNotFound.
func (s *Store) LoadTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, text, created_at FROM conversation_turns
		WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		t := TurnRecord{SessionID: sessionID}
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = ts
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// DeleteTurns removes every turn of a session. Returns ErrNotFound when the
// session has no stored turns.
func (s *Store) DeleteTurns(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting turns of %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSessions returns the number of sessions with at least one stored turn.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT session_id) FROM conversation_turns`).Scan(&n)
	return n, err
}
