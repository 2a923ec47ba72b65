package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReadMessagesAfter returns a session's messages with seq > after, ordered
// by seq.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadMessagesAfter(ctx context.Context, sessionID string, after uint64) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT session_id, seq, time, payload, digest
		FROM messages
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC
	`, sessionID, int64(after))
}

// MessagesBetween returns messages with from <= time <= to, ordered by seq.
func (s *Store) MessagesBetween(ctx context.Context, sessionID string, from, to int64) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT session_id, seq, time, payload, digest
		FROM messages
		WHERE session_id = ? AND time >= ? AND time <= ?
		ORDER BY seq ASC
	`, sessionID, from, to)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		var seq int64
		if err := rows.Scan(&m.SessionID, &seq, &m.Time, &m.Payload, &m.Digest); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Seq = uint64(seq)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// LatestSnapshot returns the most recent checkpoint of a session.
// ok is false when the session has none.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, seq, time, hash, body
		FROM snapshots
		WHERE session_id = ?
		ORDER BY time DESC, seq DESC
		LIMIT 1
	`, sessionID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Snapshots returns every checkpoint of a session, oldest first.
func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, time, hash, body
		FROM snapshots
		WHERE session_id = ?
		ORDER BY time ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var snap Snapshot
	var seq int64
	if err := row.Scan(&snap.SessionID, &seq, &snap.Time, &snap.Hash, &snap.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.Seq = uint64(seq)
	return snap, nil
}

// ListSessions summarizes every stored session, ordered by id.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.engine_version,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
			(SELECT COALESCE(MAX(seq), 0) FROM messages m WHERE m.session_id = s.id),
			(SELECT COALESCE(MAX(time), 0) FROM messages m WHERE m.session_id = s.id),
			(SELECT COUNT(*) FROM snapshots p WHERE p.session_id = s.id)
		FROM sessions s
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var lastSeq int64
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.EngineVersion, &info.Messages, &lastSeq, &info.LastTime, &info.Snapshots); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.LastSeq = uint64(lastSeq)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
