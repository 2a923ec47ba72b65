package store

import (
	"context"
	"fmt"

	"github.com/roach88/island/internal/ir"
)

// EnsureSession records a session. Existing rows are left untouched.
// createdAt is wall-clock unix milliseconds and is informational only.
func (s *Store) EnsureSession(ctx context.Context, id string, createdAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, engine_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, createdAt, ir.EngineVersion)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// WriteMessage appends a reflected message.
// Uses ON CONFLICT DO NOTHING for idempotency - a (session, seq) pair is
// written once; later writes with the same key are silently ignored.
//
// The session must exist (foreign key constraint).
func (s *Store) WriteMessage(ctx context.Context, m Message) error {
	if m.Digest == "" {
		d, err := ir.MessageDigest(m.Time, m.Seq, m.Payload)
		if err != nil {
			return fmt.Errorf("write message: %w", err)
		}
		m.Digest = d
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, time, payload, digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, m.SessionID, int64(m.Seq), m.Time, m.Payload, m.Digest)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteSnapshot stores a checkpoint. Duplicate (session, time, seq)
// checkpoints are ignored.
//
// The hash is not recomputed here; replay.Verify checks it.
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.Hash == "" {
		return fmt.Errorf("write snapshot: empty hash")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, seq, time, hash, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, snap.SessionID, int64(snap.Seq), snap.Time, snap.Hash, snap.Body)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
