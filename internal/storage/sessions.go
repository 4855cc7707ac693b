package storage

// sessions.go contains SQLiteStore methods for session history.
// A row is written when a session opens and completed when it closes.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// maxSessions is the maximum number of sessions to retain.
// Older sessions are deleted when this limit is exceeded.
const maxSessions = 20

// Session is one connection attempt as seen by the client.
type Session struct {
	ID        string // Bridge ID
	Title     string // e.g. "alice@10.0.0.1:22"
	Endpoint  string // Socket URL without the query
	StartedAt time.Time
	EndedAt   time.Time // Zero while the session is open
	Reason    string    // Close reason, empty while open
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool { return s.EndedAt.IsZero() }

// SaveSession persists a session.
// Uses INSERT OR REPLACE to handle both new sessions and updates.
// Enforces retention: keeps only the most recent maxSessions sessions.
func (s *SQLiteStore) SaveSession(session *Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving session %s (%s)", session.ID, session.Title)

	var endedAt sql.NullString
	if !session.EndedAt.IsZero() {
		endedAt = sql.NullString{String: session.EndedAt.Format(time.RFC3339Nano), Valid: true}
	}

	const query = `
		INSERT OR REPLACE INTO sessions
			(id, title, endpoint, started_at, ended_at, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		session.ID,
		session.Title,
		session.Endpoint,
		session.StartedAt.Format(time.RFC3339Nano),
		endedAt,
		session.Reason,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessions); err != nil {
		return fmt.Errorf("enforce session retention: %w", err)
	}

	return nil
}

// EndSession records the close time and reason of a session.
func (s *SQLiteStore) EndSession(id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET ended_at = ?, reason = ? WHERE id = ?`
	if _, err := s.db.Exec(query, at.Format(time.RFC3339Nano), reason, id); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
// Returns nil, nil if the session does not exist.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, title, endpoint, started_at, ended_at, reason
		FROM sessions
		WHERE id = ?
	`

	session, err := scanSession(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns recent sessions ordered by started_at (newest first).
// The limit parameter controls how many sessions to return (0 = default limit).
func (s *SQLiteStore) ListSessions(limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessions
	}

	const query = `
		SELECT id, title, endpoint, started_at, ended_at, reason
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		session   Session
		startedAt string
		endedAt   sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Endpoint,
		&startedAt,
		&endedAt,
		&session.Reason,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	session.StartedAt = t

	if endedAt.Valid {
		t, err = time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		session.EndedAt = t
	}

	return &session, nil
}
