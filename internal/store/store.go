// Package store persists a best-effort audit trail of sessions and executed
// commands. Audit failures are logged and never fail a command.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianm/dbgbridge/internal/session"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// SessionRow is one persisted session record.
type SessionRow struct {
	ID        string
	Backend   string
	Target    string
	State     string
	CreatedAt time.Time
	EndedAt   time.Time
}

// CommandRow is one persisted command record.
type CommandRow struct {
	ID         int64
	SessionID  string
	Command    string
	DurationMS int64
	Truncated  bool
	ErrClass   string
	CreatedAt  time.Time
}

// SQLiteStore implements session.Recorder over a database opened by the
// database package.
type SQLiteStore struct {
	log *slog.Logger
	db  *sql.DB
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(log *slog.Logger, db *sql.DB) *SQLiteStore {
	return &SQLiteStore{log: log, db: db}
}

func (s *SQLiteStore) RecordSessionStart(ctx context.Context, info session.Info) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, backend, target, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, string(info.Backend), info.LoadedTarget, string(info.State),
		info.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		s.log.Warn("audit: recording session start failed", "session_id", info.ID, "error", err)
	}
}

func (s *SQLiteStore) RecordSessionEnd(ctx context.Context, id string, state session.State) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, ended_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		s.log.Warn("audit: recording session end failed", "session_id", id, "error", err)
	}
}

func (s *SQLiteStore) RecordCommand(ctx context.Context, rec session.CommandRecord) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (session_id, command, duration_ms, truncated, err_class, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Command, rec.Duration.Milliseconds(), rec.Truncated, rec.ErrClass,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		s.log.Warn("audit: recording command failed", "session_id", rec.SessionID, "error", err)
	}
}

// GetSession fetches one persisted session record.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (SessionRow, error) {
	var (
		row       SessionRow
		createdAt string
		endedAt   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, backend, target, state, created_at, ended_at FROM sessions WHERE id = ?`, id,
	).Scan(&row.ID, &row.Backend, &row.Target, &row.State, &createdAt, &endedAt)
	if err != nil {
		return SessionRow{}, fmt.Errorf("getting session %q: %w", id, err)
	}
	row.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if endedAt.Valid {
		row.EndedAt, _ = time.Parse(timeFormat, endedAt.String)
	}
	return row, nil
}

// ListCommands fetches the command history of one session, oldest first.
func (s *SQLiteStore) ListCommands(ctx context.Context, sessionID string) ([]CommandRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, command, duration_ms, truncated, err_class, created_at
		 FROM commands WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing commands for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var (
			row       CommandRow
			createdAt string
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Command, &row.DurationMS,
			&row.Truncated, &row.ErrClass, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}
		row.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		out = append(out, row)
	}
	return out, rows.Err()
}
