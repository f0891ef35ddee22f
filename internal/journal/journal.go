// Package journal records dictation session timelines in SQLite for
// diagnostics. Retention defaults to ephemeral, which keeps no database
// at all: transcripts are not persisted across sessions unless an
// operator opts in.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxedlabs/voxed/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one recorded timeline event.
type Entry struct {
	ID        int64
	SessionID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Event types written by the dictation service.
const (
	TypeSessionStart   = "session.start"
	TypeSessionStop    = "session.stop"
	TypeUtteranceFinal = "utterance.final"
	TypeEditApplied    = "edit.applied"
	TypeEditFailed     = "edit.failed"
)

// UtterancePayload is the JSON payload of an utterance.final entry.
type UtterancePayload struct {
	Utterance float64 `json:"utterance"`
	Text      string  `json:"text"`
	Command   bool    `json:"command"`
}

// EditPayload is the JSON payload of an edit.applied or edit.failed entry.
type EditPayload struct {
	Generation uint64 `json:"generation"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Error      string `json:"error,omitempty"`
}

// Journal wraps the SQLite-backed session timeline.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Ephemeral retention
// yields a no-op journal with no database connection.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_session_created ON entries(session_id, created_at);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// EnsureSession creates the session row if it does not exist.
func (j *Journal) EnsureSession(ctx context.Context, sessionID string) error {
	if j.cfg.RetentionMode == "ephemeral" || j.db == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, j.clock().UTC())
	return err
}

// Append writes one entry into the journal.
func (j *Journal) Append(ctx context.Context, entry Entry) error {
	if j.cfg.RetentionMode == "ephemeral" || j.db == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.clock().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		entry.SessionID, entry.Type, entry.Payload, entry.CreatedAt)
	return err
}

// RecordUtterance journals a speech-final utterance.
func (j *Journal) RecordUtterance(ctx context.Context, sessionID string, p UtterancePayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return j.Append(ctx, Entry{SessionID: sessionID, Type: TypeUtteranceFinal, Payload: payload})
}

// RecordEdit journals an edit outcome.
func (j *Journal) RecordEdit(ctx context.Context, sessionID string, applied bool, p EditPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	typ := TypeEditApplied
	if !applied {
		typ = TypeEditFailed
	}
	return j.Append(ctx, Entry{SessionID: sessionID, Type: typ, Payload: payload})
}

// List retrieves up to limit entries for a session ordered ascending by time.
func (j *Journal) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if j.cfg.RetentionMode == "ephemeral" || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM entries WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (j *Journal) Prune(ctx context.Context) error {
	if j.cfg.RetentionMode == "ephemeral" || j.db == nil {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if j.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, j.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
