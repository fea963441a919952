// Package journal records processed webhook submissions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	id                TEXT PRIMARY KEY,
	received_at       DATETIME NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	study_type        TEXT NOT NULL DEFAULT '',
	participant       TEXT NOT NULL DEFAULT '',
	checksum          TEXT NOT NULL DEFAULT '',
	folder_id         TEXT NOT NULL DEFAULT '',
	individual_name   TEXT NOT NULL DEFAULT '',
	individual_status TEXT NOT NULL DEFAULT '',
	master_name       TEXT NOT NULL DEFAULT '',
	master_status     TEXT NOT NULL DEFAULT '',
	succeeded         INTEGER NOT NULL DEFAULT 0,
	outcome           TEXT NOT NULL DEFAULT '',
	redelivery        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_submissions_received ON submissions(received_at);
CREATE INDEX IF NOT EXISTS idx_submissions_checksum ON submissions(checksum);
CREATE INDEX IF NOT EXISTS idx_submissions_source ON submissions(source);
`

// DefaultLimit and MaxLimit bound Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one recorded submission.
type Entry struct {
	ID               string    `json:"id"`
	ReceivedAt       time.Time `json:"received_at"`
	Source           string    `json:"source"`
	StudyType        string    `json:"study_type"`
	Participant      string    `json:"participant"`
	Checksum         string    `json:"checksum"`
	FolderID         string    `json:"folder_id"`
	IndividualName   string    `json:"individual_name,omitempty"`
	IndividualStatus string    `json:"individual_status"`
	MasterName       string    `json:"master_name,omitempty"`
	MasterStatus     string    `json:"master_status"`
	Succeeded        int       `json:"succeeded"`
	Outcome          string    `json:"outcome"`
	// Redelivery is set when an earlier entry has the same checksum.
	Redelivery bool `json:"redelivery"`
}

// Store is the journal as seen by the HTTP and MCP layers.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int, source string) ([]Entry, error)
}

// Compile-time interface satisfaction check.
var _ Store = (*Journal)(nil)

// Journal wraps a sql.DB holding the submissions table.
type Journal struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Record stores e, filling in ID and ReceivedAt when unset and setting
// Redelivery when the checksum was seen before.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = j.now()
	}
	e.ReceivedAt = e.ReceivedAt.UTC()

	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if e.Checksum != "" {
		var seen int
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM submissions WHERE checksum = ?)`, e.Checksum).Scan(&seen); err != nil {
			return fmt.Errorf("journal: lookup checksum: %w", err)
		}
		e.Redelivery = seen == 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (
			id, received_at, source, study_type, participant, checksum, folder_id,
			individual_name, individual_status, master_name, master_status,
			succeeded, outcome, redelivery
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ReceivedAt, e.Source, e.StudyType, e.Participant, e.Checksum, e.FolderID,
		e.IndividualName, e.IndividualStatus, e.MasterName, e.MasterStatus,
		e.Succeeded, e.Outcome, e.Redelivery)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return tx.Commit()
}

// Recent returns the newest entries first, optionally for one source only.
// limit is clamped to [1, MaxLimit]; zero means DefaultLimit.
func (j *Journal) Recent(ctx context.Context, limit int, source string) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	query := `
		SELECT id, received_at, source, study_type, participant, checksum, folder_id,
			individual_name, individual_status, master_name, master_status,
			succeeded, outcome, redelivery
		FROM submissions`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &e.Source, &e.StudyType, &e.Participant, &e.Checksum, &e.FolderID,
			&e.IndividualName, &e.IndividualStatus, &e.MasterName, &e.MasterStatus,
			&e.Succeeded, &e.Outcome, &e.Redelivery); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
