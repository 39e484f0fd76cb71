package bulk

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Status enumerates a ledger row's lifecycle (§4.10 supplemental
// resume feature; not part of spec.md's invariants).
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Ledger is a resume-across-restart record of a bulk run, keyed by the
// pair (source key, outfile); bulk.Run passes the image title as the
// source key (see ledgerKey). Adapted from the teacher's
// internal/mbtiles.Writer pragma setup and schema-creation pattern,
// repurposed from a tile blob store to a one-row-per-image log.
type Ledger struct {
	db *sql.DB
}

// OpenLedger creates or reopens the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS ledger (
			source_url TEXT NOT NULL,
			outfile    TEXT NOT NULL,
			status     TEXT NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			error      TEXT,
			PRIMARY KEY (source_url, outfile)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Status returns the recorded status for (sourceURL, outfile), or
// (StatusPending, false) when no row exists yet.
func (l *Ledger) Status(sourceURL, outfile string) (Status, bool, error) {
	var status string
	err := l.db.QueryRow(
		`SELECT status FROM ledger WHERE source_url = ? AND outfile = ?`,
		sourceURL, outfile,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return StatusPending, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query ledger status: %w", err)
	}
	return Status(status), true, nil
}

// MarkDone records a completed image.
func (l *Ledger) MarkDone(sourceURL, outfile string) error {
	return l.upsert(sourceURL, outfile, StatusDone, "")
}

// MarkFailed records a failed image with its error message, bumping
// the attempt counter.
func (l *Ledger) MarkFailed(sourceURL, outfile string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.upsert(sourceURL, outfile, StatusFailed, msg)
}

func (l *Ledger) upsert(sourceURL, outfile string, status Status, errMsg string) error {
	_, err := l.db.Exec(`
		INSERT INTO ledger (source_url, outfile, status, attempts, error)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (source_url, outfile) DO UPDATE SET
			status = excluded.status,
			attempts = ledger.attempts + 1,
			error = excluded.error
	`, sourceURL, outfile, string(status), nullableString(errMsg))
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
