package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteWriter is an optional telemetry destination storing one row
// per finalized Context, for installations that want to query
// evaluation history with SQL instead of grepping timestamped files.
// Schema and connection idiom follow the same WAL-mode, busy-timeout
// dsn the rest of the stack's sqlite-backed stores use.
type SQLiteWriter struct {
	db *sql.DB
}

// NewSQLiteWriter opens (creating if absent) the sqlite database at
// path and ensures its schema exists.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite telemetry store: %w", err)
	}
	w := &SQLiteWriter{db: db}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS evaluations (
		trace_id          TEXT PRIMARY KEY,
		harness           TEXT NOT NULL,
		timestamp         DATETIME NOT NULL,
		total_duration_ms INTEGER NOT NULL,
		ingest            TEXT NOT NULL,
		enrich            TEXT,
		evaluations       TEXT NOT NULL,
		response_to_agent TEXT,
		errors            TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
	`
	_, err := w.db.Exec(schema)
	return err
}

// Write persists ctx as a single row, keyed by trace ID. Writing the
// same trace ID twice replaces the prior row, matching Finalize's
// once-per-evaluation call contract.
func (w *SQLiteWriter) Write(ctx *Context) error {
	ingest, err := json.Marshal(ctx.Ingest)
	if err != nil {
		return err
	}
	var enrich []byte
	if ctx.Enrich != nil {
		enrich, err = json.Marshal(ctx.Enrich)
		if err != nil {
			return err
		}
	}
	evals, err := json.Marshal(ctx.Evaluations)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(ctx.Errors)
	if err != nil {
		return err
	}

	_, err = w.db.Exec(
		`INSERT OR REPLACE INTO evaluations
		 (trace_id, harness, timestamp, total_duration_ms, ingest, enrich, evaluations, response_to_agent, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ctx.Ingest.TraceID, ctx.Ingest.Harness, ctx.Ingest.Timestamp, ctx.TotalDurationMs,
		string(ingest), nullableString(enrich), string(evals), nullableString(ctx.ResponseToAgent), string(errs),
	)
	return err
}

// Close releases the underlying database handle.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
