package audit

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLWriter mirrors one summary row per closed trace into SQLite or
// Postgres. The full trace stays in the JSON file; the table exists for
// cheap querying across queries.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLWriter opens a writer for the given driver ("sqlite" or
// "postgres") and DSN.
func NewSQLWriter(driver, dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	var db *sql.DB
	var err error
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "arouter-audit.db"
		}
		db, err = sql.Open("sqlite", dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown audit sql driver: %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s audit writer: %w", driver, err)
	}

	w := &SQLWriter{db: db, dialect: driver}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s audit writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS audit_traces (
	id INTEGER PRIMARY KEY,
	query_id TEXT NOT NULL,
	query TEXT,
	success INTEGER NOT NULL,
	agent_count INTEGER NOT NULL,
	agents_used TEXT,
	error_count INTEGER NOT NULL,
	event_count INTEGER NOT NULL,
	total_ms INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL
);`
	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS audit_traces (
	id BIGSERIAL PRIMARY KEY,
	query_id TEXT NOT NULL,
	query TEXT,
	success BOOLEAN NOT NULL,
	agent_count INTEGER NOT NULL,
	agents_used TEXT,
	error_count INTEGER NOT NULL,
	event_count INTEGER NOT NULL,
	total_ms BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize audit schema: %w", err)
	}
	return nil
}

// Write inserts one summary row for a closed trace.
func (w *SQLWriter) Write(t *Trace) error {
	if t.Summary == nil {
		return fmt.Errorf("trace %s has no summary", t.QueryID)
	}

	success := 0
	if t.Summary.Success {
		success = 1
	}
	query := `INSERT INTO audit_traces(query_id, query, success, agent_count, agents_used, error_count, event_count, total_ms, started_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var successArg any = success
	if w.dialect == "postgres" {
		query = `INSERT INTO audit_traces(query_id, query, success, agent_count, agents_used, error_count, event_count, total_ms, started_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		successArg = t.Summary.Success
	}

	_, err := w.db.Exec(query,
		t.QueryID,
		t.QueryText,
		successArg,
		t.Summary.AgentCount,
		strings.Join(t.Summary.AgentsUsed, ","),
		t.Summary.ErrorCount,
		len(t.Events),
		t.TotalMs,
		t.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("write audit summary: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
