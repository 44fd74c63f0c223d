// Package brainaudit supplements the brain store's own in-state audit
// trail with an optional durable export sink: every mutation's
// AuditEntry can additionally be shipped to a Postgres or SQLite
// database named by CORTEX_AUDIT_EXPORT_DSN, selected by DSN scheme.
// Export is purely additive — brain mutation never depends on it
// succeeding, and a failed export is logged, not fatal; the encrypted
// state remains the single source of truth.
package brainaudit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cortexbrain/cortex/pkg/brain"
)

// Sink ships a batch of audit entries for a brain to durable storage.
// Export failures are the caller's to log; they must never block or
// fail the mutation that produced the entries.
type Sink interface {
	Export(ctx context.Context, brainID string, entries []brain.AuditEntry) error
	Close() error
}

// NewSink opens a Sink for dsn, dispatching on its scheme:
// postgres://... / postgresql://... selects the Postgres sink
// (lib/pq); sqlite://... or a bare file path selects the SQLite sink
// (modernc.org/sqlite). An empty dsn returns a no-op sink.
func NewSink(dsn string) (Sink, error) {
	if dsn == "" {
		return noopSink{}, nil
	}
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return newSQLSink("postgres", dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return newSQLSink("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return newSQLSink("sqlite", dsn)
	}
}

// Kind reports which backend NewSink would select for dsn, for status
// display: "postgres", "sqlite", or "none".
func Kind(dsn string) string {
	switch {
	case dsn == "":
		return "none"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

type noopSink struct{}

func (noopSink) Export(context.Context, string, []brain.AuditEntry) error { return nil }
func (noopSink) Close() error                                             { return nil }

// sqlSink is a database/sql-backed Sink shared by the Postgres and
// SQLite drivers; the only difference between them is the driver name
// and DSN passed to sql.Open, and the placeholder syntax used to build
// the insert statement.
type sqlSink struct {
	db         *sql.DB
	driverName string
}

func newSQLSink(driverName, dsn string) (*sqlSink, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("brainaudit: open %s: %w", driverName, err)
	}
	sink := &sqlSink{db: db, driverName: driverName}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *sqlSink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS brain_audit_export (
			id TEXT PRIMARY KEY,
			brain_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("brainaudit: ensure schema: %w", err)
	}
	return nil
}

func (s *sqlSink) placeholder(query string, n int) string {
	if s.driverName != "postgres" {
		return query
	}
	for i := 1; i <= n; i++ {
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
	}
	return query
}

// Export inserts each entry, skipping ones already recorded (by primary
// key) so repeated exports of overlapping ranges are safe.
func (s *sqlSink) Export(ctx context.Context, brainID string, entries []brain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("brainaudit: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.placeholder(`
		INSERT INTO brain_audit_export (id, brain_id, ts, actor, action, details)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, 6)

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("brainaudit: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.ID, brainID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Actor, entry.Action, string(entry.Details)); err != nil {
			return fmt.Errorf("brainaudit: insert entry %s: %w", entry.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("brainaudit: commit: %w", err)
	}
	return nil
}

func (s *sqlSink) Close() error { return s.db.Close() }
