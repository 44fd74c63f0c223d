package brainaudit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cortexbrain/cortex/pkg/brain"
)

func TestNewSinkEmptyDSNIsNoop(t *testing.T) {
	sink, err := NewSink("")
	require.NoError(t, err)
	require.NoError(t, sink.Export(context.Background(), "b1", nil))
	require.NoError(t, sink.Close())
}

func TestSQLiteSinkExportsEntries(t *testing.T) {
	sink, err := NewSink("sqlite://:memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	entries := []brain.AuditEntry{
		{ID: "a1", Timestamp: time.Now().UTC(), Actor: "user", Action: "brain.create", Details: json.RawMessage(`{"brain_id":"b1"}`)},
	}
	require.NoError(t, sink.Export(context.Background(), "b1", entries))
	// Exporting the same entry again must not error (ON CONFLICT DO NOTHING).
	require.NoError(t, sink.Export(context.Background(), "b1", entries))
}

func TestPostgresSinkUsesMockedDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS brain_audit_export").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO brain_audit_export")
	mock.ExpectExec("INSERT INTO brain_audit_export").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sink := &sqlSink{db: db, driverName: "postgres"}
	require.NoError(t, sink.ensureSchema(context.Background()))

	entries := []brain.AuditEntry{
		{ID: "a1", Timestamp: time.Now().UTC(), Actor: "user", Action: "brain.create"},
	}
	require.NoError(t, sink.Export(context.Background(), "b1", entries))
	require.NoError(t, mock.ExpectationsWereMet())
}
