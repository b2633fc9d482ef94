package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dq/internal/storage"
)

const createLedgerTableSQL = `CREATE TABLE IF NOT EXISTS dq_pipeline_log (
  log_id TEXT PRIMARY KEY,
  logged_at TEXT NOT NULL,
  pipeline_name TEXT NOT NULL,
  step_name TEXT NOT NULL,
  log_level TEXT NOT NULL,
  message TEXT NOT NULL,
  error_code TEXT,
  execution_time_ms INTEGER,
  records_processed INTEGER
);`

const createLedgerIndexSQL = `CREATE INDEX IF NOT EXISTS dq_pipeline_log_pipeline_ts
  ON dq_pipeline_log (pipeline_name, logged_at);`

func (r *Repo) EnsureLedgerSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createLedgerTableSQL); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", storage.LedgerTable, err)
	}
	if _, err := r.db.ExecContext(ctx, createLedgerIndexSQL); err != nil {
		return fmt.Errorf("sqlite: create %s index: %w", storage.LedgerTable, err)
	}
	return nil
}

func (r *Repo) AppendLogEntry(ctx context.Context, e storage.LogEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dq_pipeline_log (log_id, logged_at, pipeline_name, step_name, log_level, message, error_code, execution_time_ms, records_processed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LogID, storage.FormatTimestamp(e.Timestamp), e.PipelineName, e.StepName, e.LogLevel,
		e.Message, e.ErrorCode, e.ExecutionTimeMs, e.RecordsProcessed,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append log entry: %w", err)
	}
	return nil
}

func (r *Repo) LogEntriesSince(ctx context.Context, pipeline string, since time.Time) ([]storage.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT log_id, logged_at, pipeline_name, step_name, log_level, message, error_code, execution_time_ms, records_processed
FROM dq_pipeline_log WHERE pipeline_name = ? AND logged_at >= ? ORDER BY logged_at, log_id`,
		pipeline, storage.FormatTimestamp(since),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: log entries %s: %w", pipeline, err)
	}
	defer rows.Close()

	var out []storage.LogEntry
	for rows.Next() {
		var (
			e         storage.LogEntry
			ts        string
			code      sql.NullString
			ms, nrecs sql.NullInt64
		)
		if err := rows.Scan(&e.LogID, &ts, &e.PipelineName, &e.StepName, &e.LogLevel, &e.Message, &code, &ms, &nrecs); err != nil {
			return nil, fmt.Errorf("sqlite: scan log entry: %w", err)
		}
		if e.Timestamp, err = storage.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse logged_at=%q: %w", ts, err)
		}
		e.ErrorCode = stringPtr(code)
		e.ExecutionTimeMs = intPtr(ms)
		e.RecordsProcessed = intPtr(nrecs)
		out = append(out, e)
	}
	return out, rows.Err()
}
