package postgres

import (
	"context"
	"fmt"
	"time"

	"dq/internal/storage"
)

const createLedgerTableSQL = `CREATE TABLE IF NOT EXISTS dq_pipeline_log (
  log_id TEXT PRIMARY KEY,
  logged_at TIMESTAMPTZ NOT NULL,
  pipeline_name TEXT NOT NULL,
  step_name TEXT NOT NULL,
  log_level TEXT NOT NULL CHECK (log_level IN ('INFO', 'SUCCESS', 'ERROR')),
  message TEXT NOT NULL,
  error_code TEXT,
  execution_time_ms BIGINT,
  records_processed BIGINT
)`

const createLedgerIndexSQL = `CREATE INDEX IF NOT EXISTS dq_pipeline_log_pipeline_ts
  ON dq_pipeline_log (pipeline_name, logged_at)`

func (r *Repo) EnsureLedgerSchema(ctx context.Context) error {
	for _, stmt := range []string{createLedgerTableSQL, createLedgerIndexSQL} {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure %s: %w", storage.LedgerTable, err)
		}
	}
	return nil
}

func (r *Repo) AppendLogEntry(ctx context.Context, e storage.LogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dq_pipeline_log (log_id, logged_at, pipeline_name, step_name, log_level, message, error_code, execution_time_ms, records_processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.LogID, e.Timestamp.UTC(), e.PipelineName, e.StepName, e.LogLevel,
		e.Message, e.ErrorCode, e.ExecutionTimeMs, e.RecordsProcessed,
	)
	if err != nil {
		return fmt.Errorf("postgres: append log entry: %w", err)
	}
	return nil
}

func (r *Repo) LogEntriesSince(ctx context.Context, pipeline string, since time.Time) ([]storage.LogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT log_id, logged_at, pipeline_name, step_name, log_level, message, error_code, execution_time_ms, records_processed
FROM dq_pipeline_log WHERE pipeline_name = $1 AND logged_at >= $2 ORDER BY logged_at, log_id`,
		pipeline, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: log entries %s: %w", pipeline, err)
	}
	defer rows.Close()

	var out []storage.LogEntry
	for rows.Next() {
		var e storage.LogEntry
		if err := rows.Scan(&e.LogID, &e.Timestamp, &e.PipelineName, &e.StepName, &e.LogLevel,
			&e.Message, &e.ErrorCode, &e.ExecutionTimeMs, &e.RecordsProcessed); err != nil {
			return nil, fmt.Errorf("postgres: scan log entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
