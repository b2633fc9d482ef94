package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dq/internal/storage"
)

const profileDefs = `profile_id NVARCHAR(64) NOT NULL,
  profiled_at DATETIMEOFFSET(7) NOT NULL,
  table_name NVARCHAR(256) NOT NULL,
  column_name NVARCHAR(256) NOT NULL,
  ordinal INT NOT NULL,
  declared_type NVARCHAR(128) NOT NULL,
  data_type_category NVARCHAR(16) NOT NULL,
  total_count BIGINT NOT NULL,
  null_count BIGINT NOT NULL,
  null_percentage FLOAT NULL,
  distinct_count BIGINT NOT NULL,
  distinct_percentage FLOAT NULL,
  min_value NVARCHAR(MAX) NULL,
  max_value NVARCHAR(MAX) NULL,
  avg_value FLOAT NULL,
  std_dev FLOAT NULL,
  min_length BIGINT NULL,
  max_length BIGINT NULL,
  avg_length FLOAT NULL,
  CONSTRAINT pk_dq_profile_results PRIMARY KEY (profile_id, table_name, column_name)`

const ledgerDefs = `log_id NVARCHAR(64) NOT NULL PRIMARY KEY,
  logged_at DATETIMEOFFSET(7) NOT NULL,
  pipeline_name NVARCHAR(256) NOT NULL,
  step_name NVARCHAR(512) NOT NULL,
  log_level NVARCHAR(16) NOT NULL,
  message NVARCHAR(MAX) NOT NULL,
  error_code NVARCHAR(64) NULL,
  execution_time_ms BIGINT NULL,
  records_processed BIGINT NULL`

var profileColumns = []string{
	"profile_id", "profiled_at", "table_name", "column_name", "ordinal", "declared_type",
	"data_type_category", "total_count", "null_count", "null_percentage", "distinct_count",
	"distinct_percentage", "min_value", "max_value", "avg_value", "std_dev",
	"min_length", "max_length", "avg_length",
}

func (r *Repo) EnsureProfileSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, wrapCreateIfMissing(storage.ProfileTable, profileDefs)); err != nil {
		return fmt.Errorf("mssql: create %s: %w", storage.ProfileTable, err)
	}
	return nil
}

func (r *Repo) EnsureLedgerSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, wrapCreateIfMissing(storage.LedgerTable, ledgerDefs)); err != nil {
		return fmt.Errorf("mssql: create %s: %w", storage.LedgerTable, err)
	}
	return nil
}

// buildInsertSQL renders a single-row INSERT with @pN placeholders.
func buildInsertSQL(table string, columns []string) string {
	cols := make([]string, 0, len(columns))
	ph := make([]string, 0, len(columns))
	for i, c := range columns {
		cols = append(cols, mssqlIdent(c))
		ph = append(ph, fmt.Sprintf("@p%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		mssqlIdent("dbo")+"."+mssqlIdent(table), strings.Join(cols, ", "), strings.Join(ph, ", "))
}

func (r *Repo) AppendProfiles(ctx context.Context, records []storage.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := buildInsertSQL(storage.ProfileTable, profileColumns)
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, q,
			rec.ProfileID, rec.Timestamp.UTC(), rec.TableName, rec.ColumnName, rec.Ordinal,
			rec.DeclaredType, rec.DataTypeCategory, rec.TotalCount, rec.NullCount, rec.NullPercentage,
			rec.DistinctCount, rec.DistinctPercentage, rec.MinValue, rec.MaxValue, rec.AvgValue,
			rec.StdDev, rec.MinLength, rec.MaxLength, rec.AvgLength,
		)
		if err != nil {
			return fmt.Errorf("mssql: insert profile %s.%s: %w", rec.TableName, rec.ColumnName, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) LatestProfiles(ctx context.Context, table string) ([]storage.ProfileRecord, error) {
	cols := make([]string, 0, len(profileColumns))
	for _, c := range profileColumns {
		cols = append(cols, mssqlIdent(c))
	}
	q := fmt.Sprintf(
		`SELECT %s FROM [dbo].[dq_profile_results]
WHERE table_name = @p1 AND profiled_at = (SELECT MAX(profiled_at) FROM [dbo].[dq_profile_results] WHERE table_name = @p1)
ORDER BY ordinal, column_name`,
		strings.Join(cols, ", "),
	)

	rows, err := r.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: latest profiles %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.ProfileRecord
	for rows.Next() {
		var (
			rec                                    storage.ProfileRecord
			nullPct, distinctPct, avg, std, avgLen sql.NullFloat64
			minV, maxV                             sql.NullString
			minLen, maxLen                         sql.NullInt64
		)
		err := rows.Scan(
			&rec.ProfileID, &rec.Timestamp, &rec.TableName, &rec.ColumnName, &rec.Ordinal, &rec.DeclaredType,
			&rec.DataTypeCategory, &rec.TotalCount, &rec.NullCount, &nullPct, &rec.DistinctCount,
			&distinctPct, &minV, &maxV, &avg, &std, &minLen, &maxLen, &avgLen,
		)
		if err != nil {
			return nil, fmt.Errorf("mssql: scan profile: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.NullPercentage = nullFloat(nullPct)
		rec.DistinctPercentage = nullFloat(distinctPct)
		rec.MinValue = nullString(minV)
		rec.MaxValue = nullString(maxV)
		rec.AvgValue = nullFloat(avg)
		rec.StdDev = nullFloat(std)
		rec.MinLength = nullInt(minLen)
		rec.MaxLength = nullInt(maxLen)
		rec.AvgLength = nullFloat(avgLen)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteProfiles(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM [dbo].[dq_profile_results] WHERE table_name = @p1`, table)
	if err != nil {
		return 0, fmt.Errorf("mssql: delete profiles %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) DeleteProfilesBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM [dbo].[dq_profile_results]
WHERE table_name = @p1 AND profiled_at < @p2
  AND profiled_at < (SELECT MAX(profiled_at) FROM [dbo].[dq_profile_results] WHERE table_name = @p1)`,
		table, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mssql: compact profiles %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) AppendLogEntry(ctx context.Context, e storage.LogEntry) error {
	q := buildInsertSQL(storage.LedgerTable, []string{
		"log_id", "logged_at", "pipeline_name", "step_name", "log_level",
		"message", "error_code", "execution_time_ms", "records_processed",
	})
	_, err := r.db.ExecContext(ctx, q,
		e.LogID, e.Timestamp.UTC(), e.PipelineName, e.StepName, e.LogLevel,
		e.Message, e.ErrorCode, e.ExecutionTimeMs, e.RecordsProcessed,
	)
	if err != nil {
		return fmt.Errorf("mssql: append log entry: %w", err)
	}
	return nil
}

func (r *Repo) LogEntriesSince(ctx context.Context, pipeline string, since time.Time) ([]storage.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT log_id, logged_at, pipeline_name, step_name, log_level, message, error_code, execution_time_ms, records_processed
FROM [dbo].[dq_pipeline_log] WHERE pipeline_name = @p1 AND logged_at >= @p2 ORDER BY logged_at, log_id`,
		pipeline, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: log entries %s: %w", pipeline, err)
	}
	defer rows.Close()

	var out []storage.LogEntry
	for rows.Next() {
		var (
			e         storage.LogEntry
			code      sql.NullString
			ms, nrecs sql.NullInt64
		)
		if err := rows.Scan(&e.LogID, &e.Timestamp, &e.PipelineName, &e.StepName, &e.LogLevel, &e.Message, &code, &ms, &nrecs); err != nil {
			return nil, fmt.Errorf("mssql: scan log entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.ErrorCode = nullString(code)
		e.ExecutionTimeMs = nullInt(ms)
		e.RecordsProcessed = nullInt(nrecs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
