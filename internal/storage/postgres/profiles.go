package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dq/internal/storage"
)

const createProfileTableSQL = `CREATE TABLE IF NOT EXISTS dq_profile_results (
  profile_id TEXT NOT NULL,
  profiled_at TIMESTAMPTZ NOT NULL,
  table_name TEXT NOT NULL,
  column_name TEXT NOT NULL,
  ordinal INTEGER NOT NULL,
  declared_type TEXT NOT NULL,
  data_type_category TEXT NOT NULL,
  total_count BIGINT NOT NULL,
  null_count BIGINT NOT NULL,
  null_percentage DOUBLE PRECISION,
  distinct_count BIGINT NOT NULL,
  distinct_percentage DOUBLE PRECISION,
  min_value TEXT,
  max_value TEXT,
  avg_value DOUBLE PRECISION,
  std_dev DOUBLE PRECISION,
  min_length BIGINT,
  max_length BIGINT,
  avg_length DOUBLE PRECISION,
  PRIMARY KEY (profile_id, table_name, column_name)
)`

const createProfileIndexSQL = `CREATE INDEX IF NOT EXISTS dq_profile_results_table_ts
  ON dq_profile_results (table_name, profiled_at)`

var profileColumns = []string{
	"profile_id", "profiled_at", "table_name", "column_name", "ordinal", "declared_type",
	"data_type_category", "total_count", "null_count", "null_percentage", "distinct_count",
	"distinct_percentage", "min_value", "max_value", "avg_value", "std_dev",
	"min_length", "max_length", "avg_length",
}

func (r *Repo) EnsureProfileSchema(ctx context.Context) error {
	for _, stmt := range []string{createProfileTableSQL, createProfileIndexSQL} {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure %s: %w", storage.ProfileTable, err)
		}
	}
	return nil
}

// AppendProfiles writes the batch with COPY inside one transaction.
func (r *Repo) AppendProfiles(ctx context.Context, records []storage.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			rec.ProfileID, rec.Timestamp.UTC(), rec.TableName, rec.ColumnName, int32(rec.Ordinal),
			rec.DeclaredType, rec.DataTypeCategory, rec.TotalCount, rec.NullCount, rec.NullPercentage,
			rec.DistinctCount, rec.DistinctPercentage, rec.MinValue, rec.MaxValue, rec.AvgValue,
			rec.StdDev, rec.MinLength, rec.MaxLength, rec.AvgLength,
		})
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{storage.ProfileTable}, profileColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy profiles: %w", err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("postgres: copy profiles: wrote %d of %d rows", n, len(rows))
	}
	return tx.Commit(ctx)
}

func (r *Repo) LatestProfiles(ctx context.Context, table string) ([]storage.ProfileRecord, error) {
	rows, err := r.pool.Query(ctx, buildLatestProfilesSQL(), table)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest profiles %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.ProfileRecord
	for rows.Next() {
		var (
			rec storage.ProfileRecord
			ord int32
		)
		err := rows.Scan(
			&rec.ProfileID, &rec.Timestamp, &rec.TableName, &rec.ColumnName, &ord, &rec.DeclaredType,
			&rec.DataTypeCategory, &rec.TotalCount, &rec.NullCount, &rec.NullPercentage, &rec.DistinctCount,
			&rec.DistinctPercentage, &rec.MinValue, &rec.MaxValue, &rec.AvgValue, &rec.StdDev,
			&rec.MinLength, &rec.MaxLength, &rec.AvgLength,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		rec.Ordinal = int(ord)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildLatestProfilesSQL binds the table filter of both the outer query and
// the max(timestamp) subquery to the same parameter.
func buildLatestProfilesSQL() string {
	cols := make([]string, 0, len(profileColumns))
	for _, c := range profileColumns {
		cols = append(cols, pgIdent(c))
	}
	return fmt.Sprintf(
		`SELECT %s FROM %s WHERE table_name = $1 AND profiled_at = (SELECT MAX(profiled_at) FROM %s WHERE table_name = $1) ORDER BY ordinal, column_name`,
		strings.Join(cols, ", "), storage.ProfileTable, storage.ProfileTable,
	)
}

func (r *Repo) DeleteProfiles(ctx context.Context, table string) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM dq_profile_results WHERE table_name = $1`, table)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete profiles %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

func (r *Repo) DeleteProfilesBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx,
		`DELETE FROM dq_profile_results
WHERE table_name = $1 AND profiled_at < $2
  AND profiled_at < (SELECT MAX(profiled_at) FROM dq_profile_results WHERE table_name = $1)`,
		table, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: compact profiles %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}
