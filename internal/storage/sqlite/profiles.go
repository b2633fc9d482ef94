package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dq/internal/storage"
)

const createProfileTableSQL = `CREATE TABLE IF NOT EXISTS dq_profile_results (
  profile_id TEXT NOT NULL,
  profiled_at TEXT NOT NULL,
  table_name TEXT NOT NULL,
  column_name TEXT NOT NULL,
  ordinal INTEGER NOT NULL,
  declared_type TEXT NOT NULL,
  data_type_category TEXT NOT NULL,
  total_count INTEGER NOT NULL,
  null_count INTEGER NOT NULL,
  null_percentage REAL,
  distinct_count INTEGER NOT NULL,
  distinct_percentage REAL,
  min_value TEXT,
  max_value TEXT,
  avg_value REAL,
  std_dev REAL,
  min_length INTEGER,
  max_length INTEGER,
  avg_length REAL,
  PRIMARY KEY (profile_id, table_name, column_name)
);`

const createProfileIndexSQL = `CREATE INDEX IF NOT EXISTS dq_profile_results_table_ts
  ON dq_profile_results (table_name, profiled_at);`

// profileColumns is the column order shared by insert and select.
var profileColumns = []string{
	"profile_id", "profiled_at", "table_name", "column_name", "ordinal", "declared_type",
	"data_type_category", "total_count", "null_count", "null_percentage", "distinct_count",
	"distinct_percentage", "min_value", "max_value", "avg_value", "std_dev",
	"min_length", "max_length", "avg_length",
}

func (r *Repo) EnsureProfileSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createProfileTableSQL); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", storage.ProfileTable, err)
	}
	if _, err := r.db.ExecContext(ctx, createProfileIndexSQL); err != nil {
		return fmt.Errorf("sqlite: create %s index: %w", storage.ProfileTable, err)
	}
	return nil
}

// AppendProfiles inserts a run batch in a single transaction.
func (r *Repo) AppendProfiles(ctx context.Context, records []storage.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(profileColumns)), ",")
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		storage.ProfileTable, joinIdentList(profileColumns), placeholders)

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("sqlite: prepare profile insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, profileArgs(rec)...); err != nil {
			return fmt.Errorf("sqlite: insert profile %s.%s: %w", rec.TableName, rec.ColumnName, err)
		}
	}
	return tx.Commit()
}

func profileArgs(rec storage.ProfileRecord) []any {
	return []any{
		rec.ProfileID, storage.FormatTimestamp(rec.Timestamp), rec.TableName, rec.ColumnName,
		rec.Ordinal, rec.DeclaredType, rec.DataTypeCategory, rec.TotalCount, rec.NullCount,
		rec.NullPercentage, rec.DistinctCount, rec.DistinctPercentage, rec.MinValue, rec.MaxValue,
		rec.AvgValue, rec.StdDev, rec.MinLength, rec.MaxLength, rec.AvgLength,
	}
}

// LatestProfiles binds both predicates to the table parameter; the subquery
// must never degrade into a self-comparison that matches every table.
func (r *Repo) LatestProfiles(ctx context.Context, table string) ([]storage.ProfileRecord, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE table_name = ? AND profiled_at = (SELECT MAX(profiled_at) FROM %s WHERE table_name = ?) ORDER BY ordinal, column_name`,
		joinIdentList(profileColumns), storage.ProfileTable, storage.ProfileTable,
	)
	rows, err := r.db.QueryContext(ctx, q, table, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest profiles %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.ProfileRecord
	for rows.Next() {
		rec, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanProfile(rows *sql.Rows) (storage.ProfileRecord, error) {
	var (
		rec                                    storage.ProfileRecord
		ts                                     string
		nullPct, distinctPct, avg, std, avgLen sql.NullFloat64
		minV, maxV                             sql.NullString
		minLen, maxLen                         sql.NullInt64
	)
	err := rows.Scan(
		&rec.ProfileID, &ts, &rec.TableName, &rec.ColumnName, &rec.Ordinal, &rec.DeclaredType,
		&rec.DataTypeCategory, &rec.TotalCount, &rec.NullCount, &nullPct, &rec.DistinctCount,
		&distinctPct, &minV, &maxV, &avg, &std, &minLen, &maxLen, &avgLen,
	)
	if err != nil {
		return rec, fmt.Errorf("sqlite: scan profile: %w", err)
	}
	if rec.Timestamp, err = storage.ParseTimestamp(ts); err != nil {
		return rec, fmt.Errorf("sqlite: parse profiled_at=%q: %w", ts, err)
	}
	rec.NullPercentage = floatPtr(nullPct)
	rec.DistinctPercentage = floatPtr(distinctPct)
	rec.MinValue = stringPtr(minV)
	rec.MaxValue = stringPtr(maxV)
	rec.AvgValue = floatPtr(avg)
	rec.StdDev = floatPtr(std)
	rec.MinLength = intPtr(minLen)
	rec.MaxLength = intPtr(maxLen)
	rec.AvgLength = floatPtr(avgLen)
	return rec, nil
}

func (r *Repo) DeleteProfiles(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE table_name = ?`, storage.ProfileTable), table)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete profiles %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) DeleteProfilesBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf(
		`DELETE FROM %s WHERE table_name = ? AND profiled_at < ? AND profiled_at < (SELECT MAX(profiled_at) FROM %s WHERE table_name = ?)`,
		storage.ProfileTable, storage.ProfileTable,
	)
	res, err := r.db.ExecContext(ctx, q, table, storage.FormatTimestamp(cutoff), table)
	if err != nil {
		return 0, fmt.Errorf("sqlite: compact profiles %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
