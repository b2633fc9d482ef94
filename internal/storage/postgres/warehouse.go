package postgres

import (
	"context"
	"fmt"
	"strings"

	"dq/internal/storage"
)

func (r *Repo) DefaultSchema() string { return schemaOrPublic("") }

func (r *Repo) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schemaOrPublic(schema),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: schema exists %s: %w", schema, err)
	}
	return ok, nil
}

func (r *Repo) TableExists(ctx context.Context, t storage.TableRef) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schemaOrPublic(t.Schema), t.Name,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: table exists %s: %w", t, err)
	}
	return ok, nil
}

func (r *Repo) ListTables(ctx context.Context, schema string) ([]storage.TableRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT table_name::text FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
		schemaOrPublic(schema),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables %s: %w", schema, err)
	}
	defer rows.Close()

	var out []storage.TableRef
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, storage.TableRef{Schema: schema, Name: name})
	}
	return out, rows.Err()
}

// Columns reports data_type, except for arrays and user-defined types where
// udt_name is the more useful declared type. information_schema uses domain
// types pgx has no codec for, hence the casts.
func (r *Repo) Columns(ctx context.Context, t storage.TableRef) ([]storage.ColumnInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ordinal_position::int4, column_name::text,
  (CASE WHEN data_type IN ('ARRAY', 'USER-DEFINED') THEN udt_name ELSE data_type END)::text
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`,
		schemaOrPublic(t.Schema), t.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s: %w", t, err)
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var (
			c   storage.ColumnInfo
			pos int32
		)
		if err := rows.Scan(&pos, &c.Name, &c.DeclaredType); err != nil {
			return nil, err
		}
		c.Ordinal = int(pos) - 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ScanRows(ctx context.Context, t storage.TableRef, columns []string, fn func(row []any) error) error {
	if len(columns) == 0 {
		return fmt.Errorf("postgres: scan %s: no columns", t)
	}

	rows, err := r.pool.Query(ctx, buildSelectSQL(t, columns))
	if err != nil {
		return fmt.Errorf("postgres: scan %s: %w", t, err)
	}
	defer rows.Close()

	row := make([]any, len(columns))
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fmt.Errorf("postgres: scan %s: %w", t, err)
		}
		for i, v := range vals {
			row[i] = normalizeValue(v)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// buildSelectSQL is pure and deterministic so quoting can be unit tested
// without a database.
func buildSelectSQL(t storage.TableRef, columns []string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, pgIdent(c))
	}
	return fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), tableIdent(t))
}
