package mssql

import (
	"context"
	"fmt"
	"strings"

	"dq/internal/storage"
)

func (r *Repo) DefaultSchema() string { return schemaOrDbo("") }

func (r *Repo) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = @p1`,
		schemaOrDbo(schema),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: schema exists %s: %w", schema, err)
	}
	return n > 0, nil
}

func (r *Repo) TableExists(ctx context.Context, t storage.TableRef) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		schemaOrDbo(t.Schema), t.Name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: table exists %s: %w", t, err)
	}
	return n > 0, nil
}

func (r *Repo) ListTables(ctx context.Context, schema string) ([]storage.TableRef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`,
		schemaOrDbo(schema),
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: list tables %s: %w", schema, err)
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

func (r *Repo) Columns(ctx context.Context, t storage.TableRef) ([]storage.ColumnInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ORDINAL_POSITION, COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`,
		schemaOrDbo(t.Schema), t.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns %s: %w", t, err)
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var c storage.ColumnInfo
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.DeclaredType); err != nil {
			return nil, err
		}
		c.Ordinal--
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ScanRows(ctx context.Context, t storage.TableRef, columns []string, fn func(row []any) error) error {
	if len(columns) == 0 {
		return fmt.Errorf("mssql: scan %s: no columns", t)
	}

	rows, err := r.db.QueryContext(ctx, buildSelectSQL(t, columns))
	if err != nil {
		return fmt.Errorf("mssql: scan %s: %w", t, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("mssql: scan %s: column types: %w", t, err)
	}
	dbTypes := make([]string, len(types))
	for i, ct := range types {
		dbTypes[i] = ct.DatabaseTypeName()
	}

	vals := make([]any, len(columns))
	scan := make([]any, len(columns))
	for i := range vals {
		scan[i] = &vals[i]
	}
	row := make([]any, len(columns))

	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return fmt.Errorf("mssql: scan %s: %w", t, err)
		}
		for i, v := range vals {
			row[i] = normalizeValue(dbTypes[i], v)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func buildSelectSQL(t storage.TableRef, columns []string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, mssqlIdent(c))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), tableIdent(t))
}
