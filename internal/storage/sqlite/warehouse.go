package sqlite

import (
	"context"
	"fmt"
	"strings"

	"dq/internal/storage"
)

func (r *Repo) DefaultSchema() string { return schemaOrMain("") }

func (r *Repo) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_database_list WHERE name = ?`,
		schemaOrMain(schema),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: schema exists %s: %w", schema, err)
	}
	return n > 0, nil
}

func (r *Repo) TableExists(ctx context.Context, t storage.TableRef) (bool, error) {
	q := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s.sqlite_master WHERE type = 'table' AND name = ?`,
		sqlIdent(schemaOrMain(t.Schema)),
	)
	var n int
	if err := r.db.QueryRowContext(ctx, q, t.Name).Scan(&n); err != nil {
		// An unknown schema surfaces as "unknown database"; treat it as absent.
		if strings.Contains(err.Error(), "unknown database") {
			return false, nil
		}
		return false, fmt.Errorf("sqlite: table exists %s: %w", t, err)
	}
	return n > 0, nil
}

func (r *Repo) ListTables(ctx context.Context, schema string) ([]storage.TableRef, error) {
	q := fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%%' ESCAPE '\' ORDER BY name`,
		sqlIdent(schemaOrMain(schema)),
	)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tables %s: %w", schema, err)
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
		`SELECT cid, name, type FROM pragma_table_info(?, ?) ORDER BY cid`,
		t.Name, schemaOrMain(t.Schema),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns %s: %w", t, err)
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var c storage.ColumnInfo
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.DeclaredType); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ScanRows(ctx context.Context, t storage.TableRef, columns []string, fn func(row []any) error) error {
	if len(columns) == 0 {
		return fmt.Errorf("sqlite: scan %s: no columns", t)
	}
	q := buildSelectSQL(t, columns)

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("sqlite: scan %s: %w", t, err)
	}
	defer rows.Close()

	vals := make([]any, len(columns))
	scan := make([]any, len(columns))
	for i := range vals {
		scan[i] = &vals[i]
	}
	row := make([]any, len(columns))

	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return fmt.Errorf("sqlite: scan %s: %w", t, err)
		}
		for i, v := range vals {
			row[i] = storage.Scalar(v)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// buildSelectSQL is pure so quoting can be unit tested without a database.
func buildSelectSQL(t storage.TableRef, columns []string) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, sqlIdent(c))
	}
	return fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), tableIdent(t))
}
