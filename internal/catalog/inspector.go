// Package catalog reads table metadata from a warehouse.
package catalog

import (
	"context"
	"fmt"

	"dq/internal/errs"
	"dq/internal/storage"
)

// Inspector enumerates tables and columns. It never writes.
type Inspector struct {
	wh storage.Warehouse
}

func NewInspector(wh storage.Warehouse) *Inspector {
	return &Inspector{wh: wh}
}

// Canonical is t as the profile store keys it: the warehouse default schema
// is dropped.
func (i *Inspector) Canonical(t storage.TableRef) storage.TableRef {
	return t.Canonical(i.wh.DefaultSchema())
}

// Columns returns the columns of t in ordinal order.
//
// Errors:
//   - errs.NotFoundError if t does not exist in its scope.
//   - Backend errors are wrapped with the table name.
func (i *Inspector) Columns(ctx context.Context, t storage.TableRef) ([]storage.ColumnInfo, error) {
	ok, err := i.wh.TableExists(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("catalog: columns %s: %w", t, err)
	}
	if !ok {
		return nil, errs.NotFound("table", t.String())
	}

	cols, err := i.wh.Columns(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("catalog: columns %s: %w", t, err)
	}
	return cols, nil
}

// Column returns one column of t by name.
func (i *Inspector) Column(ctx context.Context, t storage.TableRef, name string) (storage.ColumnInfo, error) {
	cols, err := i.Columns(ctx, t)
	if err != nil {
		return storage.ColumnInfo{}, err
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return storage.ColumnInfo{}, errs.NotFound("column", t.String()+"."+name)
}

// Tables returns the base tables of schema, ordered by name, in canonical
// form. The engine's own profile and ledger tables are skipped.
//
// A missing schema is errs.NotFoundError.
func (i *Inspector) Tables(ctx context.Context, schema string) ([]storage.TableRef, error) {
	ok, err := i.wh.SchemaExists(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("catalog: tables %s: %w", schema, err)
	}
	if !ok {
		return nil, errs.NotFound("schema", schema)
	}

	all, err := i.wh.ListTables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("catalog: tables %s: %w", schema, err)
	}

	out := make([]storage.TableRef, 0, len(all))
	for _, t := range all {
		if storage.IsInternalTable(t.Name) {
			continue
		}
		out = append(out, i.Canonical(t))
	}
	return out, nil
}
