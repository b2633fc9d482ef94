package catalog

import (
	"context"
	"errors"
	"sort"
	"testing"

	"dq/internal/errs"
	"dq/internal/storage"
)

// fakeWarehouse is an in-memory storage.Warehouse.
type fakeWarehouse struct {
	schemas map[string]bool
	tables  map[storage.TableRef][]storage.ColumnInfo
	err     error
}

func (f *fakeWarehouse) DefaultSchema() string { return "dbo" }

func (f *fakeWarehouse) SchemaExists(_ context.Context, schema string) (bool, error) {
	return f.schemas[schema], f.err
}

func (f *fakeWarehouse) TableExists(_ context.Context, t storage.TableRef) (bool, error) {
	_, ok := f.tables[t]
	return ok, f.err
}

func (f *fakeWarehouse) ListTables(_ context.Context, schema string) ([]storage.TableRef, error) {
	var out []storage.TableRef
	for t := range f.tables {
		if t.Schema == schema {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, f.err
}

func (f *fakeWarehouse) Columns(_ context.Context, t storage.TableRef) ([]storage.ColumnInfo, error) {
	return f.tables[t], f.err
}

func (f *fakeWarehouse) ScanRows(context.Context, storage.TableRef, []string, func([]any) error) error {
	return nil
}

func newFake() *fakeWarehouse {
	return &fakeWarehouse{
		schemas: map[string]bool{"sales": true},
		tables: map[storage.TableRef][]storage.ColumnInfo{
			{Schema: "sales", Name: "orders"}: {
				{Name: "id", DeclaredType: "INTEGER", Ordinal: 0},
				{Name: "amount", DeclaredType: "NUMERIC(10,2)", Ordinal: 1},
			},
			{Schema: "sales", Name: "customers"}: {
				{Name: "id", DeclaredType: "INTEGER"},
			},
			{Schema: "sales", Name: storage.ProfileTable}: {
				{Name: "profile_id", DeclaredType: "TEXT"},
			},
		},
	}
}

func TestInspector_Columns(t *testing.T) {
	t.Parallel()

	in := NewInspector(newFake())

	cols, err := in.Columns(context.Background(), storage.TableRef{Schema: "sales", Name: "orders"})
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 2 || cols[0].Name != "id" || cols[1].DeclaredType != "NUMERIC(10,2)" {
		t.Fatalf("unexpected columns: %#v", cols)
	}

	_, err = in.Columns(context.Background(), storage.TableRef{Schema: "sales", Name: "ghost"})
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "table" || nf.Name != "sales.ghost" {
		t.Fatalf("expected table NotFoundError, got %v", err)
	}
}

func TestInspector_Column(t *testing.T) {
	t.Parallel()

	in := NewInspector(newFake())
	ref := storage.TableRef{Schema: "sales", Name: "orders"}

	c, err := in.Column(context.Background(), ref, "amount")
	if err != nil || c.Ordinal != 1 {
		t.Fatalf("Column(amount)=%#v, %v", c, err)
	}

	_, err = in.Column(context.Background(), ref, "nope")
	if errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("code=%q, want %q", errs.Code(err), errs.CodeNotFound)
	}
}

func TestInspector_TablesSkipsInternal(t *testing.T) {
	t.Parallel()

	in := NewInspector(newFake())

	got, err := in.Tables(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	want := []string{"customers", "orders"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Fatalf("got[%d]=%q, want %q", i, got[i].Name, want[i])
		}
	}

	if _, err := in.Tables(context.Background(), "nope"); !errs.IsNotFound(err) {
		t.Fatalf("expected NotFound for missing schema, got %v", err)
	}
}

func TestInspector_WrapsBackendErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := newFake()
	f.err = boom

	_, err := NewInspector(f).Columns(context.Background(), storage.TableRef{Schema: "sales", Name: "orders"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestInspector_TablesDropDefaultSchema(t *testing.T) {
	t.Parallel()

	f := newFake()
	f.schemas["dbo"] = true
	f.tables[storage.TableRef{Schema: "dbo", Name: "invoices"}] = []storage.ColumnInfo{{Name: "id", DeclaredType: "INT"}}
	in := NewInspector(f)

	got, err := in.Tables(context.Background(), "dbo")
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(got) != 1 || got[0] != (storage.TableRef{Name: "invoices"}) {
		t.Fatalf("got %v, want [invoices] without schema", got)
	}

	sales, err := in.Tables(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Tables(sales): %v", err)
	}
	if sales[0].String() != "sales.customers" {
		t.Fatalf("non-default schema dropped: %v", sales[0])
	}

	if c := in.Canonical(storage.TableRef{Schema: "DBO", Name: "x"}); c.String() != "x" {
		t.Fatalf("Canonical(DBO.x)=%q, want x", c)
	}
}
