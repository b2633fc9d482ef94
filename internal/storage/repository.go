package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Backend kinds understood by Open once the matching package is linked in
// (see internal/storage/all).
const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindMSSQL    = "mssql"
)

// SupportedKinds lists every backend kind this module ships.
var SupportedKinds = []string{KindSQLite, KindPostgres, KindMSSQL}

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Warehouse is read access to live tables: metadata plus a row accessor.
//
// Implementations quote every identifier themselves. Callers never pass SQL
// text, only table and column names.
type Warehouse interface {
	// DefaultSchema names the scope an unqualified table resolves to
	// ("main", "public", "dbo").
	DefaultSchema() string

	// SchemaExists reports whether the named scope exists. An empty schema
	// means the backend's default scope.
	SchemaExists(ctx context.Context, schema string) (bool, error)

	TableExists(ctx context.Context, t TableRef) (bool, error)

	// ListTables returns base tables (no views) of a scope ordered by name.
	ListTables(ctx context.Context, schema string) ([]TableRef, error)

	// Columns returns columns in ordinal order. A missing table yields
	// an empty slice and no error; callers decide how to report it.
	Columns(ctx context.Context, t TableRef) ([]ColumnInfo, error)

	// ScanRows streams the selected columns of every row to fn. Values are
	// normalised to Go scalars (see Scalar). The row slice is reused between
	// calls; fn must copy anything it keeps. Returning an error from fn stops
	// the scan and is returned unchanged.
	ScanRows(ctx context.Context, t TableRef, columns []string, fn func(row []any) error) error
}

// ProfileRepository persists profile records. It is append-only apart from
// the explicit delete operations.
type ProfileRepository interface {
	EnsureProfileSchema(ctx context.Context) error

	// AppendProfiles writes one run batch atomically.
	AppendProfiles(ctx context.Context, records []ProfileRecord) error

	// LatestProfiles returns the records of table whose timestamp equals the
	// table's max(timestamp), ordered by column ordinal.
	LatestProfiles(ctx context.Context, table string) ([]ProfileRecord, error)

	// DeleteProfiles removes every record for table and returns the count.
	DeleteProfiles(ctx context.Context, table string) (int64, error)

	// DeleteProfilesBefore removes records of table older than cutoff, never
	// touching the latest run. Returns the count removed.
	DeleteProfilesBefore(ctx context.Context, table string, cutoff time.Time) (int64, error)
}

// LedgerRepository persists pipeline log entries. Append-only.
type LedgerRepository interface {
	EnsureLedgerSchema(ctx context.Context) error
	AppendLogEntry(ctx context.Context, e LogEntry) error

	// LogEntriesSince returns entries of pipeline with timestamp >= since,
	// oldest first.
	LogEntriesSince(ctx context.Context, pipeline string, since time.Time) ([]LogEntry, error)
}

// Repository is the full backend surface. A backend serves as warehouse,
// profile store and ledger at once; configuration decides whether those roles
// point at the same database or at different ones.
type Repository interface {
	Warehouse
	ProfileRepository
	LedgerRepository

	// Close releases backend resources. Call once.
	Close()
}

// Factory opens a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or not registered.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Registered())
	}
	return f(ctx, cfg)
}

// Registered returns the currently registered kinds, sorted.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ScanColumn is the single-column accessor used by the profiler and checks.
func ScanColumn(ctx context.Context, w Warehouse, t TableRef, column string, fn func(v any) error) error {
	return w.ScanRows(ctx, t, []string{column}, func(row []any) error {
		return fn(row[0])
	})
}
