package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"dq/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMPTZ type. The profile store and ledger keep
//     timestamps as fixed-width UTC TEXT (storage.FormatTimestamp) so that
//     MAX() and range filters compare correctly as strings.
//   - A "schema" is an attached database name; the default scope is "main".
//   - modernc.org/sqlite returns time.Time only for DATE/DATETIME/TIMESTAMP
//     declared columns holding parseable text. Other columns come back as
//     int64, float64, string or []byte.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register(storage.KindSQLite, New)
}

// New opens the database named by cfg.DSN and verifies connectivity.
//
// In-memory DSNs get a single connection: every connection to ":memory:"
// would otherwise see its own empty database.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if isMemoryDSN(cfg.DSN) {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases the database handle.
func (r *Repo) Close() { _ = r.db.Close() }

// DB exposes the handle for tests and seeding tools.
func (r *Repo) DB() *sql.DB { return r.db }

func isMemoryDSN(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func schemaOrMain(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return "main"
	}
	return schema
}

// tableIdent renders "schema"."table" with the default scope filled in.
func tableIdent(t storage.TableRef) string {
	return sqlIdent(schemaOrMain(t.Schema)) + "." + sqlIdent(t.Name)
}

var _ storage.Repository = (*Repo)(nil)
