package postgres

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"dq/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Warehouse reads over information_schema plus a streaming row accessor
  - The profile store (dq_profile_results) with TIMESTAMPTZ run timestamps
  - The pipeline ledger (dq_pipeline_log)

Behavior matches the SQLite and MSSQL implementations.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register(storage.KindPostgres, New)
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func schemaOrPublic(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return "public"
	}
	return schema
}

func tableIdent(t storage.TableRef) string {
	return pgIdent(schemaOrPublic(t.Schema)) + "." + pgIdent(t.Name)
}

// normalizeValue converts pgx-decoded values that have no direct scalar
// equivalent before handing them to storage.Scalar.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		// NaN stays NaN and an unconvertible value stays a pgtype.Numeric;
		// numeric accumulators reject both instead of counting a NULL.
		f, err := t.Float64Value()
		if err != nil {
			return t
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(t).String()
	case netip.Prefix:
		return t.String()
	case netip.Addr:
		return t.String()
	case pgtype.Time:
		if !t.Valid {
			return nil
		}
		return formatTimeOfDay(t.Microseconds)
	case pgtype.Interval:
		if !t.Valid {
			return nil
		}
		return fmt.Sprintf("%d months %d days %d us", t.Months, t.Days, t.Microseconds)
	case map[string]any, []any:
		return fmt.Sprint(t)
	default:
		return storage.Scalar(v)
	}
}

func formatTimeOfDay(us int64) string {
	h := us / 3_600_000_000
	us -= h * 3_600_000_000
	m := us / 60_000_000
	us -= m * 60_000_000
	s := us / 1_000_000
	us -= s * 1_000_000
	return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, us)
}

var _ storage.Repository = (*Repo)(nil)
