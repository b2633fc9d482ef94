package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"dq/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Notes:
//   - Importing go-mssqldb registers the "sqlserver" driver with database/sql.
//   - DECIMAL/MONEY columns arrive as []byte text and stay strings after
//     normalisation; the numeric accumulator parses them.
//   - UNIQUEIDENTIFIER values use SQL Server's mixed-endian byte order and are
//     rendered through mssqldb.UniqueIdentifier.
//   - Timestamps in the engine's own tables are DATETIMEOFFSET(7), written as UTC.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register(storage.KindMSSQL, New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func schemaOrDbo(schema string) string {
	if strings.TrimSpace(schema) == "" {
		return "dbo"
	}
	return schema
}

func tableIdent(t storage.TableRef) string {
	return mssqlIdent(schemaOrDbo(t.Schema)) + "." + mssqlIdent(t.Name)
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps schema setup idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'dbo.%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlIdent("dbo")+"."+mssqlIdent(tableName),
		innerDefs,
	)
}

// normalizeValue converts a scanned value using the column's database type.
func normalizeValue(dbType string, v any) any {
	if v == nil {
		return nil
	}
	if strings.EqualFold(dbType, "UNIQUEIDENTIFIER") {
		var u mssqldb.UniqueIdentifier
		if err := u.Scan(v); err == nil {
			return u.String()
		}
	}
	return storage.Scalar(v)
}

var _ storage.Repository = (*Repo)(nil)
