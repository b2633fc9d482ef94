// The record types live here so the profile, ledger and backend packages can
// all import them without circular deps.
package storage

import (
	"strings"
	"time"
)

// Names of the engine's own tables. Orchestration skips them when a scope
// doubles as the store.
const (
	ProfileTable = "dq_profile_results"
	LedgerTable  = "dq_pipeline_log"
)

// IsInternalTable reports whether name is one of the engine's own tables.
func IsInternalTable(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == ProfileTable || n == LedgerTable
}

type TableRef struct {
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Name   string `json:"name" yaml:"name"`
}

// String renders schema.name, or name alone when no schema is set.
func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Canonical drops the schema when it names the backend default, so
// "main.customers" and "customers" share one profile history.
func (t TableRef) Canonical(defaultSchema string) TableRef {
	if defaultSchema != "" && strings.EqualFold(strings.TrimSpace(t.Schema), defaultSchema) {
		t.Schema = ""
	}
	return t
}

// ParseTableRef splits "schema.table" on the first dot. A name with no dot has
// an empty schema.
func ParseTableRef(s string) TableRef {
	s = strings.TrimSpace(s)
	schema, name, ok := strings.Cut(s, ".")
	if !ok {
		return TableRef{Name: s}
	}
	return TableRef{Schema: strings.TrimSpace(schema), Name: strings.TrimSpace(name)}
}

type ColumnInfo struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	Ordinal      int    `json:"ordinal"`
}

// ProfileRecord is one row per (run, table, column).
//
// Pointer fields are NULL-able. Exactly one category's specialised fields are
// set; the others stay nil.
type ProfileRecord struct {
	ProfileID        string    `json:"profile_id"`
	Timestamp        time.Time `json:"timestamp"`
	TableName        string    `json:"table_name"`
	ColumnName       string    `json:"column_name"`
	Ordinal          int       `json:"ordinal"`
	DeclaredType     string    `json:"declared_type"`
	DataTypeCategory string    `json:"data_type_category"`

	TotalCount         int64    `json:"total_count"`
	NullCount          int64    `json:"null_count"`
	NullPercentage     *float64 `json:"null_percentage"`
	DistinctCount      int64    `json:"distinct_count"`
	DistinctPercentage *float64 `json:"distinct_percentage"`

	// numeric, text, temporal
	MinValue *string `json:"min_value,omitempty"`
	MaxValue *string `json:"max_value,omitempty"`

	// numeric
	AvgValue *float64 `json:"avg_value,omitempty"`
	StdDev   *float64 `json:"std_dev,omitempty"`

	// text
	MinLength *int64   `json:"min_length,omitempty"`
	MaxLength *int64   `json:"max_length,omitempty"`
	AvgLength *float64 `json:"avg_length,omitempty"`
}

// Log levels recorded by the ledger.
const (
	LevelInfo    = "INFO"
	LevelSuccess = "SUCCESS"
	LevelError   = "ERROR"
)

// LogEntry is one pipeline ledger row. ErrorCode is set iff LogLevel is ERROR.
type LogEntry struct {
	LogID            string    `json:"log_id"`
	Timestamp        time.Time `json:"timestamp"`
	PipelineName     string    `json:"pipeline_name"`
	StepName         string    `json:"step_name"`
	LogLevel         string    `json:"log_level"`
	Message          string    `json:"message"`
	ErrorCode        *string   `json:"error_code,omitempty"`
	ExecutionTimeMs  *int64    `json:"execution_time_ms,omitempty"`
	RecordsProcessed *int64    `json:"records_processed,omitempty"`
}
