// Package config loads the YAML run configuration, applies defaults and
// environment overrides, and validates it.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dq/internal/storage"
)

// Rule types understood by the rule runner.
const (
	RuleCompleteness = "completeness"
	RuleUniqueness   = "uniqueness"
	RuleTimeliness   = "timeliness"
	RuleIntegrity    = "integrity"
	RuleValidity     = "validity"
)

// RuleTypes lists every rule type in documentation order.
var RuleTypes = []string{RuleCompleteness, RuleUniqueness, RuleTimeliness, RuleIntegrity, RuleValidity}

type Config struct {
	Warehouse     Database      `yaml:"warehouse"`
	Store         Database      `yaml:"store"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Profiling     Profiling     `yaml:"profiling"`
	Prerequisites Prerequisites `yaml:"prerequisites"`
	DataQuality   DataQuality   `yaml:"data_quality"`
	Metrics       Metrics       `yaml:"metrics"`
}

// Database selects a storage backend. A Store without a DSN is the warehouse
// itself, so one database can hold both live tables and results. A Store
// without a kind inherits the warehouse kind.
type Database struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

func (d Database) StorageConfig() storage.Config {
	return storage.Config{Kind: d.Kind, DSN: d.DSN}
}

type Pipeline struct {
	Name    string  `yaml:"name"`
	Logging Logging `yaml:"logging"`

	// StepTimeout bounds every ledger step ("90s", "10m"). Zero means no limit.
	StepTimeout time.Duration `yaml:"step_timeout"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Profiling struct {
	// Scopes are profiled table by table (schema names; "" is the default scope).
	Scopes []string `yaml:"scopes"`
	// Tables are profiled in addition to the scopes, as "schema.table" or "table".
	Tables        []string `yaml:"tables"`
	RetentionDays int      `yaml:"retention_days"`
}

type Prerequisites struct {
	Tables  []string `yaml:"tables"`
	Schemas []string `yaml:"schemas"`
}

type DataQuality struct {
	ValidationRules []Rule `yaml:"validation_rules"`
}

// Rule is one configured quality check with a pass threshold.
//
// Threshold meaning depends on Type:
//   - completeness: minimum non-null percentage of Column
//   - uniqueness:   maximum duplicate percentage over Columns
//   - timeliness:   maximum age in hours of the newest Column value
//   - integrity:    minimum percentage of Column values found in ParentTable.ParentColumn
//   - validity:     minimum percentage of Column values within Range
type Rule struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Table     string   `yaml:"table"`
	Column    string   `yaml:"column,omitempty"`
	Columns   []string `yaml:"columns,omitempty"`
	Threshold float64  `yaml:"threshold"`
	Critical  bool     `yaml:"critical"`

	ParentTable  string `yaml:"parent_table,omitempty"`
	ParentColumn string `yaml:"parent_column,omitempty"`
	// NullPolicy is "orphaned" (default) or "exempt".
	NullPolicy string `yaml:"null_policy,omitempty"`

	// Range is [min, max] for validity rules.
	Range []float64 `yaml:"range,omitempty"`
}

// KeyColumns returns Columns, or Column alone when Columns is empty.
func (r Rule) KeyColumns() []string {
	if len(r.Columns) > 0 {
		return r.Columns
	}
	if r.Column != "" {
		return []string{r.Column}
	}
	return nil
}

type Metrics struct {
	// Backend is "pushgateway", "datadog" or "none".
	Backend        string        `yaml:"backend"`
	PushgatewayURL string        `yaml:"pushgateway_url"`
	Tags           []string      `yaml:"tags"`
	FlushEvery     time.Duration `yaml:"flush_every"`
}

// Defaults.
const (
	DefaultPipelineName   = "data_quality"
	DefaultLogLevel       = "INFO"
	DefaultRetentionDays  = 30
	DefaultPushgatewayURL = "http://localhost:9091"
	DefaultFlushEvery     = 60 * time.Second
)

// Load reads path, applies environment overrides and defaults, and expands
// ${VAR} references in DSNs. It does not validate; call Validate.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML config bytes. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	cfg.Warehouse.DSN = os.ExpandEnv(cfg.Warehouse.DSN)
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Warehouse.DSN, "DQ_WAREHOUSE_DSN")
	set(&c.Store.DSN, "DQ_STORE_DSN")
	set(&c.Pipeline.Logging.Level, "DQ_LOG_LEVEL")
	set(&c.Metrics.Backend, "METRICS_BACKEND")
	set(&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
	if v := getenv("METRICS_TAGS"); v != "" {
		c.Metrics.Tags = splitCSV(v)
	}
}

func (c *Config) applyDefaults() {
	switch {
	case c.Store.DSN == "":
		c.Store = c.Warehouse
	case c.Store.Kind == "":
		c.Store.Kind = c.Warehouse.Kind
	}
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = DefaultPipelineName
	}
	if c.Pipeline.Logging.Level == "" {
		c.Pipeline.Logging.Level = DefaultLogLevel
	}
	if c.Profiling.RetentionDays == 0 {
		c.Profiling.RetentionDays = DefaultRetentionDays
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.PushgatewayURL == "" {
		c.Metrics.PushgatewayURL = DefaultPushgatewayURL
	}
	if c.Metrics.FlushEvery <= 0 {
		c.Metrics.FlushEvery = DefaultFlushEvery
	}
}

// SharedDatabase reports whether the store is the warehouse database itself.
func (c Config) SharedDatabase() bool {
	return c.Store.Kind == c.Warehouse.Kind && c.Store.DSN == c.Warehouse.DSN
}

// ProfileTables returns the configured explicit tables.
func (c Config) ProfileTables() []storage.TableRef {
	out := make([]storage.TableRef, 0, len(c.Profiling.Tables))
	for _, t := range c.Profiling.Tables {
		out = append(out, storage.ParseTableRef(t))
	}
	return out
}

// PrerequisiteTables returns prerequisites.tables as table refs.
func (c Config) PrerequisiteTables() []storage.TableRef {
	out := make([]storage.TableRef, 0, len(c.Prerequisites.Tables))
	for _, t := range c.Prerequisites.Tables {
		out = append(out, storage.ParseTableRef(t))
	}
	return out
}

// Summary is a short description of a loaded config.
type Summary struct {
	WarehouseKind  string   `json:"warehouse_kind"`
	StoreKind      string   `json:"store_kind"`
	SharedDatabase bool     `json:"shared_database"`
	Pipeline       string   `json:"pipeline"`
	Scopes         []string `json:"scopes"`
	Tables         int      `json:"tables"`
	Rules          int      `json:"data_quality_rules"`
	CriticalRules  int      `json:"critical_rules"`
	MetricsBackend string   `json:"metrics_backend"`
}

func (c Config) Summary() Summary {
	s := Summary{
		WarehouseKind:  c.Warehouse.Kind,
		StoreKind:      c.Store.Kind,
		SharedDatabase: c.SharedDatabase(),
		Pipeline:       c.Pipeline.Name,
		Scopes:         append([]string{}, c.Profiling.Scopes...),
		Tables:         len(c.Profiling.Tables),
		Rules:          len(c.DataQuality.ValidationRules),
		MetricsBackend: c.Metrics.Backend,
	}
	for _, r := range c.DataQuality.ValidationRules {
		if r.Critical {
			s.CriticalRules++
		}
	}
	return s
}

// Default is the config written by `dq init`.
func Default() Config {
	return Config{
		Warehouse: Database{Kind: storage.KindSQLite, DSN: "warehouse.db"},
		Pipeline: Pipeline{
			Name:    DefaultPipelineName,
			Logging: Logging{Level: DefaultLogLevel, File: "dq.log"},
		},
		Profiling: Profiling{Scopes: []string{""}, RetentionDays: DefaultRetentionDays},
		DataQuality: DataQuality{ValidationRules: []Rule{{
			Name:      "null_check",
			Type:      RuleCompleteness,
			Table:     "orders",
			Column:    "id",
			Threshold: 95,
			Critical:  true,
		}}},
		Metrics: Metrics{Backend: "none"},
	}
}

// Write encodes cfg as YAML to path, refusing to overwrite an existing file.
func Write(path string, cfg Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
