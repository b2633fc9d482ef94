package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"dq/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the YAML path of the offending
// value, e.g. "data_quality.validation_rules[2].threshold".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var logLevels = []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR"}

var metricsBackends = []string{"none", "pushgateway", "datadog"}

var nullPolicies = []string{"", "orphaned", "exempt"}

// Validate checks cfg after Load. It never stops at the first problem.
func Validate(cfg Config) []Issue {
	var v validator

	v.database("warehouse", cfg.Warehouse)
	v.database("store", cfg.Store)

	if !slices.Contains(logLevels, strings.ToUpper(cfg.Pipeline.Logging.Level)) {
		v.errorf("pipeline.logging.level", "unknown level %q (want DEBUG, INFO, WARN or ERROR)", cfg.Pipeline.Logging.Level)
	}

	if cfg.Pipeline.StepTimeout < 0 {
		v.errorf("pipeline.step_timeout", "must be >= 0, got %s", cfg.Pipeline.StepTimeout)
	}

	if len(cfg.Profiling.Scopes) == 0 && len(cfg.Profiling.Tables) == 0 {
		v.warnf("profiling", "no scopes or tables configured; profile has nothing to do")
	}
	for i, t := range cfg.Profiling.Tables {
		if storage.ParseTableRef(t).Name == "" {
			v.errorf(fmt.Sprintf("profiling.tables[%d]", i), "empty table name")
		}
	}
	if cfg.Profiling.RetentionDays < 0 {
		v.errorf("profiling.retention_days", "must be >= 0, got %d", cfg.Profiling.RetentionDays)
	}

	seen := map[string]int{}
	for i, r := range cfg.DataQuality.ValidationRules {
		path := fmt.Sprintf("data_quality.validation_rules[%d]", i)
		if r.Name == "" {
			v.errorf(path+".name", "required")
		} else if j, dup := seen[r.Name]; dup {
			v.errorf(path+".name", "duplicate rule name %q (also rules[%d])", r.Name, j)
		} else {
			seen[r.Name] = i
		}
		v.rule(path, r)
	}

	if !slices.Contains(metricsBackends, cfg.Metrics.Backend) {
		v.warnf("metrics.backend", "unknown backend %q; metrics will be disabled", cfg.Metrics.Backend)
	}
	if cfg.Metrics.Backend == "pushgateway" {
		if u, err := url.Parse(cfg.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			v.errorf("metrics.pushgateway_url", "invalid URL %q", cfg.Metrics.PushgatewayURL)
		}
	}

	return v.issues
}

type validator struct {
	issues []Issue
}

func (v *validator) errorf(path, format string, a ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
}

func (v *validator) warnf(path, format string, a ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
}

func (v *validator) database(path string, d Database) {
	switch {
	case d.Kind == "":
		v.errorf(path+".kind", "required")
	case !slices.Contains(storage.SupportedKinds, d.Kind):
		v.errorf(path+".kind", "unknown kind %q (want one of %s)", d.Kind, strings.Join(storage.SupportedKinds, ", "))
	}
	if d.DSN == "" {
		v.errorf(path+".dsn", "required")
	}
}

func (v *validator) rule(path string, r Rule) {
	if !slices.Contains(RuleTypes, r.Type) {
		v.errorf(path+".type", "unknown rule type %q (want one of %s)", r.Type, strings.Join(RuleTypes, ", "))
		return
	}
	if r.Table == "" {
		v.errorf(path+".table", "required")
	}

	switch r.Type {
	case RuleUniqueness:
		if len(r.KeyColumns()) == 0 {
			v.errorf(path+".columns", "at least one key column required")
		}
	default:
		if r.Column == "" {
			v.errorf(path+".column", "required")
		}
	}

	switch r.Type {
	case RuleTimeliness:
		if r.Threshold < 0 {
			v.errorf(path+".threshold", "max age hours must be >= 0, got %v", r.Threshold)
		}
	default:
		if r.Threshold < 0 || r.Threshold > 100 {
			v.errorf(path+".threshold", "percentage must be in [0,100], got %v", r.Threshold)
		}
	}

	switch r.Type {
	case RuleIntegrity:
		if r.ParentTable == "" {
			v.errorf(path+".parent_table", "required")
		}
		if r.ParentColumn == "" {
			v.errorf(path+".parent_column", "required")
		}
		if !slices.Contains(nullPolicies, strings.ToLower(strings.TrimSpace(r.NullPolicy))) {
			v.errorf(path+".null_policy", "unknown policy %q (want orphaned or exempt)", r.NullPolicy)
		}
	case RuleValidity:
		switch {
		case len(r.Range) != 2:
			v.errorf(path+".range", "want [min, max], got %d values", len(r.Range))
		case r.Range[0] > r.Range[1]:
			v.errorf(path+".range", "min %v > max %v", r.Range[0], r.Range[1])
		}
	}
}
