// Package rules runs the configured validation rules and judges each result
// against its threshold.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dq/internal/config"
	"dq/internal/errs"
	"dq/internal/ledger"
	"dq/internal/metrics"
	"dq/internal/profile"
	"dq/internal/quality"
	"dq/internal/storage"
)

// Outcome is the verdict on one rule.
type Outcome struct {
	Rule      string  `json:"rule"`
	Type      string  `json:"type"`
	Table     string  `json:"table"`
	Critical  bool    `json:"critical"`
	Passed    bool    `json:"passed"`
	Metric    string  `json:"metric,omitempty"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	// Check is the underlying quality check result.
	Check any    `json:"check,omitempty"`
	Error string `json:"error,omitempty"`
}

// Report is the outcome of a Run, in rule order. Rules not evaluated because
// ctx was cancelled are listed in Skipped.
type Report struct {
	Outcomes       []Outcome `json:"outcomes"`
	Passed         int       `json:"passed"`
	Failed         int       `json:"failed"`
	Skipped        []string  `json:"skipped,omitempty"`
	CriticalFailed bool      `json:"critical_failed"`
}

type Runner struct {
	checker  *quality.Checker
	ledger   *ledger.Ledger
	pipeline string
	logger   *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

func WithPipeline(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.pipeline = name
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(checker *quality.Checker, l *ledger.Ledger, opts ...Option) *Runner {
	r := &Runner{
		checker:  checker,
		ledger:   l,
		pipeline: profile.DefaultPipeline,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run evaluates every rule in order. Each rule is one ledger step named
// "rule:<name>". A rule whose check cannot run counts as failed.
func (r *Runner) Run(ctx context.Context, rules []config.Rule) Report {
	rep := Report{Outcomes: make([]Outcome, 0, len(rules))}
	for i, rule := range rules {
		if ctx.Err() != nil {
			for _, rest := range rules[i:] {
				rep.Skipped = append(rep.Skipped, rest.Name)
			}
			break
		}
		out := r.Evaluate(ctx, rule)
		rep.Outcomes = append(rep.Outcomes, out)
		if out.Passed {
			rep.Passed++
			continue
		}
		rep.Failed++
		if rule.Critical {
			rep.CriticalFailed = true
		}
	}
	return rep
}

// Evaluate runs one rule through its ledger step.
func (r *Runner) Evaluate(ctx context.Context, rule config.Rule) Outcome {
	out := Outcome{
		Rule:      rule.Name,
		Type:      rule.Type,
		Table:     rule.Table,
		Critical:  rule.Critical,
		Threshold: rule.Threshold,
	}

	err := r.ledger.RunStep(ctx, r.pipeline, "rule:"+rule.Name, func(ctx context.Context) (int64, error) {
		v, err := r.check(ctx, rule)
		if err != nil {
			return 0, err
		}
		out.Metric, out.Observed, out.Check = v.metric, v.observed, v.check
		if !v.pass(rule.Threshold) {
			return 0, &errs.ThresholdError{
				Rule:      rule.Name,
				Metric:    v.metric,
				Observed:  v.observed,
				Op:        v.op,
				Threshold: rule.Threshold,
			}
		}
		return v.records, nil
	})

	out.Passed = err == nil
	metrics.RecordCheck(rule.Type, out.Passed)
	if err != nil {
		out.Error = err.Error()
		var te *errs.ThresholdError
		level := slog.LevelError
		if errors.As(err, &te) && !rule.Critical {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "rule failed", "rule", rule.Name, "type", rule.Type, "critical", rule.Critical, "err", err)
	}
	return out
}

// verdict is a check reduced to the number its threshold applies to.
type verdict struct {
	metric   string
	observed float64
	// op is ">=" when observed must reach the threshold and "<=" when it
	// must stay under it.
	op      string
	records int64
	check   any
	// fresh, when set, is the freshness check's own duration comparison and
	// decides the verdict.
	fresh *bool
}

func (v verdict) pass(threshold float64) bool {
	if v.fresh != nil {
		return *v.fresh
	}
	if v.op == "<=" {
		return v.observed <= threshold
	}
	return v.observed >= threshold
}

func (r *Runner) check(ctx context.Context, rule config.Rule) (verdict, error) {
	t := storage.ParseTableRef(rule.Table)

	switch rule.Type {
	case config.RuleCompleteness:
		res, err := r.checker.CheckNulls(ctx, t, rule.Column)
		if err != nil {
			return verdict{}, err
		}
		return verdict{
			metric:   "non_null_percentage",
			observed: 100 - res.NullPercentage,
			op:       ">=",
			records:  res.TotalCount,
			check:    res,
		}, nil

	case config.RuleUniqueness:
		res, err := r.checker.CheckDuplicates(ctx, t, rule.KeyColumns())
		if err != nil {
			return verdict{}, err
		}
		return verdict{
			metric:   "duplicate_percentage",
			observed: res.DuplicatePercentage,
			op:       "<=",
			records:  res.TotalRecords,
			check:    res,
		}, nil

	case config.RuleTimeliness:
		res, err := r.checker.CheckFreshness(ctx, t, rule.Column, rule.Threshold)
		if err != nil {
			return verdict{}, err
		}
		if res.HoursSinceLatest == nil {
			return verdict{}, &errs.InsufficientDataError{Table: rule.Table}
		}
		return verdict{
			metric:   "hours_since_latest",
			observed: *res.HoursSinceLatest,
			op:       "<=",
			records:  1,
			check:    res,
			fresh:    &res.IsFresh,
		}, nil

	case config.RuleIntegrity:
		policy, err := quality.ParseNullPolicy(rule.NullPolicy)
		if err != nil {
			return verdict{}, err
		}
		res, err := r.checker.CheckReferentialIntegrity(ctx, t, rule.Column, storage.ParseTableRef(rule.ParentTable), rule.ParentColumn, policy)
		if err != nil {
			return verdict{}, err
		}
		return verdict{
			metric:   "integrity_percentage",
			observed: res.IntegrityPercentage,
			op:       ">=",
			records:  res.TotalChildRecords,
			check:    res,
		}, nil

	case config.RuleValidity:
		if len(rule.Range) != 2 {
			return verdict{}, fmt.Errorf("rule %s: range wants [min, max]", rule.Name)
		}
		res, err := r.checker.CheckRange(ctx, t, rule.Column, rule.Range[0], rule.Range[1])
		if err != nil {
			return verdict{}, err
		}
		return verdict{
			metric:   "compliance_percentage",
			observed: res.CompliancePercentage,
			op:       ">=",
			records:  res.TotalCount,
			check:    res,
		}, nil

	default:
		return verdict{}, fmt.Errorf("rule %s: unknown type %q", rule.Name, rule.Type)
	}
}
