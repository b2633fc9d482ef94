package quality

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"dq/internal/catalog"
	"dq/internal/profile"
	"dq/internal/storage"
)

// NullPolicy decides how a NULL child key counts in a referential check.
type NullPolicy int

const (
	// NullsOrphaned counts a NULL child key as an orphan, as a left join
	// against the parent would.
	NullsOrphaned NullPolicy = iota
	// NullsExempt leaves rows with a NULL child key out of the check.
	NullsExempt
)

func (p NullPolicy) String() string {
	if p == NullsExempt {
		return "exempt"
	}
	return "orphaned"
}

// ParseNullPolicy accepts "orphaned" (or "") and "exempt".
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "orphaned":
		return NullsOrphaned, nil
	case "exempt":
		return NullsExempt, nil
	default:
		return NullsOrphaned, fmt.Errorf("unknown null policy %q", s)
	}
}

type NullCheck struct {
	Table          string  `json:"table"`
	Column         string  `json:"column"`
	NullCount      int64   `json:"null_count"`
	TotalCount     int64   `json:"total_count"`
	NullPercentage float64 `json:"null_percentage"`
}

type FreshnessCheck struct {
	Table                 string     `json:"table"`
	Column                string     `json:"column"`
	LatestRecordTimestamp *time.Time `json:"latest_record_timestamp"`
	HoursSinceLatest      *float64   `json:"hours_since_latest"`
	MaxAgeHours           float64    `json:"max_age_hours"`
	IsFresh               bool       `json:"is_fresh"`
}

type DuplicateCheck struct {
	Table               string   `json:"table"`
	KeyColumns          []string `json:"key_columns"`
	DuplicateCount      int64    `json:"duplicate_count"`
	TotalRecords        int64    `json:"total_records"`
	DuplicatePercentage float64  `json:"duplicate_percentage"`
}

type ReferentialIntegrityCheck struct {
	ChildTable          string     `json:"child_table"`
	ChildColumn         string     `json:"child_column"`
	ParentTable         string     `json:"parent_table"`
	ParentColumn        string     `json:"parent_column"`
	NullPolicy          NullPolicy `json:"-"`
	OrphanedRecords     int64      `json:"orphaned_records"`
	TotalChildRecords   int64      `json:"total_child_records"`
	IntegrityPercentage float64    `json:"integrity_percentage"`
}

type RangeCheck struct {
	Table                string  `json:"table"`
	Column               string  `json:"column"`
	MinValue             float64 `json:"min_value"`
	MaxValue             float64 `json:"max_value"`
	OutOfRangeCount      int64   `json:"out_of_range_count"`
	TotalCount           int64   `json:"total_count"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

// Checker runs rule checks directly against live tables. Checks are
// read-only and independent; results are returned, never stored.
//
// With zero rows in scope, rates of bad rows are 0% and rates of good rows
// are 100%.
type Checker struct {
	wh        storage.Warehouse
	inspector *catalog.Inspector
	now       func() time.Time
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

func NewChecker(wh storage.Warehouse, opts ...CheckerOption) *Checker {
	c := &Checker{
		wh:        wh,
		inspector: catalog.NewInspector(wh),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// requireColumns fails with errs.NotFoundError unless t has every column.
func (c *Checker) requireColumns(ctx context.Context, t storage.TableRef, columns ...string) error {
	for _, col := range columns {
		if _, err := c.inspector.Column(ctx, t, col); err != nil {
			return err
		}
	}
	return nil
}

// CheckNulls reports the null rate of one column.
func (c *Checker) CheckNulls(ctx context.Context, t storage.TableRef, column string) (NullCheck, error) {
	if err := c.requireColumns(ctx, t, column); err != nil {
		return NullCheck{}, err
	}

	res := NullCheck{Table: t.String(), Column: column}
	err := storage.ScanColumn(ctx, c.wh, t, column, func(v any) error {
		res.TotalCount++
		if v == nil {
			res.NullCount++
		}
		return nil
	})
	if err != nil {
		return NullCheck{}, fmt.Errorf("check nulls %s.%s: %w", t, column, err)
	}
	res.NullPercentage = rate(res.NullCount, res.TotalCount, 0)
	return res, nil
}

// CheckFreshness compares the newest value of dateColumn with now. A table
// is fresh when the age is at most maxAgeHours. A column with no values is
// never fresh.
func (c *Checker) CheckFreshness(ctx context.Context, t storage.TableRef, dateColumn string, maxAgeHours float64) (FreshnessCheck, error) {
	if err := c.requireColumns(ctx, t, dateColumn); err != nil {
		return FreshnessCheck{}, err
	}

	var (
		latest time.Time
		seen   bool
	)
	err := storage.ScanColumn(ctx, c.wh, t, dateColumn, func(v any) error {
		if v == nil {
			return nil
		}
		ts, err := profile.CoerceTime(v)
		if err != nil {
			return err
		}
		if !seen || ts.After(latest) {
			latest, seen = ts, true
		}
		return nil
	})
	if err != nil {
		return FreshnessCheck{}, fmt.Errorf("check freshness %s.%s: %w", t, dateColumn, err)
	}

	res := FreshnessCheck{Table: t.String(), Column: dateColumn, MaxAgeHours: maxAgeHours}
	if !seen {
		return res, nil
	}

	age := c.now().Sub(latest)
	hours := age.Hours()
	ts := latest.UTC()
	res.LatestRecordTimestamp = &ts
	res.HoursSinceLatest = &hours
	res.IsFresh = withinHours(age, maxAgeHours)
	return res, nil
}

// maxDurationHours is the largest whole number of hours a time.Duration holds.
const maxDurationHours = math.MaxInt64 / int64(time.Hour)

// withinHours reports age <= h hours, exact at the boundary. Limits beyond
// the range of time.Duration admit every age.
func withinHours(age time.Duration, h float64) bool {
	if h >= float64(maxDurationHours) {
		return true
	}
	return age <= time.Duration(h*float64(time.Hour))
}

// CheckDuplicates groups rows by the ordered tuple of keyColumns and counts
// every row beyond the first in each group. NULL is a key value of its own,
// equal to other NULLs and distinct from the empty string.
func (c *Checker) CheckDuplicates(ctx context.Context, t storage.TableRef, keyColumns []string) (DuplicateCheck, error) {
	if len(keyColumns) == 0 {
		return DuplicateCheck{}, fmt.Errorf("check duplicates %s: no key columns", t)
	}
	if err := c.requireColumns(ctx, t, keyColumns...); err != nil {
		return DuplicateCheck{}, err
	}

	groups := make(map[[32]byte]int64)
	res := DuplicateCheck{Table: t.String(), KeyColumns: append([]string(nil), keyColumns...)}

	var h rowHasher
	err := c.wh.ScanRows(ctx, t, keyColumns, func(row []any) error {
		groups[h.sum(row)]++
		res.TotalRecords++
		return nil
	})
	if err != nil {
		return DuplicateCheck{}, fmt.Errorf("check duplicates %s: %w", t, err)
	}

	for _, size := range groups {
		if size > 1 {
			res.DuplicateCount += size - 1
		}
	}
	res.DuplicatePercentage = rate(res.DuplicateCount, res.TotalRecords, 0)
	return res, nil
}

// CheckReferentialIntegrity counts child rows whose key has no match in the
// parent column. Keys are compared in canonical form (storage.NormalizeKey),
// so an INTEGER parent matches a TEXT or REAL child holding the same number.
func (c *Checker) CheckReferentialIntegrity(ctx context.Context, child storage.TableRef, childColumn string, parent storage.TableRef, parentColumn string, policy NullPolicy) (ReferentialIntegrityCheck, error) {
	if err := c.requireColumns(ctx, child, childColumn); err != nil {
		return ReferentialIntegrityCheck{}, err
	}
	if err := c.requireColumns(ctx, parent, parentColumn); err != nil {
		return ReferentialIntegrityCheck{}, err
	}

	keys := make(map[string]struct{})
	err := storage.ScanColumn(ctx, c.wh, parent, parentColumn, func(v any) error {
		if v != nil {
			keys[storage.NormalizeKey(v)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return ReferentialIntegrityCheck{}, fmt.Errorf("check integrity %s.%s: %w", parent, parentColumn, err)
	}

	res := ReferentialIntegrityCheck{
		ChildTable:   child.String(),
		ChildColumn:  childColumn,
		ParentTable:  parent.String(),
		ParentColumn: parentColumn,
		NullPolicy:   policy,
	}
	err = storage.ScanColumn(ctx, c.wh, child, childColumn, func(v any) error {
		if v == nil {
			if policy == NullsExempt {
				return nil
			}
			res.TotalChildRecords++
			res.OrphanedRecords++
			return nil
		}
		res.TotalChildRecords++
		if _, ok := keys[storage.NormalizeKey(v)]; !ok {
			res.OrphanedRecords++
		}
		return nil
	})
	if err != nil {
		return ReferentialIntegrityCheck{}, fmt.Errorf("check integrity %s.%s: %w", child, childColumn, err)
	}

	res.IntegrityPercentage = rate(res.TotalChildRecords-res.OrphanedRecords, res.TotalChildRecords, 100)
	return res, nil
}

// CheckRange counts non-null values strictly outside [minValue, maxValue].
// NULLs are excluded from both counts. A value that is not numeric is an
// errs.ComputationError.
func (c *Checker) CheckRange(ctx context.Context, t storage.TableRef, column string, minValue, maxValue float64) (RangeCheck, error) {
	if minValue > maxValue {
		return RangeCheck{}, fmt.Errorf("check range %s.%s: min %v > max %v", t, column, minValue, maxValue)
	}
	if err := c.requireColumns(ctx, t, column); err != nil {
		return RangeCheck{}, err
	}

	res := RangeCheck{Table: t.String(), Column: column, MinValue: minValue, MaxValue: maxValue}
	err := storage.ScanColumn(ctx, c.wh, t, column, func(v any) error {
		if v == nil {
			return nil
		}
		f, err := profile.CoerceFloat(v)
		if err != nil {
			return err
		}
		res.TotalCount++
		if f < minValue || f > maxValue {
			res.OutOfRangeCount++
		}
		return nil
	})
	if err != nil {
		return RangeCheck{}, fmt.Errorf("check range %s.%s: %w", t, column, err)
	}

	res.CompliancePercentage = rate(res.TotalCount-res.OutOfRangeCount, res.TotalCount, 100)
	return res, nil
}

// rate is part/total*100, or empty when total is zero.
func rate(part, total int64, empty float64) float64 {
	if total == 0 {
		return empty
	}
	return float64(part) / float64(total) * 100
}
