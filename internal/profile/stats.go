package profile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"dq/internal/errs"
	"dq/internal/storage"
)

// accumulator consumes the non-null values of one column in a single pass
// and writes its category's fields into a record.
type accumulator interface {
	add(v any) error
	fill(rec *storage.ProfileRecord)
}

// statistics is the dispatch table from category to accumulator. Every
// Category must have an entry; a missing one surfaces as TypeDispatchError.
var statistics = map[Category]func() accumulator{
	Numeric:  func() accumulator { return &numericStats{} },
	Text:     func() accumulator { return &textStats{} },
	Temporal: func() accumulator { return &temporalStats{} },
	Other:    func() accumulator { return otherStats{} },
}

// counts are the category-independent statistics.
type counts struct {
	total    int64
	nulls    int64
	distinct map[string]struct{}
}

func (c *counts) add(v any) {
	c.total++
	if v == nil {
		c.nulls++
		return
	}
	c.distinct[distinctKey(v)] = struct{}{}
}

// distinctKey keeps strings verbatim so values differing only in
// surrounding whitespace stay distinct.
func distinctKey(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	return storage.NormalizeKey(v)
}

// computeColumn profiles one column of t with a single scan.
func computeColumn(ctx context.Context, wh storage.Warehouse, t storage.TableRef, col storage.ColumnInfo) (storage.ProfileRecord, error) {
	cat := Classify(col.DeclaredType)
	newAcc, ok := statistics[cat]
	if !ok {
		return storage.ProfileRecord{}, &errs.TypeDispatchError{Column: col.Name, DeclaredType: col.DeclaredType}
	}
	acc := newAcc()
	c := counts{distinct: make(map[string]struct{})}

	err := storage.ScanColumn(ctx, wh, t, col.Name, func(v any) error {
		c.add(v)
		if v == nil {
			return nil
		}
		return acc.add(v)
	})
	if err != nil {
		return storage.ProfileRecord{}, fmt.Errorf("profile %s.%s: %w", t, col.Name, err)
	}

	return buildRecord(t, col, cat, c, acc), nil
}

// buildRecord derives percentages from the counts. With no rows they are
// undefined and stay nil.
func buildRecord(t storage.TableRef, col storage.ColumnInfo, cat Category, c counts, acc accumulator) storage.ProfileRecord {
	rec := storage.ProfileRecord{
		TableName:        t.String(),
		ColumnName:       col.Name,
		Ordinal:          col.Ordinal,
		DeclaredType:     col.DeclaredType,
		DataTypeCategory: string(cat),
		TotalCount:       c.total,
		NullCount:        c.nulls,
		DistinctCount:    int64(len(c.distinct)),
	}
	rec.NullPercentage = percent(rec.NullCount, rec.TotalCount)
	rec.DistinctPercentage = percent(rec.DistinctCount, rec.TotalCount)
	acc.fill(&rec)
	return rec
}

func percent(part, total int64) *float64 {
	if total == 0 {
		return nil
	}
	p := float64(part) / float64(total) * 100
	return &p
}

// numericStats tracks extrema, mean and variance (Welford).
type numericStats struct {
	n        int64
	mean, m2 float64
	min, max float64

	// integral extrema kept exactly while every value is an integer
	allInts      bool
	imin, imax   int64
	seenNonEmpty bool
}

func (s *numericStats) add(v any) error {
	f, i, isInt, err := toNumber(v)
	if err != nil {
		return err
	}

	if !s.seenNonEmpty {
		s.seenNonEmpty = true
		s.allInts = isInt
		s.min, s.max = f, f
		s.imin, s.imax = i, i
	} else {
		s.min = math.Min(s.min, f)
		s.max = math.Max(s.max, f)
		if s.allInts && isInt {
			s.imin = min(s.imin, i)
			s.imax = max(s.imax, i)
		} else {
			s.allInts = false
		}
	}

	s.n++
	d := f - s.mean
	s.mean += d / float64(s.n)
	s.m2 += d * (f - s.mean)
	return nil
}

func (s *numericStats) fill(rec *storage.ProfileRecord) {
	if s.n == 0 {
		return
	}
	var lo, hi string
	if s.allInts {
		lo, hi = strconv.FormatInt(s.imin, 10), strconv.FormatInt(s.imax, 10)
	} else {
		lo, hi = formatFloat(s.min), formatFloat(s.max)
	}
	avg := s.mean
	rec.MinValue, rec.MaxValue, rec.AvgValue = &lo, &hi, &avg
	if s.n >= 2 {
		sd := math.Sqrt(s.m2 / float64(s.n-1))
		rec.StdDev = &sd
	}
}

// CoerceFloat converts a scanned value to float64. Numeric text is parsed;
// anything else is an errs.ComputationError.
func CoerceFloat(v any) (float64, error) {
	f, _, _, err := toNumber(v)
	return f, err
}

// toNumber coerces a scalar to float64, reporting whether it is integral.
func toNumber(v any) (f float64, i int64, isInt bool, err error) {
	switch t := storage.Scalar(v).(type) {
	case int64:
		return float64(t), t, true, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, 0, false, errs.Computation("numeric", fmt.Errorf("non-finite value %v", t))
		}
		return t, 0, false, nil
	case bool:
		if t {
			return 1, 1, true, nil
		}
		return 0, 0, true, nil
	case string:
		s := strings.TrimSpace(t)
		if n, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return float64(n), n, true, nil
		}
		x, perr := strconv.ParseFloat(s, 64)
		if perr != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, 0, false, errs.Computation("numeric", fmt.Errorf("cannot coerce %q to a number", t))
		}
		return x, 0, false, nil
	default:
		return 0, 0, false, errs.Computation("numeric", fmt.Errorf("cannot coerce %T to a number", t))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// textStats tracks lexicographic extrema and lengths in characters after
// NFC normalisation, so "é" counts once whether precomposed or not.
type textStats struct {
	n              int64
	min, max       string
	minLen, maxLen int64
	lenSum         int64
}

func (s *textStats) add(v any) error {
	str, ok := storage.Scalar(v).(string)
	if !ok {
		str = storage.NormalizeKey(v)
	}
	l := int64(utf8.RuneCountInString(norm.NFC.String(str)))

	if s.n == 0 {
		s.min, s.max = str, str
		s.minLen, s.maxLen = l, l
	} else {
		if str < s.min {
			s.min = str
		}
		if str > s.max {
			s.max = str
		}
		s.minLen = min(s.minLen, l)
		s.maxLen = max(s.maxLen, l)
	}
	s.n++
	s.lenSum += l
	return nil
}

func (s *textStats) fill(rec *storage.ProfileRecord) {
	if s.n == 0 {
		return
	}
	lo, hi := s.min, s.max
	minLen, maxLen := s.minLen, s.maxLen
	avg := float64(s.lenSum) / float64(s.n)
	rec.MinValue, rec.MaxValue = &lo, &hi
	rec.MinLength, rec.MaxLength, rec.AvgLength = &minLen, &maxLen, &avg
}

// temporalStats tracks the earliest and latest instant. TIME columns hold
// times of day, which are compared on their clock reading alone.
type temporalStats struct {
	seen     bool
	clock    bool
	min, max time.Time
}

func (s *temporalStats) add(v any) error {
	ts, clock, err := coerceTemporal(v)
	if err != nil {
		return err
	}
	if !s.seen {
		s.seen, s.clock, s.min, s.max = true, clock, ts, ts
		return nil
	}
	if clock != s.clock {
		return errs.Computation("temporal", fmt.Errorf("column mixes dates and times of day at %v", v))
	}
	if ts.Before(s.min) {
		s.min = ts
	}
	if ts.After(s.max) {
		s.max = ts
	}
	return nil
}

func (s *temporalStats) fill(rec *storage.ProfileRecord) {
	if !s.seen {
		return
	}
	format := storage.FormatTimestamp
	if s.clock {
		format = storage.FormatTimeOfDay
	}
	lo, hi := format(s.min), format(s.max)
	rec.MinValue, rec.MaxValue = &lo, &hi
}

// coerceTemporal is CoerceTime with a fallback for time-of-day text, which
// reports clock=true.
func coerceTemporal(v any) (ts time.Time, clock bool, err error) {
	ts, err = CoerceTime(v)
	if err == nil {
		return ts, false, nil
	}
	s, ok := storage.Scalar(v).(string)
	if !ok {
		return time.Time{}, false, err
	}
	tod, terr := storage.ParseTimeOfDay(s)
	if terr != nil {
		return time.Time{}, false, err
	}
	return tod, true, nil
}

// CoerceTime accepts time.Time, timestamp text, or integer Unix seconds.
// Anything else is an errs.ComputationError.
func CoerceTime(v any) (time.Time, error) {
	switch t := storage.Scalar(v).(type) {
	case time.Time:
		return t, nil
	case string:
		ts, err := storage.ParseTimestamp(t)
		if err != nil {
			return time.Time{}, errs.Computation("temporal", err)
		}
		return ts, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, errs.Computation("temporal", fmt.Errorf("cannot coerce %T to a timestamp", t))
	}
}

// otherStats contributes nothing beyond the shared counts.
type otherStats struct{}

func (otherStats) add(any) error               { return nil }
func (otherStats) fill(*storage.ProfileRecord) {}
