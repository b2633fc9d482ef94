package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a column value to a canonical string form, suitable
// for distinct counting and cross-table key matching (e.g. "Germany",
// "8429529", "2026-01-27T12:17:08.000000000Z").
//
// Backends disagree on types for the same logical value (an INTEGER parent key
// may surface as int64 while the child column surfaces as float64 or TEXT);
// this helper keeps comparisons consistent across backends.
//
// nil maps to "". Callers that must tell NULL from empty string check for nil
// before calling.
func NormalizeKey(v any) string {
	switch t := Scalar(v).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return FormatTimestamp(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Scalar maps driver values onto the small set of Go types the engine
// reasons about: nil, int64, float64, string, bool, time.Time. Unsigned
// values beyond int64 become float64.
//
// Backend-specific types (pgtype.Numeric, UNIQUEIDENTIFIER bytes) must be
// converted by the backend before calling Scalar. Anything unknown passes
// through unchanged.
func Scalar(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case uint:
		if uint64(t) > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// timestampLayout is fixed-width so that TEXT timestamps sort lexically in
// time order (RFC3339Nano trims trailing zeros and would not).
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp formats t in UTC with a fixed-width nanosecond layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses timestamps stored as text into UTC time.
//
// Supported formats:
//   - RFC3339Nano / RFC3339 (what FormatTimestamp writes)
//   - "2006-01-02 15:04:05Z07:00", with or without fractional seconds
//   - "2006-01-02 15:04:05" and "2006-01-02T15:04:05" (interpreted as UTC)
//   - "2006-01-02" (midnight UTC)
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	zoned := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range zoned {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}

	naive := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02",
	}
	for _, layout := range naive {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// timeOfDayLayout is fixed-width for the same reason as timestampLayout.
const timeOfDayLayout = "15:04:05.000000000"

// ParseTimeOfDay parses TIME column text such as "08:30:00",
// "08:30:00.250000" or "08:30:00+02" (TIMETZ). Zoned values are shifted to
// UTC. The result is on 2000-01-01 UTC so times of day compare directly.
func ParseTimeOfDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		"15:04:05.999999999",
		"15:04:05.999999999Z07:00",
		"15:04:05.999999999Z07",
		"15:04",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return TimeOfDay(ts), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time of day format: %q", s)
}

// TimeOfDay keeps only the UTC clock reading of t, on 2000-01-01.
func TimeOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(2000, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// FormatTimeOfDay formats the clock reading of t with a fixed-width layout.
func FormatTimeOfDay(t time.Time) string {
	return t.UTC().Format(timeOfDayLayout)
}
