package storage

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeKey_TableDriven(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 27, 12, 17, 8, 0, time.FixedZone("X", 3600))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string_trimmed", in: "  Germany ", want: "Germany"},
		{name: "bytes", in: []byte(" abc"), want: "abc"},
		{name: "int", in: 42, want: "42"},
		{name: "int32", in: int32(7), want: "7"},
		{name: "int64", in: int64(8429529), want: "8429529"},
		{name: "integral_float_matches_int", in: float64(8429529), want: "8429529"},
		{name: "fraction", in: 1.5, want: "1.5"},
		{name: "bool", in: true, want: "true"},
		{name: "time_utc", in: ts, want: "2026-01-27T11:17:08.000000000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.in); got != tt.want {
				t.Fatalf("NormalizeKey(%#v)=%q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimestamp_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", want: time.Date(2026, 1, 27, 12, 17, 8, 123456789, time.UTC)},
		{name: "rfc3339", in: "2026-01-27T12:17:08Z", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "offset", in: "2026-01-27T13:17:08+01:00", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "space_tz", in: "2026-01-27 12:17:08+00:00", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "space_tz_nanos", in: "2026-01-27 12:17:08.000000000+00:00", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "no_tz_assume_utc", in: "2026-01-27 12:17:08", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "t_no_tz", in: "2026-01-27T12:17:08", want: time.Date(2026, 1, 27, 12, 17, 8, 0, time.UTC)},
		{name: "date_only", in: "2026-01-27", want: time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)},
		{name: "empty", in: "  ", wantErr: true},
		{name: "invalid", in: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got=%s want=%s", got, tt.want)
			}
		})
	}
}

func TestFormatTimestamp_FixedWidthSortsInTimeOrder(t *testing.T) {
	t.Parallel()

	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(100 * time.Millisecond)

	fa, fb := FormatTimestamp(a), FormatTimestamp(b)
	if len(fa) != len(fb) {
		t.Fatalf("width differs: %q vs %q", fa, fb)
	}
	if !(fa < fb) {
		t.Fatalf("lexical order broken: %q !< %q", fa, fb)
	}

	got, err := ParseTimestamp(fb)
	if err != nil || !got.Equal(b) {
		t.Fatalf("round trip: got=%s err=%v want=%s", got, err, b)
	}
}

func TestParseTableRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want TableRef
		str  string
	}{
		{in: "orders", want: TableRef{Name: "orders"}, str: "orders"},
		{in: "harmonized.weather", want: TableRef{Schema: "harmonized", Name: "weather"}, str: "harmonized.weather"},
		{in: " a . b ", want: TableRef{Schema: "a", Name: "b"}, str: "a.b"},
	}
	for _, tt := range tests {
		got := ParseTableRef(tt.in)
		if got != tt.want {
			t.Fatalf("ParseTableRef(%q)=%#v, want %#v", tt.in, got, tt.want)
		}
		if got.String() != tt.str {
			t.Fatalf("String()=%q, want %q", got.String(), tt.str)
		}
	}
}

func TestIsInternalTable(t *testing.T) {
	t.Parallel()

	if !IsInternalTable("DQ_PROFILE_RESULTS") || !IsInternalTable(LedgerTable) {
		t.Fatalf("internal tables not recognised")
	}
	if IsInternalTable("orders") {
		t.Fatalf("orders flagged as internal")
	}
}

func TestScalar_UnsignedBeyondInt64BecomesFloat(t *testing.T) {
	t.Parallel()

	if got := Scalar(uint64(math.MaxUint64)); got != float64(math.MaxUint64) {
		t.Fatalf("Scalar(MaxUint64)=%#v, want float64", got)
	}
	if got := Scalar(uint64(7)); got != int64(7) {
		t.Fatalf("Scalar(7)=%#v, want int64(7)", got)
	}
}

func TestParseTimeOfDay_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "08:30:00", want: "08:30:00.000000000"},
		{in: " 01:02:03.000001", want: "01:02:03.000001000"},
		{in: "08:30", want: "08:30:00.000000000"},
		{in: "08:30:00+02", want: "06:30:00.000000000"},
		{in: "23:30:00-01:00", want: "00:30:00.000000000"},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) err=%v", tt.in, err)
		}
		if FormatTimeOfDay(got) != tt.want {
			t.Fatalf("ParseTimeOfDay(%q)=%s, want %s", tt.in, FormatTimeOfDay(got), tt.want)
		}
	}

	if _, err := ParseTimeOfDay("2026-01-01"); err == nil {
		t.Fatalf("date accepted as time of day")
	}
}

func TestTableRef_Canonical(t *testing.T) {
	t.Parallel()

	if got := (TableRef{Schema: "Main", Name: "c"}).Canonical("main"); got != (TableRef{Name: "c"}) {
		t.Fatalf("Canonical=%#v, want bare name", got)
	}
	if got := (TableRef{Schema: "sales", Name: "c"}).Canonical("main"); got.Schema != "sales" {
		t.Fatalf("Canonical dropped non-default schema: %#v", got)
	}
	if got := (TableRef{Schema: "main", Name: "c"}).Canonical(""); got.Schema != "main" {
		t.Fatalf("empty default must not drop schema: %#v", got)
	}
}
