package profile

import (
	"strings"
)

// Category is the statistic family a declared column type maps to.
type Category string

const (
	Numeric  Category = "Numeric"
	Text     Category = "Text"
	Temporal Category = "Temporal"
	Other    Category = "Other"
)

// WellTyped reports whether c has category-specific statistics.
func (c Category) WellTyped() bool {
	return c == Numeric || c == Text || c == Temporal
}

// categories covers the type names reported by SQLite, Postgres
// (information_schema.columns.data_type) and SQL Server, after normalizeType.
var categories = map[string]Category{
	// numeric
	"INT":              Numeric,
	"INTEGER":          Numeric,
	"TINYINT":          Numeric,
	"SMALLINT":         Numeric,
	"MEDIUMINT":        Numeric,
	"BIGINT":           Numeric,
	"INT2":             Numeric,
	"INT4":             Numeric,
	"INT8":             Numeric,
	"SERIAL":           Numeric,
	"SMALLSERIAL":      Numeric,
	"BIGSERIAL":        Numeric,
	"DECIMAL":          Numeric,
	"NUMERIC":          Numeric,
	"NUMBER":           Numeric,
	"REAL":             Numeric,
	"FLOAT":            Numeric,
	"FLOAT4":           Numeric,
	"FLOAT8":           Numeric,
	"DOUBLE":           Numeric,
	"DOUBLE PRECISION": Numeric,
	"MONEY":            Numeric,
	"SMALLMONEY":       Numeric,
	"UNSIGNED BIG INT": Numeric,

	// text
	"CHAR":                       Text,
	"CHARACTER":                  Text,
	"NCHAR":                      Text,
	"NATIVE CHARACTER":           Text,
	"NATIONAL CHARACTER":         Text,
	"VARCHAR":                    Text,
	"NVARCHAR":                   Text,
	"VARCHAR2":                   Text,
	"CHARACTER VARYING":          Text,
	"VARYING CHARACTER":          Text,
	"NATIONAL CHARACTER VARYING": Text,
	"BPCHAR":                     Text,
	"TEXT":                       Text,
	"NTEXT":                      Text,
	"CLOB":                       Text,
	"CITEXT":                     Text,
	"STRING":                     Text,

	// temporal
	"DATE":                        Temporal,
	"TIME":                        Temporal,
	"TIMETZ":                      Temporal,
	"TIME WITH TIME ZONE":         Temporal,
	"TIME WITHOUT TIME ZONE":      Temporal,
	"DATETIME":                    Temporal,
	"DATETIME2":                   Temporal,
	"SMALLDATETIME":               Temporal,
	"DATETIMEOFFSET":              Temporal,
	"TIMESTAMP":                   Temporal,
	"TIMESTAMPTZ":                 Temporal,
	"TIMESTAMP WITH TIME ZONE":    Temporal,
	"TIMESTAMP WITHOUT TIME ZONE": Temporal,
}

// Classify maps a declared type to its Category. The table is total:
// anything unknown, including an empty declared type, is Other.
func Classify(declaredType string) Category {
	if c, ok := categories[normalizeType(declaredType)]; ok {
		return c
	}
	return Other
}

// normalizeType upper-cases t, drops parameter lists such as "(10,2)" and
// collapses whitespace: "character  varying(64)" -> "CHARACTER VARYING".
func normalizeType(t string) string {
	var b strings.Builder
	depth := 0
	for _, r := range t {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(strings.Join(strings.Fields(b.String()), " "))
}
