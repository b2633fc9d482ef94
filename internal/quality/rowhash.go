package quality

import (
	"crypto/sha256"
	"strings"

	"dq/internal/storage"
)

// rowHasher digests an ordered key tuple into a fixed-size group key, so the
// duplicate check holds 32 bytes per distinct key however wide the columns.
//
// Canonical form, per value:
//   - NULL is a lone NUL byte, distinct from the empty string.
//   - strings are written as-is (no trimming), tagged 'V'.
//   - everything else goes through storage.NormalizeKey, tagged 'V', so an
//     int64 3 and a float64 3 group together.
//
// Values are separated by ASCII Unit Separator; separators and NULs inside
// strings are escaped so ("ab","c") and ("a","bc") never share a digest.
type rowHasher struct {
	b strings.Builder
}

func (h *rowHasher) sum(row []any) [sha256.Size]byte {
	h.b.Reset()
	for i, v := range row {
		if i > 0 {
			h.b.WriteByte('\x1f')
		}
		appendKeyValue(&h.b, v)
	}
	return sha256.Sum256([]byte(h.b.String()))
}

var keyEscaper = strings.NewReplacer("\\", "\\\\", "\x1f", "\\u", "\x00", "\\0")

func appendKeyValue(b *strings.Builder, v any) {
	if v == nil {
		b.WriteByte('\x00')
		return
	}
	b.WriteByte('V')
	if s, ok := v.(string); ok {
		keyEscaper.WriteString(b, s)
		return
	}
	keyEscaper.WriteString(b, storage.NormalizeKey(v))
}
