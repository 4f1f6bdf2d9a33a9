package datastore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one record keyed by column name. Backends hand back values in their
// own encodings (int64 or float64 numbers, []byte numerics, RFC3339 strings),
// so readers go through the typed accessors.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column as a string; numbers are formatted in base 10.
func (r Row) String(col string) string { return asString(r[col]) }

// OptString returns nil for a missing or null column.
func (r Row) OptString(col string) *string {
	v, ok := r[col]
	if !ok || v == nil {
		return nil
	}
	s := asString(v)
	return &s
}

// Int64 returns the column as an integer, or 0 when it is not numeric.
func (r Row) Int64(col string) int64 {
	d, ok := asNumber(r[col])
	if !ok {
		if s, isStr := r[col].(string); isStr {
			d, ok = parseDecimal(s)
		}
	}
	if !ok {
		return 0
	}
	return d.IntPart()
}

// Decimal returns the column as a decimal, or zero when it is not numeric.
func (r Row) Decimal(col string) decimal.Decimal {
	d, ok := asNumber(r[col])
	if !ok {
		if s, isStr := r[col].(string); isStr {
			d, ok = parseDecimal(s)
		}
	}
	if !ok {
		return decimal.Zero
	}
	return d
}

// Bool returns the column as a bool.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(v))
		return b
	}
	d, ok := asNumber(r[col])
	return ok && !d.IsZero()
}

// Time returns the column as a time, or the zero time.
func (r Row) Time(col string) time.Time {
	t, _ := asTime(r[col])
	return t
}

// Compare orders two column values. It reports false when they are not
// comparable (one side nil).
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	if tb, ok := b.(time.Time); ok {
		if ta, ok := asTime(a); ok {
			return ta.Compare(tb), true
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			// RFC3339Nano trims trailing zeros, so text order is not time order.
			ta, aTime := asTime(sa)
			tb, bTime := asTime(sb)
			if aTime && bTime {
				return ta.Compare(tb), true
			}
		}
	}
	da, aNum := asNumber(a)
	db, bNum := asNumber(b)
	switch {
	case aNum && bNum:
		return da.Cmp(db), true
	case aNum:
		if d, ok := parseDecimal(asString(b)); ok {
			return da.Cmp(d), true
		}
	case bNum:
		if d, ok := parseDecimal(asString(a)); ok {
			return d.Cmp(db), true
		}
	}
	return strings.Compare(asString(a), asString(b)), true
}

func asNumber(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint64:
		return parseDecimal(strconv.FormatUint(n, 10))
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case decimal.Decimal:
		return n, true
	case json.Number:
		return parseDecimal(n.String())
	case []byte:
		return parseDecimal(string(n))
	}
	return decimal.Decimal{}, false
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
