package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts tried, in order, when coercing a string to a Time cell.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a cell value to the declared column type.
//
// Behavior:
//   - Float: numeric kinds convert; strings parse (decimal or scientific).
//   - Int: int64 passes; float64 only when integral; strings parse as int,
//     falling back to an integral float ("3.0" becomes 3).
//   - String: every kind renders canonically, so string columns never fail.
//   - Bool: bool passes; strings via strconv.ParseBool; 0/1 numerics.
//   - Time: time.Time passes; strings try the supported layouts. Numeric
//     epochs are rejected: the unit (s/ms/ns) cannot be inferred safely.
//
// Errors describe the offending value and target type and are meant for
// violation reports, not for callers to branch on.
func Coerce(v any, t Type) (any, error) {
	switch t {
	case Float:
		return coerceFloat(v)
	case Int:
		return coerceInt(v)
	case String:
		return renderString(v), nil
	case Bool:
		return coerceBool(v)
	case Time:
		return coerceTime(v)
	}
	return nil, fmt.Errorf("unknown target type %q", t)
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to float", x)
		}
		return f, nil
	case bool:
		return nil, fmt.Errorf("cannot coerce bool to float")
	case time.Time:
		return nil, fmt.Errorf("cannot coerce time to float")
	}
	return nil, fmt.Errorf("cannot coerce %T to float", v)
}

func coerceInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("cannot coerce non-integral %v to int", x)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot coerce %q to int", x)
		}
		return int64(f), nil
	case bool:
		return nil, fmt.Errorf("cannot coerce bool to int")
	case time.Time:
		return nil, fmt.Errorf("cannot coerce time to int")
	}
	return nil, fmt.Errorf("cannot coerce %T to int", v)
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to bool", x)
		}
		return b, nil
	case int64:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("cannot coerce %d to bool", x)
	case float64:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("cannot coerce %v to bool", x)
	}
	return nil, fmt.Errorf("cannot coerce %T to bool", v)
}

func coerceTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("cannot coerce %q to time", x)
	}
	return nil, fmt.Errorf("cannot coerce %T to time", v)
}

func renderString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}
