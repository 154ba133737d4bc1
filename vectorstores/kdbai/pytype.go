package kdbai

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// convertColumn coerces a metadata value to the column's pytype.
// Dates are sent as RFC 3339 strings and durations as nanoseconds.
func convertColumn(col Column, value any) (any, error) {
	switch col.PyType {
	case "str":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case "bytes":
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case "int8":
		return toInt(value, 8)
	case "int16":
		return toInt(value, 16)
	case "int32":
		return toInt(value, 32)
	case "int64":
		return toInt(value, 64)
	case "float32":
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%v overflows float32", f)
		}
		return float32(f), nil
	case "float64":
		return toFloat(value)
	case "datetime64[ns]":
		t, err := toTime(value)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case "timedelta64[ns]":
		d, err := toDuration(value)
		if err != nil {
			return nil, err
		}
		return d.Nanoseconds(), nil
	default:
		return nil, fmt.Errorf("unsupported pytype %q", col.PyType)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, col.PyType)
}

func toInt(value any, bits int) (int64, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case float32:
		return toInt(float64(v), bits)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		if v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("%v overflows int%d", v, bits)
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int%d", value, bits)
	}
	lim := int64(1) << (bits - 1)
	if bits < 64 && (n < -lim || n >= lim) {
		return 0, fmt.Errorf("%d overflows int%d", n, bits)
	}
	return n, nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", value)
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(0, v), nil
	case int:
		return time.Unix(0, int64(v)), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", value)
	}
}

func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case int64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	case string:
		return time.ParseDuration(v)
	default:
		return 0, fmt.Errorf("cannot convert %T to timedelta", value)
	}
}
