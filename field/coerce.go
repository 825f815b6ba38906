package field

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/geodbio/geosync/wkt"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = time.RFC3339
)

// coerceToLocal converts a remote wire value (typically JSON-decoded) into
// the local representation for the given type.
func coerceToLocal(value interface{}, t Type) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		return coerceString(value)
	case TypeInteger:
		return coerceInteger(value)
	case TypeDecimal:
		return coerceDecimal(value)
	case TypeBoolean:
		return coerceBoolean(value)
	case TypeDate:
		return coerceDate(value)
	case TypeDateTime:
		return coerceDateTime(value)
	case TypeGeometry:
		return coerceGeometry(value)
	default:
		return nil, fmt.Errorf("unknown attribute type %q", t)
	}
}

// coerceToRemote converts a local value into its wire form. Local values
// have already passed coerceToLocal, so failures here degrade to passing
// the value through unchanged rather than failing the record.
func coerceToRemote(value interface{}, t Type, precision int) interface{} {
	if value == nil {
		return nil
	}
	switch t {
	case TypeGeometry:
		if g, ok := value.(*wkt.Geometry); ok {
			text, err := wkt.Format(g, precision)
			if err != nil {
				return nil
			}
			return text
		}
		return value
	case TypeDate:
		if ts, ok := value.(time.Time); ok {
			return ts.Format(dateLayout)
		}
		return value
	case TypeDateTime:
		if ts, ok := value.(time.Time); ok {
			return ts.UTC().Format(dateTimeLayout)
		}
		return value
	default:
		return value
	}
}

func coerceString(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, fmt.Errorf("cannot represent %T as string", value)
	}
}

func coerceInteger(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot represent %T as integer", value)
	}
}

func coerceDecimal(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot represent %T as decimal", value)
	}
}

func coerceBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", v)
		}
		return b, nil
	case float64:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("%v is not a boolean", v)
	default:
		return nil, fmt.Errorf("cannot represent %T as boolean", value)
	}
}

func coerceDate(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Truncate(24 * time.Hour), nil
	case string:
		s := strings.TrimSpace(v)
		// Datetime strings carry a valid date prefix; keep only that part.
		if len(s) > len(dateLayout) {
			s = s[:len(dateLayout)]
		}
		ts, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a date", v)
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("cannot represent %T as date", value)
	}
}

func coerceDateTime(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", dateLayout} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("%q is not a datetime", v)
	default:
		return nil, fmt.Errorf("cannot represent %T as datetime", value)
	}
}

func coerceGeometry(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case *wkt.Geometry:
		return v, nil
	case string:
		g, _, err := wkt.ParseEWKT(v)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("cannot represent %T as geometry", value)
	}
}

// scalarEqual compares two already-coerced values for exact equality.
// Numeric values of different widths compare by value so a pulled int64
// matches a freshly decoded float64.
func scalarEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, okA := asFloat(a); okA {
		if fb, okB := asFloat(b); okB {
			return fa == fb
		}
		return false
	}
	if ta, okA := a.(time.Time); okA {
		if tb, okB := b.(time.Time); okB {
			return ta.Equal(tb)
		}
		return false
	}
	// Values of an uncomparable kind (maps, slices) would make == panic.
	if t := reflect.TypeOf(a); t == reflect.TypeOf(b) && !t.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
