package rule

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// isoDateFormats are the accepted date layouts for comparison coercion.
var isoDateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// toNumber coerces a value to float64. Strings that parse as numbers are
// accepted; booleans are not.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(strings.TrimSpace(n.String()), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toDate coerces a value to a time.Time. ISO-8601 strings are accepted.
func toDate(v interface{}) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range isoDateFormats {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// toBool coerces a value to a boolean. Recognizes true/false/1/0/yes/no
// in any case.
func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	case float64:
		if b == 1 {
			return true, true
		}
		if b == 0 {
			return false, true
		}
	case int:
		if b == 1 {
			return true, true
		}
		if b == 0 {
			return false, true
		}
	}
	return false, false
}

// toString renders a scalar operand as a string for lexicographic and
// substring comparison.
func toString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// toList normalizes a value to a []interface{} when it is list-shaped.
func toList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]interface{}); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// compareOrdered applies the ordering coercion ladder: numeric if both
// operands parse as numbers, else dates if both parse as ISO dates, else
// lexicographic if both are strings. The second return is false when the
// operands are not comparable.
func compareOrdered(lhs, rhs interface{}) (int, bool) {
	if ln, ok := toNumber(lhs); ok {
		if rn, ok := toNumber(rhs); ok {
			switch {
			case ln < rn:
				return -1, true
			case ln > rn:
				return 1, true
			}
			return 0, true
		}
	}
	if ld, ok := toDate(lhs); ok {
		if rd, ok := toDate(rhs); ok {
			switch {
			case ld.Before(rd):
				return -1, true
			case ld.After(rd):
				return 1, true
			}
			return 0, true
		}
	}
	if ls, ok := toString(lhs); ok {
		if rs, ok := toString(rhs); ok {
			return strings.Compare(ls, rs), true
		}
	}
	return 0, false
}

// equalCoerced applies loose equality: null equals only null, booleans
// compare after boolean coercion, then the ordering ladder decides, and
// structurally equal values (lists, maps) compare last.
func equalCoerced(lhs, rhs interface{}) bool {
	if lhs == nil || rhs == nil {
		return lhs == nil && rhs == nil
	}
	if _, isBool := lhs.(bool); isBool {
		if lb, ok := toBool(lhs); ok {
			if rb, ok := toBool(rhs); ok {
				return lb == rb
			}
		}
		return false
	}
	if _, isBool := rhs.(bool); isBool {
		if rb, ok := toBool(rhs); ok {
			if lb, ok := toBool(lhs); ok {
				return lb == rb
			}
		}
		return false
	}
	if cmp, ok := compareOrdered(lhs, rhs); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(lhs, rhs)
}

// isEmptyValue reports whether a value counts as empty: nil, empty string,
// or empty list.
func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if list, ok := toList(v); ok {
		return len(list) == 0
	}
	return false
}
