package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Target is the type a mapped value is converted into.
type Target string

const (
	TargetString   Target = "string"
	TargetNumber   Target = "number"
	TargetInteger  Target = "integer"
	TargetBoolean  Target = "boolean"
	TargetDate     Target = "date"
	TargetDateTime Target = "dateTime"
)

var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
}

var dateTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Convert coerces an extracted value into the target type. expr is the
// originating path expression, used to build the structured error on
// failure.
func Convert(value interface{}, target Target, expr string) (interface{}, error) {
	out, err := convert(value, target)
	if err != nil {
		return nil, newError(expr, expr, KindConversionFailed, err.Error(), suggestionFor(target))
	}
	return out, nil
}

func convert(value interface{}, target Target) (interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot convert null to %s", target)
	}

	switch target {
	case TargetString:
		return fmt.Sprintf("%v", value), nil

	case TargetNumber:
		return toFloat(value)

	case TargetInteger:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return int64(math.Trunc(f)), nil

	case TargetBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a boolean literal", v)
		}
		if f, err := toFloat(value); err == nil {
			switch f {
			case 1:
				return true, nil
			case 0:
				return false, nil
			}
		}
		return nil, fmt.Errorf("cannot convert %T to boolean", value)

	case TargetDate:
		return parseTime(value, dateFormats)

	case TargetDateTime:
		return parseTime(value, dateTimeFormats)
	}

	return nil, fmt.Errorf("unknown target type %q", target)
}

func toFloat(value interface{}) (float64, error) {
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
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to number", value)
}

func parseTime(value interface{}, formats []string) (time.Time, error) {
	if t, ok := value.(time.Time); ok {
		return t, nil
	}
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot convert %T to a date", value)
	}
	s = strings.TrimSpace(s)
	for _, layout := range formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q does not match any accepted date format", s)
}

func suggestionFor(target Target) string {
	switch target {
	case TargetNumber, TargetInteger:
		return "the value must be a numeric literal"
	case TargetBoolean:
		return "accepted literals: true/false/1/0/yes/no"
	case TargetDate:
		return "accepted formats: YYYY-MM-DD, MM/DD/YYYY, MM-DD-YYYY"
	case TargetDateTime:
		return "accepted formats: ISO-8601 or YYYY-MM-DD HH:MM:SS"
	}
	return ""
}
