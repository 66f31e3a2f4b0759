package options

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationError names the first offending option in sorted key order.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("option %q: %s", e.Field, e.Reason)
}

// Validate checks submitted against schema and returns the complete option
// set with defaults applied. It never mutates submitted.
func Validate(schema Schema, submitted map[string]any) (Values, error) {
	keys := make(map[string]struct{}, len(schema)+len(submitted))
	for k := range schema {
		keys[k] = struct{}{}
	}
	for k := range submitted {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := make(Values, len(schema))
	for _, key := range ordered {
		field, declared := schema[key]
		raw, present := submitted[key]
		if present && isBlank(raw) {
			present = false
		}

		if !declared {
			if present {
				return nil, &ValidationError{Field: key, Reason: "unknown option"}
			}
			continue
		}

		if !present {
			if field.Required {
				return nil, &ValidationError{Field: key, Reason: "is required"}
			}
			if field.Default != nil {
				out[key] = field.Default
			}
			continue
		}

		v, reason := field.coerce(raw)
		if reason != "" {
			return nil, &ValidationError{Field: key, Reason: reason}
		}
		out[key] = v
	}
	return out, nil
}

// nil and "" count as unset; form posts send empty strings for untouched inputs.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (f *Field) coerce(raw any) (any, string) {
	switch f.Type {
	case TypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return nil, "must be an integer"
		}
		if f.Min != nil && n < *f.Min {
			return nil, fmt.Sprintf("below minimum %d", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return nil, fmt.Sprintf("above maximum %d", *f.Max)
		}
		return n, ""

	case TypeBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil, "must be a boolean"
		}
		return b, ""

	case TypeEnum:
		s, ok := toText(raw)
		if ok {
			for _, v := range f.Values {
				if strings.EqualFold(strings.TrimSpace(s), v) {
					return v, ""
				}
			}
		}
		return nil, "must be one of " + f.enumList()

	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, fmt.Sprintf("longer than %d characters", f.MaxLength)
		}
		if f.re != nil && !f.re.MatchString(s) {
			return nil, "does not match pattern"
		}
		return s, ""
	}
	return nil, "has an unknown type"
}

// toInt accepts any integral value that fits in an int32, whatever Go or
// JSON type it arrives as.
func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return fromInt64(int64(v))
	case int8:
		return fromInt64(int64(v))
	case int16:
		return fromInt64(int64(v))
	case int32:
		return fromInt64(int64(v))
	case int64:
		return fromInt64(v)
	case uint:
		return fromUint64(uint64(v))
	case uint8:
		return fromUint64(uint64(v))
	case uint16:
		return fromUint64(uint64(v))
	case uint32:
		return fromUint64(uint64(v))
	case uint64:
		return fromUint64(v)
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return fromInt64(n)
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromInt64(n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	}
	return 0, false
}

func fromInt64(n int64) (int, bool) {
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, false
	}
	return int(n), true
}

func fromUint64(n uint64) (int, bool) {
	if n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func toBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "yes":
			return true, true
		case "false", "off", "0", "no":
			return false, true
		}
	default:
		if n, ok := toInt(raw); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	}
	return false, false
}

func toText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case bool:
		return "", false
	default:
		if n, ok := toInt(raw); ok {
			return strconv.Itoa(n), true
		}
	}
	return "", false
}
