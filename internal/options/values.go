package options

import (
	"encoding/json"
	"strconv"
)

// Values is a validated option set. It survives a JSON round trip through the
// job store, so the getters accept the widened types encoding/json produces.
type Values map[string]any

func (v Values) Int(key string) int {
	switch n := v[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func (v Values) String(key string) string {
	switch s := v[key].(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

func (v Values) Bool(key string) bool {
	b, _ := v[key].(bool)
	return b
}

// Has reports whether key carries a value, either submitted or defaulted.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Redacted returns a copy with secret fields masked, for logs and API output.
func (v Values) Redacted(schema Schema) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		if f, ok := schema[k]; ok && f.Secret {
			out[k] = "***"
			continue
		}
		out[k] = val
	}
	return out
}
