// Package options declares per-tool option schemas and validates submitted
// option sets against them.
package options

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type FieldType string

const (
	TypeInteger FieldType = "integer"
	TypeEnum    FieldType = "enum"
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
)

// Field is one option key's declaration.
type Field struct {
	Type        FieldType `yaml:"type" json:"type"`
	Label       string    `yaml:"label" json:"label,omitempty"`
	Min         *int      `yaml:"min" json:"min,omitempty"`
	Max         *int      `yaml:"max" json:"max,omitempty"`
	Values      []string  `yaml:"values" json:"values,omitempty"`
	Pattern     string    `yaml:"pattern" json:"pattern,omitempty"`
	MaxLength   int       `yaml:"maxLength" json:"maxLength,omitempty"`
	Required    bool      `yaml:"required" json:"required,omitempty"`
	Secret      bool      `yaml:"secret" json:"secret,omitempty"`
	Default     any       `yaml:"default" json:"default,omitempty"`
	Description string    `yaml:"description" json:"description,omitempty"`

	re *regexp.Regexp
}

// Schema maps option keys to their declarations.
type Schema map[string]*Field

// Compile checks the schema itself and prepares patterns. It must be called
// once before Validate; the registry does this at load time.
func (s Schema) Compile() error {
	for _, key := range s.Keys() {
		f := s[key]
		if f == nil {
			return fmt.Errorf("option %q: empty declaration", key)
		}
		switch f.Type {
		case TypeInteger:
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				return fmt.Errorf("option %q: min %d above max %d", key, *f.Min, *f.Max)
			}
		case TypeEnum:
			if len(f.Values) == 0 {
				return fmt.Errorf("option %q: enum without values", key)
			}
		case TypeString:
			if f.Pattern != "" {
				re, err := regexp.Compile(f.Pattern)
				if err != nil {
					return fmt.Errorf("option %q: bad pattern: %w", key, err)
				}
				f.re = re
			}
		case TypeBoolean:
		default:
			return fmt.Errorf("option %q: unknown type %q", key, f.Type)
		}

		if f.Default != nil {
			v, reason := f.coerce(f.Default)
			if reason != "" {
				return fmt.Errorf("option %q: default %v %s", key, f.Default, reason)
			}
			f.Default = v
		}
	}
	return nil
}

// Keys returns the declared keys in sorted order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *Field) enumList() string {
	return strings.Join(f.Values, ", ")
}
