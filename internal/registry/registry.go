// Package registry holds the tool catalog: what each tool accepts, what it
// produces, which strategy runs it and which options it takes.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/file-converter/internal/options"
)

//go:embed catalog/tools.yaml
var embeddedCatalog []byte

var ErrToolNotFound = errors.New("tool not registered")

type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryMarkup   Category = "markup"
	CategoryArchive  Category = "archive"
)

var categoryOrder = map[Category]int{
	CategoryDocument: 0,
	CategoryImage:    1,
	CategoryVideo:    2,
	CategoryAudio:    3,
	CategoryMarkup:   4,
	CategoryArchive:  5,
}

// NamingRule decides the suggested filename of an artifact.
type NamingRule string

const (
	NamingReplace NamingRule = "replace"
	NamingSuffix  NamingRule = "suffix"
	NamingFixed   NamingRule = "fixed"
)

// SameAsInput as an output extension or MIME keeps the input's.
const SameAsInput = "same"

type Accepts struct {
	Label      string   `yaml:"label" json:"label"`
	MIME       []string `yaml:"mime" json:"mime"`
	Extensions []string `yaml:"ext" json:"extensions"`
}

type Output struct {
	MIME      string     `yaml:"mime" json:"mime"`
	Extension string     `yaml:"ext" json:"extension"`
	Naming    NamingRule `yaml:"naming" json:"naming"`
	Suffix    string     `yaml:"suffix" json:"suffix,omitempty"`
	Filename  string     `yaml:"filename" json:"filename,omitempty"`
}

// ToolDefinition is immutable once the registry is built.
type ToolDefinition struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Category    Category       `yaml:"category" json:"category"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Accepts     Accepts        `yaml:"accepts" json:"accepts"`
	Output      Output         `yaml:"output" json:"output"`
	Multiple    bool           `yaml:"multiple" json:"multiple"`
	MinFiles    int            `yaml:"minFiles" json:"minFiles"`
	MaxFiles    int            `yaml:"maxFiles" json:"maxFiles"`
	Strategy    string         `yaml:"strategy" json:"-"`
	Params      yaml.Node      `yaml:"params" json:"-"`
	Options     options.Schema `yaml:"options" json:"options"`
}

// DecodeParams decodes the tool's strategy parameters into v.
func (d *ToolDefinition) DecodeParams(v any) error {
	if d.Params.Kind == 0 {
		return nil
	}
	if err := d.Params.Decode(v); err != nil {
		return fmt.Errorf("tool %s: decode params: %w", d.ID, err)
	}
	return nil
}

type catalog struct {
	Tools []*ToolDefinition `yaml:"tools"`
}

type Registry struct {
	tools   map[string]*ToolDefinition
	ordered []*ToolDefinition
}

// Default builds the registry from the catalog compiled into the binary.
func Default() (*Registry, error) {
	return Load(embeddedCatalog)
}

// LoadFile builds the registry from a catalog file on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Load(data)
}

// Open picks LoadFile when path is set and Default otherwise.
func Open(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Tools) == 0 {
		return nil, errors.New("catalog declares no tools")
	}

	r := &Registry{tools: make(map[string]*ToolDefinition, len(c.Tools))}
	for _, def := range c.Tools {
		if err := normalizeTool(def); err != nil {
			return nil, err
		}
		if _, dup := r.tools[def.ID]; dup {
			return nil, fmt.Errorf("duplicate tool id %q", def.ID)
		}
		r.tools[def.ID] = def
		r.ordered = append(r.ordered, def)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		a, b := r.ordered[i], r.ordered[j]
		if a.Category != b.Category {
			return categoryOrder[a.Category] < categoryOrder[b.Category]
		}
		return a.ID < b.ID
	})
	return r, nil
}

func normalizeTool(def *ToolDefinition) error {
	if def.ID == "" {
		return errors.New("tool without id")
	}
	if _, ok := categoryOrder[def.Category]; !ok {
		return fmt.Errorf("tool %s: unknown category %q", def.ID, def.Category)
	}
	if def.Strategy == "" {
		return fmt.Errorf("tool %s: no strategy", def.ID)
	}
	if len(def.Accepts.MIME) == 0 && len(def.Accepts.Extensions) == 0 {
		return fmt.Errorf("tool %s: accepts nothing", def.ID)
	}
	if def.Accepts.Label == "" {
		return fmt.Errorf("tool %s: accepts without label", def.ID)
	}
	for i, m := range def.Accepts.MIME {
		def.Accepts.MIME[i] = normalizeMIME(m)
	}
	for i, e := range def.Accepts.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		def.Accepts.Extensions[i] = e
	}

	if def.Output.MIME == "" || def.Output.Extension == "" {
		return fmt.Errorf("tool %s: output needs mime and ext", def.ID)
	}
	switch def.Output.Naming {
	case "":
		def.Output.Naming = NamingReplace
	case NamingReplace:
	case NamingSuffix:
		if def.Output.Suffix == "" {
			return fmt.Errorf("tool %s: suffix naming without suffix", def.ID)
		}
	case NamingFixed:
		if def.Output.Filename == "" {
			return fmt.Errorf("tool %s: fixed naming without filename", def.ID)
		}
	default:
		return fmt.Errorf("tool %s: unknown naming %q", def.ID, def.Output.Naming)
	}

	if def.MinFiles <= 0 {
		def.MinFiles = 1
	}
	if !def.Multiple {
		def.MaxFiles = 1
	}
	if def.MaxFiles > 0 && def.MaxFiles < def.MinFiles {
		return fmt.Errorf("tool %s: maxFiles below minFiles", def.ID)
	}
	if !def.Multiple && def.MinFiles > 1 {
		return fmt.Errorf("tool %s: minFiles %d on a single-file tool", def.ID, def.MinFiles)
	}

	if def.Options == nil {
		def.Options = options.Schema{}
	}
	if err := def.Options.Compile(); err != nil {
		return fmt.Errorf("tool %s: %w", def.ID, err)
	}
	return nil
}

// Lookup returns the definition for toolID or ErrToolNotFound.
func (r *Registry) Lookup(toolID string) (*ToolDefinition, error) {
	def, ok := r.tools[toolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolID)
	}
	return def, nil
}

// Tools lists every tool sorted by category then id.
func (r *Registry) Tools() []*ToolDefinition {
	return append([]*ToolDefinition(nil), r.ordered...)
}

// ValidateOptions validates submitted against the tool's option schema.
func (r *Registry) ValidateOptions(toolID string, submitted map[string]any) (options.Values, error) {
	def, err := r.Lookup(toolID)
	if err != nil {
		return nil, err
	}
	return options.Validate(def.Options, submitted)
}
