package converter

import (
	"fmt"
	"sort"

	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// Builder configures a strategy of one kind for one tool.
type Builder func(def *registry.ToolDefinition) (Strategy, error)

// Factory knows every strategy kind and builds the per-tool table.
type Factory struct {
	builders map[string]Builder
	logger   logger.Logger
}

func NewFactory(log logger.Logger) *Factory {
	return &Factory{
		builders: make(map[string]Builder),
		logger:   log.Named("converter"),
	}
}

// Register adds a strategy kind. Registering a kind twice is a programming
// error and panics.
func (f *Factory) Register(kind string, b Builder) {
	if _, dup := f.builders[kind]; dup {
		panic(fmt.Sprintf("converter: strategy kind %q registered twice", kind))
	}
	f.builders[kind] = b
}

// Kinds lists the registered strategy kinds.
func (f *Factory) Kinds() []string {
	kinds := make([]string, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build binds every catalog tool to a configured strategy. A tool naming an
// unknown kind fails the whole build so a bad catalog never starts.
func (f *Factory) Build(reg *registry.Registry) (*Table, error) {
	t := &Table{strategies: make(map[string]Strategy)}
	for _, def := range reg.Tools() {
		b, ok := f.builders[def.Strategy]
		if !ok {
			return nil, fmt.Errorf("tool %s: unknown strategy kind %q", def.ID, def.Strategy)
		}
		s, err := b(def)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.ID, err)
		}
		t.strategies[def.ID] = s
		f.logger.Debug("Bound strategy",
			logger.String("tool", def.ID),
			logger.String("strategy", s.Name()),
		)
	}
	f.logger.Info("Strategy table built", logger.Int("tools", len(t.strategies)))
	return t, nil
}

// Table maps tool ids to strategies. It is read-only after Build.
type Table struct {
	strategies map[string]Strategy
}

// NewTable builds a table directly, mostly for tests.
func NewTable(strategies map[string]Strategy) *Table {
	t := &Table{strategies: make(map[string]Strategy, len(strategies))}
	for k, v := range strategies {
		t.strategies[k] = v
	}
	return t
}

func (t *Table) Get(toolID string) (Strategy, error) {
	s, ok := t.strategies[toolID]
	if !ok {
		return nil, fmt.Errorf("no strategy for tool %s: %w", toolID, registry.ErrToolNotFound)
	}
	return s, nil
}
