package markup

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// CSVToYAML turns CSV rows into a YAML sequence: one mapping per row when
// the first row is a header, one sequence per row otherwise. Column order
// is kept and every value stays a string.
type CSVToYAML struct {
	logger logger.Logger
}

func (s *CSVToYAML) Name() string { return "csv-yaml" }

func (s *CSVToYAML) Accepts(in converter.Input) bool { return isText(in) }

func (s *CSVToYAML) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	r := csv.NewReader(bytes.NewReader(text(f)))
	r.Comma = delimiter(opts.String("delimiter"))
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header := opts.Bool("header")
	var columns []string
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	total := len(f.Data)

	for n := 0; ; n++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, converter.Corrupt("%s is not valid CSV: %v", f.Name, err)
		}
		if n >= maxRecords {
			return nil, converter.ResourceExceeded("%s has more than %d rows", f.Name, maxRecords)
		}

		if header && columns == nil {
			columns = uniqueColumns(record)
			continue
		}

		if header {
			row := &yaml.Node{Kind: yaml.MappingNode}
			for i, col := range columns {
				value := ""
				if i < len(record) {
					value = record[i]
				}
				row.Content = append(row.Content, str(col), str(value))
			}
			for i := len(columns); i < len(record); i++ {
				row.Content = append(row.Content, str(columnName(i)), str(record[i]))
			}
			doc.Content = append(doc.Content, row)
		} else {
			row := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, v := range record {
				row.Content = append(row.Content, str(v))
			}
			doc.Content = append(doc.Content, row)
		}

		if n%1000 == 0 {
			offset := int(r.InputOffset())
			if err := converter.Checkpoint(ctx, progress, converter.Scale(0, 80, offset, total)); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, converter.Internal(err)
	}
	if err := enc.Close(); err != nil {
		return nil, converter.Internal(err)
	}
	s.logger.Debug("Converted CSV", logger.Int("rows", len(doc.Content)))
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func columnName(i int) string {
	return "column" + itoa(i+1)
}

// uniqueColumns fills blank header cells and disambiguates repeats so every
// row mapping has distinct keys.
func uniqueColumns(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		if h == "" {
			h = columnName(i)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "_" + itoa(n+1)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}

// YAMLToCSV flattens a YAML list of records into CSV. Columns are the union
// of record keys in first-seen order; nested values are written as JSON.
type YAMLToCSV struct {
	logger logger.Logger
}

func (s *YAMLToCSV) Name() string { return "yaml-csv" }

func (s *YAMLToCSV) Accepts(in converter.Input) bool { return isText(in) }

func (s *YAMLToCSV) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	var root yaml.Node
	if err := yaml.Unmarshal(text(f), &root); err != nil {
		return nil, converter.Corrupt("%s is not valid YAML: %v", f.Name, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, converter.Unsupported("%s is empty", f.Name)
	}
	seq := root.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, converter.Unsupported("%s must contain a list of records", f.Name)
	}
	if len(seq.Content) > maxRecords {
		return nil, converter.ResourceExceeded("%s has more than %d records", f.Name, maxRecords)
	}
	if err := converter.Checkpoint(ctx, progress, 30); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter(opts.String("delimiter"))

	columns, index := recordColumns(seq)
	if len(columns) > 0 {
		if err := w.Write(columns); err != nil {
			return nil, converter.Internal(err)
		}
	}
	for i, item := range seq.Content {
		var row []string
		switch item.Kind {
		case yaml.MappingNode:
			row = make([]string, len(columns))
			for j := 0; j+1 < len(item.Content); j += 2 {
				cell, err := cellValue(item.Content[j+1])
				if err != nil {
					return nil, err
				}
				row[index[item.Content[j].Value]] = cell
			}
		case yaml.SequenceNode:
			for _, v := range item.Content {
				cell, err := cellValue(v)
				if err != nil {
					return nil, err
				}
				row = append(row, cell)
			}
		default:
			cell, err := cellValue(item)
			if err != nil {
				return nil, err
			}
			row = []string{cell}
		}
		if err := w.Write(row); err != nil {
			return nil, converter.Internal(err)
		}
		if i%1000 == 0 {
			if err := converter.Checkpoint(ctx, progress, converter.Scale(30, 90, i+1, len(seq.Content))); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, converter.Internal(err)
	}
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}

func recordColumns(seq *yaml.Node) ([]string, map[string]int) {
	var columns []string
	index := map[string]int{}
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			key := item.Content[j].Value
			if _, ok := index[key]; !ok {
				index[key] = len(columns)
				columns = append(columns, key)
			}
		}
	}
	return columns, index
}

func cellValue(n *yaml.Node) (string, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind == yaml.ScalarNode {
		if n.Tag == "!!null" {
			return "", nil
		}
		return n.Value, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return "", converter.Corrupt("bad YAML value at line %d: %v", n.Line, err)
	}
	b, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return "", converter.Unsupported("value at line %d cannot be written as a cell: %v", n.Line, err)
	}
	return string(b), nil
}

// normalizeYAML converts map[any]any left by yaml decoding into JSON-friendly maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[toString(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	}
	return v
}
