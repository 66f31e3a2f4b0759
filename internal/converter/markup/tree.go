package markup

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// maxDepth bounds nesting in both directions.
const maxDepth = 256

// JSONToXML writes a JSON document as XML under a root element. Object keys
// become child elements in sorted order, arrays repeat their parent element.
type JSONToXML struct {
	logger logger.Logger
}

func (s *JSONToXML) Name() string { return "json-xml" }

func (s *JSONToXML) Accepts(in converter.Input) bool {
	return isText(in) && json.Valid(text(in.First()))
}

func (s *JSONToXML) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	dec := json.NewDecoder(bytes.NewReader(text(f)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, converter.Corrupt("%s is not valid JSON: %v", f.Name, err)
	}
	if err := converter.Checkpoint(ctx, progress, 40); err != nil {
		return nil, err
	}

	root := opts.String("rootElement")
	if root == "" {
		root = "root"
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if opts.Bool("indent") {
		enc.Indent("", "  ")
	}
	if err := writeXML(enc, root, doc, 0); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, converter.Internal(err)
	}
	buf.WriteByte('\n')
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}

func writeXML(enc *xml.Encoder, name string, v any, depth int) error {
	if depth > maxDepth {
		return converter.ResourceExceeded("document nests deeper than %d levels", maxDepth)
	}
	start := xml.StartElement{Name: xml.Name{Local: xmlName(name)}}

	if arr, ok := v.([]any); ok && depth == 0 {
		// A top-level array needs a wrapper; its items become <item>.
		if err := enc.EncodeToken(start); err != nil {
			return converter.Internal(err)
		}
		for _, item := range arr {
			if err := writeXML(enc, "item", item, depth+1); err != nil {
				return err
			}
		}
		return encodeEnd(enc, start)
	}

	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if err := writeXML(enc, name, item, depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := enc.EncodeToken(start); err != nil {
			return converter.Internal(err)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := writeXML(enc, k, t[k], depth+1); err != nil {
				return err
			}
		}
		return encodeEnd(enc, start)
	case nil:
		if err := enc.EncodeToken(start); err != nil {
			return converter.Internal(err)
		}
		return encodeEnd(enc, start)
	default:
		if err := enc.EncodeToken(start); err != nil {
			return converter.Internal(err)
		}
		if err := enc.EncodeToken(xml.CharData(scalarText(t))); err != nil {
			return converter.Internal(err)
		}
		return encodeEnd(enc, start)
	}
}

func encodeEnd(enc *xml.Encoder, start xml.StartElement) error {
	if err := enc.EncodeToken(start.End()); err != nil {
		return converter.Internal(err)
	}
	return nil
}

func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return toString(v)
}

// xmlName maps an arbitrary key onto a valid element name.
func xmlName(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range key {
		valid := r == '_' || unicode.IsLetter(r) ||
			(i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'))
		if !valid {
			if i == 0 && (unicode.IsDigit(r) || r == '-' || r == '.') {
				b.WriteRune('_')
				b.WriteRune(r)
				continue
			}
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	name := b.String()
	if strings.HasPrefix(strings.ToLower(name), "xml") {
		name = "_" + name
	}
	return name
}

// XMLToJSON reads XML into nested objects: attributes become "@name" keys,
// repeated children become arrays and text next to children goes in "#text".
type XMLToJSON struct {
	logger logger.Logger
}

func (s *XMLToJSON) Name() string { return "xml-json" }

func (s *XMLToJSON) Accepts(in converter.Input) bool {
	if !isText(in) {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(text(in.First())), []byte("<"))
}

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

func (s *XMLToJSON) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	dec := xml.NewDecoder(bytes.NewReader(text(f)))
	dec.Strict = true

	var (
		stack []*xmlNode
		root  *xmlNode
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, converter.Corrupt("%s is not valid XML: %v", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= maxDepth {
				return nil, converter.ResourceExceeded("document nests deeper than %d levels", maxDepth)
			}
			n := &xmlNode{name: t.Name.Local, attrs: t.Copy().Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, converter.Corrupt("%s has no root element", f.Name)
	}
	if err := converter.Checkpoint(ctx, progress, 50); err != nil {
		return nil, err
	}

	doc := map[string]any{root.name: root.value()}
	var (
		out []byte
		err error
	)
	if opts.Bool("indent") {
		out, err = json.MarshalIndent(doc, "", "  ")
	} else {
		out, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, converter.Internal(err)
	}
	out = append(out, '\n')
	return &converter.Output{Data: out}, converter.Checkpoint(ctx, progress, 100)
}

func (n *xmlNode) value() any {
	txt := strings.TrimSpace(n.text.String())
	if len(n.attrs) == 0 && len(n.children) == 0 {
		if txt == "" {
			return nil
		}
		return txt
	}

	obj := make(map[string]any, len(n.attrs)+len(n.children)+1)
	for _, a := range n.attrs {
		key := "@" + a.Name.Local
		if a.Name.Space == "xmlns" {
			key = "@xmlns:" + a.Name.Local
		}
		obj[key] = a.Value
	}
	counts := make(map[string]int, len(n.children))
	for _, c := range n.children {
		counts[c.name]++
	}
	for _, c := range n.children {
		if counts[c.name] > 1 {
			arr, _ := obj[c.name].([]any)
			obj[c.name] = append(arr, c.value())
			continue
		}
		obj[c.name] = c.value()
	}
	if txt != "" {
		obj["#text"] = txt
	}
	return obj
}
