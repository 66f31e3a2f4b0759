package markup

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	return logger.NewZap(zaptest.NewLogger(t))
}

func single(name, body string) converter.Input {
	return converter.Input{Files: []converter.File{{Name: name, Data: []byte(body)}}}
}

func tenRowCSV() string {
	var b strings.Builder
	b.WriteString("id,name,score\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%d,user%d,%d\n", i, i, i*10)
	}
	return b.String()
}

func TestCSVToYAMLTenRows(t *testing.T) {
	s := &CSVToYAML{logger: testLogger(t)}
	in := single("people.csv", tenRowCSV())
	require.True(t, s.Accepts(in))

	out, err := s.Run(context.Background(), in, options.Values{"delimiter": "comma", "header": true}, converter.NopReporter)
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, yaml.Unmarshal(out.Data, &rows))
	require.Len(t, rows, 10)
	assert.Equal(t, map[string]string{"id": "1", "name": "user1", "score": "10"}, rows[0])
	assert.Equal(t, "user10", rows[9]["name"])

	again, err := s.Run(context.Background(), in, options.Values{"delimiter": "comma", "header": true}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, out.Data, again.Data)
}

func TestCSVToYAMLWithoutHeader(t *testing.T) {
	s := &CSVToYAML{logger: testLogger(t)}
	out, err := s.Run(context.Background(), single("a.csv", "a;b\nc;d\n"), options.Values{"delimiter": "semicolon", "header": false}, converter.NopReporter)
	require.NoError(t, err)

	var rows [][]string
	require.NoError(t, yaml.Unmarshal(out.Data, &rows))
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)
}

func TestCSVToYAMLBadQuotes(t *testing.T) {
	s := &CSVToYAML{logger: testLogger(t)}
	_, err := s.Run(context.Background(), single("a.csv", "a,\"b\n"), options.Values{"header": true}, converter.NopReporter)
	assert.Equal(t, models.FailureCorrupt, converter.KindOf(err))
}

func TestUniqueColumns(t *testing.T) {
	assert.Equal(t, []string{"a", "column2", "a_2"}, uniqueColumns([]string{"a", "", "a"}))
}

func TestYAMLToCSV(t *testing.T) {
	s := &YAMLToCSV{logger: testLogger(t)}
	doc := "- name: ann\n  age: 31\n- name: bob\n  tags: [x, y]\n"

	out, err := s.Run(context.Background(), single("p.yaml", doc), options.Values{"delimiter": "comma"}, converter.NopReporter)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"name", "age", "tags"},
		{"ann", "31", ""},
		{"bob", "", `["x","y"]`},
	}, records)
}

func TestYAMLToCSVNeedsAList(t *testing.T) {
	s := &YAMLToCSV{logger: testLogger(t)}
	_, err := s.Run(context.Background(), single("p.yaml", "a: 1\n"), options.Values{}, converter.NopReporter)
	assert.Equal(t, models.FailureUnsupported, converter.KindOf(err))
}

func TestCSVYAMLRoundTrip(t *testing.T) {
	toYAML := &CSVToYAML{logger: testLogger(t)}
	toCSV := &YAMLToCSV{logger: testLogger(t)}
	src := tenRowCSV()

	y, err := toYAML.Run(context.Background(), single("a.csv", src), options.Values{"delimiter": "comma", "header": true}, converter.NopReporter)
	require.NoError(t, err)
	c, err := toCSV.Run(context.Background(), single("a.yaml", string(y.Data)), options.Values{"delimiter": "comma"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, src, string(c.Data))
}

func TestJSONToXML(t *testing.T) {
	s := &JSONToXML{logger: testLogger(t)}
	in := single("d.json", `{"b": [1, 2], "a": {"x": "y", "9z": null}, "ok": true}`)
	require.True(t, s.Accepts(in))

	out, err := s.Run(context.Background(), in, options.Values{"rootElement": "doc", "indent": false}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t,
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<doc><a><_9z></_9z><x>y</x></a><b>1</b><b>2</b><ok>true</ok></doc>`+"\n",
		string(out.Data))
}

func TestJSONToXMLTopLevelArray(t *testing.T) {
	s := &JSONToXML{logger: testLogger(t)}
	out, err := s.Run(context.Background(), single("d.json", `["a","b"]`), options.Values{"rootElement": "list"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Contains(t, string(out.Data), "<list><item>a</item><item>b</item></list>")
}

func TestJSONToXMLRejectsInvalidJSON(t *testing.T) {
	s := &JSONToXML{logger: testLogger(t)}
	assert.False(t, s.Accepts(single("d.json", `{"a":`)))
}

func TestXMLToJSON(t *testing.T) {
	s := &XMLToJSON{logger: testLogger(t)}
	in := single("d.xml", `<?xml version="1.0"?><library id="7"><book>Go</book><book>Rust</book><owner><name>ann</name></owner><empty/></library>`)
	require.True(t, s.Accepts(in))

	out, err := s.Run(context.Background(), in, options.Values{"indent": false}, converter.NopReporter)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &doc))
	assert.Equal(t, map[string]any{
		"library": map[string]any{
			"@id":   "7",
			"book":  []any{"Go", "Rust"},
			"owner": map[string]any{"name": "ann"},
			"empty": nil,
		},
	}, doc)
}

func TestXMLToJSONMalformed(t *testing.T) {
	s := &XMLToJSON{logger: testLogger(t)}
	_, err := s.Run(context.Background(), single("d.xml", `<a><b></a>`), options.Values{}, converter.NopReporter)
	assert.Equal(t, models.FailureCorrupt, converter.KindOf(err))
}

func TestMinify(t *testing.T) {
	tests := []struct {
		mediaType string
		in        string
		want      string
	}{
		{"text/css", "body {\n  color : red ;\n}\n", "body{color:red}"},
		{"application/javascript", "function add ( a , b ) {\n  return a + b ;\n}\n", "function add(a,b){return a+b}"},
	}
	for _, tt := range tests {
		m, err := NewMinify(MinifyParams{MediaType: tt.mediaType}, testLogger(t))
		require.NoError(t, err)
		out, err := m.Run(context.Background(), single("x", tt.in), options.Values{}, converter.NopReporter)
		require.NoError(t, err, tt.mediaType)
		assert.Equal(t, tt.want, string(out.Data), tt.mediaType)
	}
}

func TestMinifyHTMLKeepsComments(t *testing.T) {
	m, err := NewMinify(MinifyParams{MediaType: "text/html"}, testLogger(t))
	require.NoError(t, err)
	page := "<html>\n  <body>\n    <!-- keep -->\n    <p>hi</p>\n  </body>\n</html>\n"

	out, err := m.Run(context.Background(), single("i.html", page), options.Values{"keepComments": true}, converter.NopReporter)
	require.NoError(t, err)
	assert.Contains(t, string(out.Data), "<!-- keep -->")
	assert.Less(t, len(out.Data), len(page))

	out, err = m.Run(context.Background(), single("i.html", page), options.Values{"keepComments": false}, converter.NopReporter)
	require.NoError(t, err)
	assert.NotContains(t, string(out.Data), "keep")
}

func TestNewMinifyUnknownType(t *testing.T) {
	_, err := NewMinify(MinifyParams{MediaType: "text/x-go"}, testLogger(t))
	assert.Error(t, err)
}
