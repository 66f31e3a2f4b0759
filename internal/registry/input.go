package registry

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// FileInfo is what the registry can see of an upload without reading it.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
}

// InputRejectedError is returned for files a tool cannot take.
type InputRejectedError struct {
	ToolID string
	Reason string
}

func (e *InputRejectedError) Error() string {
	return "input rejected: " + e.Reason
}

// ValidateInput checks one file against the tool's accepted MIME patterns and
// extensions. A match on either is enough, but a concrete declared MIME that
// contradicts every pattern is rejected even when the extension matches.
func (r *Registry) ValidateInput(toolID string, f FileInfo) error {
	def, err := r.Lookup(toolID)
	if err != nil {
		return err
	}
	return def.validateFile(f)
}

// ValidateInputs checks the file count and then every file.
func (r *Registry) ValidateInputs(toolID string, files []FileInfo) error {
	def, err := r.Lookup(toolID)
	if err != nil {
		return err
	}

	n := len(files)
	switch {
	case n == 0:
		return &InputRejectedError{ToolID: toolID, Reason: "expected a file, got none"}
	case !def.Multiple && n > 1:
		return &InputRejectedError{ToolID: toolID, Reason: fmt.Sprintf("expected a single file, got %d", n)}
	case n < def.MinFiles:
		return &InputRejectedError{ToolID: toolID, Reason: fmt.Sprintf("expected at least %d files, got %d", def.MinFiles, n)}
	case def.MaxFiles > 0 && n > def.MaxFiles:
		return &InputRejectedError{ToolID: toolID, Reason: fmt.Sprintf("expected at most %d files, got %d", def.MaxFiles, n)}
	}

	for _, f := range files {
		if err := def.validateFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (d *ToolDefinition) validateFile(f FileInfo) error {
	declared := normalizeMIME(f.MimeType)
	ext := strings.ToLower(filepath.Ext(f.Name))

	mimeOK := declared != "" && d.matchesMIME(declared)
	extOK := d.matchesName(f.Name)

	if concreteMIME(declared) && !mimeOK {
		return d.reject(declared)
	}
	if mimeOK || extOK {
		return nil
	}

	got := declared
	if got == "" || got == "application/octet-stream" {
		got = ext
	}
	if got == "" {
		got = "a file without extension"
	}
	return d.reject(got)
}

func (d *ToolDefinition) reject(got string) error {
	return &InputRejectedError{
		ToolID: d.ID,
		Reason: fmt.Sprintf("expected %s, got %s", d.Accepts.Label, got),
	}
}

func (d *ToolDefinition) matchesMIME(m string) bool {
	for _, p := range d.Accepts.MIME {
		switch {
		case p == "*/*" || p == "*":
			return true
		case strings.HasSuffix(p, "/*"):
			if strings.HasPrefix(m, strings.TrimSuffix(p, "*")) {
				return true
			}
		case p == m:
			return true
		}
	}
	return false
}

// matchesName compares by suffix so multi-part extensions like .tar.gz work.
func (d *ToolDefinition) matchesName(name string) bool {
	lower := strings.ToLower(name)
	for _, e := range d.Accepts.Extensions {
		if e == ".*" {
			return true
		}
		if strings.HasSuffix(lower, e) && len(lower) > len(e) {
			return true
		}
	}
	return false
}

func concreteMIME(m string) bool {
	return m != "" && m != "application/octet-stream"
}

func normalizeMIME(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(m); err == nil {
		return parsed
	}
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
