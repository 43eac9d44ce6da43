package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrTemplateMissing means a required template id could not be loaded
var ErrTemplateMissing = errors.New("prompt template missing")

// CompoundTemplateID names the template used for COMPOUND evaluations
const CompoundTemplateID = "l2_compound"

//go:embed templates/*.txt
var embedded embed.FS

// TemplateSource loads named templates
type TemplateSource interface {
	Load(id string) (string, error)
}

// FSSource loads "<id>.txt" from a file system
type FSSource struct {
	fsys fs.FS
}

// NewFSSource creates a source over fsys
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// EmbeddedSource returns the templates compiled into the binary
func EmbeddedSource() *FSSource {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Sprintf("embedded templates: %v", err))
	}
	return NewFSSource(sub)
}

// DirSource returns a source reading templates from dir. An empty dir selects the embedded templates.
func DirSource(dir string) *FSSource {
	if dir == "" {
		return EmbeddedSource()
	}
	return NewFSSource(os.DirFS(dir))
}

// Load returns the template text for id
func (s *FSSource) Load(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: invalid template id %q", ErrTemplateMissing, id)
	}

	data, err := fs.ReadFile(s.fsys, id+".txt")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateMissing, id, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrTemplateMissing, id)
	}
	return string(data), nil
}

// Substitute replaces each {name} token whose name is in values.
// Unknown placeholders and any other braces are left as written.
func Substitute(template string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		if template[i] == '{' {
			if end := strings.IndexByte(template[i+1:], '}'); end >= 0 {
				name := template[i+1 : i+1+end]
				if value, ok := values[name]; ok && isPlaceholderName(name) {
					b.WriteString(value)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(template[i])
		i++
	}

	return b.String()
}

func isPlaceholderName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
