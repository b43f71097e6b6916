// Package prompt renders the generation and documentation prompts from
// YAML-defined text templates.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/pagesmith/internal/models"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Templates is the YAML shape of a prompts file.
type Templates struct {
	Generation    string `yaml:"generation"`
	Documentation string `yaml:"documentation"`
}

// Set holds parsed prompt templates.
type Set struct {
	generation    *template.Template
	documentation *template.Template
}

var funcs = template.FuncMap{"join": strings.Join}

// Default returns the built-in prompt set.
func Default() *Set {
	s, err := LoadBytes(nil)
	if err != nil {
		panic(fmt.Sprintf("prompt: built-in templates: %v", err))
	}
	return s
}

// Load reads a prompts file. Templates missing from the file keep their
// built-in text. An empty path returns the built-in set.
func Load(path string) (*Set, error) {
	if path == "" {
		return LoadBytes(nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	s, err := LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("prompt: %s: %w", path, err)
	}
	return s, nil
}

// LoadBytes parses override YAML on top of the built-in templates.
func LoadBytes(override []byte) (*Set, error) {
	var t Templates
	if err := yaml.Unmarshal(defaultPrompts, &t); err != nil {
		return nil, fmt.Errorf("parse built-in: %w", err)
	}
	if len(override) > 0 {
		var o Templates
		if err := yaml.Unmarshal(override, &o); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		if strings.TrimSpace(o.Generation) != "" {
			t.Generation = o.Generation
		}
		if strings.TrimSpace(o.Documentation) != "" {
			t.Documentation = o.Documentation
		}
	}

	gen, err := template.New("generation").Funcs(funcs).Option("missingkey=error").Parse(t.Generation)
	if err != nil {
		return nil, fmt.Errorf("generation template: %w", err)
	}
	doc, err := template.New("documentation").Funcs(funcs).Option("missingkey=error").Parse(t.Documentation)
	if err != nil {
		return nil, fmt.Errorf("documentation template: %w", err)
	}
	return &Set{generation: gen, documentation: doc}, nil
}

type generationData struct {
	Brief       string
	Attachments []models.Attachment
}

type documentationData struct {
	Brief string
	Files []string
}

// Generation renders the prompt asking for the application files.
func (s *Set) Generation(brief string, attachments []models.Attachment) (string, error) {
	return render(s.generation, generationData{Brief: brief, Attachments: attachments})
}

// Documentation renders the README prompt for the brief and the file list.
func (s *Set) Documentation(brief string, files []string) (string, error) {
	return render(s.documentation, documentationData{Brief: brief, Files: files})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
