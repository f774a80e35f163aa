// Package prompts holds the message templates sent to the completion service.
//
// Each template is a YAML file with a list of role/content messages. Contents
// are text/template bodies rendered against a step-specific data struct.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semdilemma/llm"
)

//go:embed templates/*.yaml
var embedded embed.FS

// Name identifies a prompt template.
type Name string

// Built-in templates.
const (
	SeedDraft Name = "seed_draft"
	Rubric    Name = "rubric"
	Revise    Name = "revise"
)

// DraftData feeds the seed_draft template.
type DraftData struct {
	Seed        string
	Values      []string
	WordCeiling int
	WordFloor   int
}

// CriterionPrompt is one rubric line.
type CriterionPrompt struct {
	ID          string
	Description string
}

// RubricData feeds the rubric template.
type RubricData struct {
	RoleName      string
	Criteria      []CriterionPrompt
	DecisionMaker string
	Narrative     string
	Choice1       string
	Choice2       string
	Value1        string
	Value2        string
}

// ReviseData feeds the revise template.
type ReviseData struct {
	ArtifactJSON   string
	Revision       int
	Feedback       string
	Values         []string
	WordCeiling    int
	WordFloor      int
	LexiconFailure bool
	NoveltyFailure bool
}

type messageTemplate struct {
	role string
	body *template.Template
}

type promptFile struct {
	Description string `yaml:"description"`
	Messages    []struct {
		Role    string `yaml:"role"`
		Content string `yaml:"content"`
	} `yaml:"messages"`
}

// Catalogue is a parsed set of templates. It is immutable after loading and
// safe for concurrent use.
type Catalogue struct {
	templates map[Name][]messageTemplate
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Default returns the catalogue built from the embedded templates.
func Default() (*Catalogue, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadFS parses every *.yaml file at the root of fsys. The file name without
// extension is the template name.
func LoadFS(fsys fs.FS) (*Catalogue, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no prompt templates found")
	}

	c := &Catalogue{templates: make(map[Name][]messageTemplate, len(files))}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", file, err)
		}
		name := Name(strings.TrimSuffix(path.Base(file), ".yaml"))
		msgs, err := parsePrompt(name, data)
		if err != nil {
			return nil, err
		}
		c.templates[name] = msgs
	}
	return c, nil
}

func parsePrompt(name Name, data []byte) ([]messageTemplate, error) {
	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	if len(pf.Messages) == 0 {
		return nil, fmt.Errorf("prompt %s has no messages", name)
	}

	out := make([]messageTemplate, 0, len(pf.Messages))
	for i, m := range pf.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return nil, fmt.Errorf("prompt %s message %d: unknown role %q", name, i, m.Role)
		}
		tmpl, err := template.New(fmt.Sprintf("%s[%d]", name, i)).
			Funcs(funcs).
			Option("missingkey=error").
			Parse(m.Content)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s message %d: %w", name, i, err)
		}
		out = append(out, messageTemplate{role: m.Role, body: tmpl})
	}
	return out, nil
}

// Names returns the loaded template names, sorted.
func (c *Catalogue) Names() []Name {
	names := make([]Name, 0, len(c.templates))
	for n := range c.templates {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Render executes the named template against data.
func (c *Catalogue) Render(name Name, data any) ([]llm.Message, error) {
	msgs, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", name)
	}

	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		var buf bytes.Buffer
		if err := m.body.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render prompt %s: %w", name, err)
		}
		out = append(out, llm.Message{Role: m.role, Content: strings.TrimSpace(buf.String())})
	}
	return out, nil
}

// FormatCorrection extends a conversation after an unparseable reply: the
// bad reply is echoed as the assistant turn, followed by a user turn naming
// the parse error.
func FormatCorrection(msgs []llm.Message, reply string, parseErr error) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+2)
	out = append(out, msgs...)
	out = append(out,
		llm.Message{Role: "assistant", Content: reply},
		llm.Message{Role: "user", Content: fmt.Sprintf(
			"Your previous response could not be used: %v.\n"+
				"Respond again with only the JSON object described above. "+
				"No prose, no markdown fences, no comments.", parseErr)},
	)
	return out
}
