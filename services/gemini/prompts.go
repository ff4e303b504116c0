package gemini

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	appfs "github.com/trezcool/kitabu/fs"
)

// prompt names
const (
	promptOutline       = "outline"
	promptTopicNotes    = "topic_notes"
	promptSubtopicNotes = "subtopic_notes"
	promptQuiz          = "quiz"
)

type promptDef struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type prompt struct {
	system string
	user   *template.Template
}

// Prompts is the catalogue of prompts sent to the model.
type Prompts struct {
	prompts map[string]prompt
}

// LoadPrompts parses the embedded prompt catalogue.
func LoadPrompts() (*Prompts, error) {
	data, err := appfs.FS.ReadFile(appfs.PromptsFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading prompts")
	}
	return parsePrompts(data)
}

func parsePrompts(data []byte) (*Prompts, error) {
	var defs map[string]promptDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errors.Wrap(err, "parsing prompts")
	}

	p := &Prompts{prompts: make(map[string]prompt, len(defs))}
	for name, def := range defs {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(def.User)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s prompt", name)
		}
		p.prompts[name] = prompt{system: strings.TrimSpace(def.System), user: tmpl}
	}
	for _, name := range []string{promptOutline, promptTopicNotes, promptSubtopicNotes, promptQuiz} {
		if _, ok := p.prompts[name]; !ok {
			return nil, errors.Errorf("missing %s prompt", name)
		}
	}
	return p, nil
}

// Render returns the system instruction and the user prompt of `name`.
func (p *Prompts) Render(name string, data interface{}) (system, user string, err error) {
	pr, ok := p.prompts[name]
	if !ok {
		return "", "", errors.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err = pr.user.Execute(&buf, data); err != nil {
		return "", "", errors.Wrapf(err, "rendering %s prompt", name)
	}
	return pr.system, strings.TrimSpace(buf.String()), nil
}
