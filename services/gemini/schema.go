package gemini

import (
	"bytes"
	"path"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"

	appfs "github.com/trezcool/kitabu/fs"
)

const schemaBaseURL = "https://kitabu.app/schemas/"

// schema names
const (
	schemaOutline = "outline"
	schemaNotes   = "notes"
	schemaQuiz    = "quiz"
)

type schemas map[string]*jsonschema.Schema

func loadSchemas() (schemas, error) {
	c := jsonschema.NewCompiler()
	names := []string{schemaOutline, schemaNotes, schemaQuiz}
	for _, name := range names {
		data, err := appfs.FS.ReadFile(path.Join(appfs.SchemasDir, name+".json"))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s schema", name)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s schema", name)
		}
		if err = c.AddResource(schemaBaseURL+name+".json", doc); err != nil {
			return nil, errors.Wrapf(err, "adding %s schema", name)
		}
	}

	s := make(schemas, len(names))
	for _, name := range names {
		sch, err := c.Compile(schemaBaseURL + name + ".json")
		if err != nil {
			return nil, errors.Wrapf(err, "compiling %s schema", name)
		}
		s[name] = sch
	}
	return s, nil
}

// validate checks a JSON document against the named schema.
func (s schemas) validate(name string, data []byte) error {
	sch, ok := s[name]
	if !ok {
		return errors.Errorf("unknown schema %q", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "parsing JSON")
	}
	return errors.Wrapf(sch.Validate(inst), "invalid %s", name)
}
