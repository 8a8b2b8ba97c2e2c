package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Validate checks a raw catalog document (YAML or JSON) against the catalog schema.
func Validate(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidCatalog)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, msgs)
	}
	return nil
}

// Parse validates and decodes a catalog document. Entries that pass the schema
// but break the trigger invariant are skipped and returned as problems.
func Parse(data []byte, opts ...Option) (*Catalog, []error, error) {
	if err := Validate(data); err != nil {
		return nil, nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c, problems := Build(doc, opts...)
	return c, problems, nil
}

// Load reads and parses the catalog file at path.
func Load(path string, opts ...Option) (*Catalog, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data, opts...)
}
