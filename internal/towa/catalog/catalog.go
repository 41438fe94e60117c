// Package catalog defines the static operation catalog: which automation
// operations Towa knows how to run, which parameters each one requires, and
// the prompt metadata used when a required parameter has to be asked for.
//
// The catalog is embedded at build time as a YAML document and validated on
// load against a JSON schema, so a malformed catalog fails at startup rather
// than mid-conversation.  Operations absent from the catalog are not an
// error: the slot validator treats them as requiring no validation.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

//go:embed catalog.schema.json
var catalogSchema string

// Param describes a single operation parameter.
type Param struct {
	// Name is the flat argument-map key, e.g. "template_id".
	Name string `yaml:"name"`
	// Required marks parameters that must be present before execution.
	Required bool `yaml:"required"`
	// Prompt is the curated question asked when a required parameter is
	// missing.  Empty means the validator falls back to a generic prompt.
	Prompt string `yaml:"prompt"`
	// Choices is an optional fixed list of allowed values, surfaced verbatim
	// in clarification prompts.
	Choices []string `yaml:"choices"`
	// Default is injected for optional parameters that are absent from the
	// argument map.  Only meaningful when Required is false.
	Default string `yaml:"default"`
}

// OperationSchema describes one operation in the catalog.
type OperationSchema struct {
	// Name is the operation key, e.g. "jobs.launch".
	Name string `yaml:"name"`
	// Description is a one-line summary used in help output.
	Description string `yaml:"description"`
	// Params lists all parameters in declaration order.  The order of the
	// required subset is the order missing-field prompts are reported in.
	Params []Param `yaml:"params"`
}

// Required returns the required parameters in declaration order.
func (s *OperationSchema) Required() []Param {
	var out []Param
	for _, p := range s.Params {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// Optional returns the optional parameters in declaration order.
func (s *OperationSchema) Optional() []Param {
	var out []Param
	for _, p := range s.Params {
		if !p.Required {
			out = append(out, p)
		}
	}
	return out
}

// Registry is the loaded, immutable operation catalog.
type Registry struct {
	ops   map[string]*OperationSchema
	order []string
}

// document mirrors the top level of catalog.yaml.
type document struct {
	Operations []OperationSchema `yaml:"operations"`
}

// Load parses and validates the embedded catalog.  It is called once at
// startup; the returned Registry is read-only and safe for concurrent use.
func Load() (*Registry, error) {
	return load(catalogYAML)
}

func load(raw []byte) (*Registry, error) {
	// Validate the document shape first so schema violations surface as one
	// clear startup error instead of a zero-valued struct downstream.
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}

	schema, err := jsonschema.CompileString("catalog.schema.json", catalogSchema)
	if err != nil {
		return nil, fmt.Errorf("catalog schema compile: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("catalog validate: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}

	reg := &Registry{ops: make(map[string]*OperationSchema, len(doc.Operations))}
	for i := range doc.Operations {
		op := &doc.Operations[i]
		if _, exists := reg.ops[op.Name]; exists {
			return nil, fmt.Errorf("catalog: duplicate operation %q", op.Name)
		}
		reg.ops[op.Name] = op
		reg.order = append(reg.order, op.Name)
	}
	return reg, nil
}

// Describe looks up the schema for an operation.  The second return value is
// false when the operation has no catalog entry, which callers must treat as
// "no validation is performed", not as an error.
func (r *Registry) Describe(operation string) (*OperationSchema, bool) {
	s, ok := r.ops[operation]
	return s, ok
}

// Operations returns all operation names in catalog declaration order.
func (r *Registry) Operations() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
