package yaml

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaGenerator reflects Go types into JSON schemas.
type SchemaGenerator struct {
	reflector *jsonschema.Reflector
	value     any
}

// NewSchemaGenerator creates a [SchemaGenerator] for value. Properties are
// required only when tagged with `jsonschema:"required"`.
func NewSchemaGenerator(value any) *SchemaGenerator {
	return &SchemaGenerator{
		value: value,
		reflector: &jsonschema.Reflector{
			AllowAdditionalProperties:  false,
			DoNotReference:             true,
			ExpandedStruct:             true,
			RequiredFromJSONSchemaTags: true,
		},
	}
}

// Schema returns the reflected [*jsonschema.Schema].
func (g *SchemaGenerator) Schema() *jsonschema.Schema {
	s := g.reflector.Reflect(g.value)
	if s.Version == "" {
		s.Version = jsonschema.Version
	}

	return s
}

// Generate returns the schema as indented JSON.
func (g *SchemaGenerator) Generate() ([]byte, error) {
	b, err := json.MarshalIndent(g.Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return b, nil
}
