package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/macropower/fsradar/pkg/yaml"
)

// SchemaURL identifies the configuration schema.
const SchemaURL = "/config.v1beta1.json"

var schemaOnce = sync.OnceValues(func() ([]byte, error) {
	return yaml.NewSchemaGenerator(&Config{}).Generate()
})

// Schema returns the JSON schema for [Config].
func Schema() ([]byte, error) {
	b, err := schemaOnce()
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}

	return b, nil
}

var validatorOnce = sync.OnceValues(func() (*yaml.Validator, error) {
	b, err := Schema()
	if err != nil {
		return nil, err
	}

	return yaml.NewValidator(SchemaURL, b, yaml.WithDescriber(describeSchemaError))
})

// DefaultValidator returns the [Validator] for the configuration schema.
func DefaultValidator() (*yaml.Validator, error) {
	return validatorOnce()
}

// describeSchemaError words schema violations the way [Config.Validate]
// does, so both read the same regardless of which one caught the problem.
func describeSchemaError(e *yaml.SchemaError) string {
	switch k := e.Kind.(type) {
	case *kind.AdditionalProperties:
		return "unknown " + plural("field", len(k.Properties)) + " " + quoteAll(k.Properties)

	case *kind.Required:
		return "missing required " + plural("field", len(k.Missing)) + " " + quoteAll(k.Missing)

	case *kind.Enum:
		if len(e.Location) == 1 {
			return fmt.Sprintf("unsupported %s %v", e.Location[0], k.Got)
		}

	case *kind.MinItems:
		if len(e.Location) == 1 && e.Location[0] == "groups" {
			return "at least one group is required"
		}
	}

	return ""
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}

	return word + "s"
}

func quoteAll(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, fmt.Sprintf("%q", v))
	}

	return strings.Join(quoted, ", ")
}
