package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SchemaError is a single schema violation.
type SchemaError struct {
	// Kind holds the violated keyword and its details. Concrete types are
	// in the jsonschema/v6/kind package.
	Kind     jsonschema.ErrorKind
	Message  string
	Location []string
}

// Keyword returns the schema keyword that was violated.
func (e *SchemaError) Keyword() string {
	if e.Kind == nil {
		return ""
	}

	return strings.Join(e.Kind.KeywordPath(), "/")
}

func (e *SchemaError) Error() string {
	return e.Message
}

// DescribeFunc returns the message for a [SchemaError]. Returning an empty
// string keeps the default message.
type DescribeFunc func(e *SchemaError) string

// ValidatorOpt configures a [Validator].
type ValidatorOpt func(v *Validator)

// WithDescriber sets a [DescribeFunc] used to word violations for a
// particular document type.
func WithDescriber(fn DescribeFunc) ValidatorOpt {
	return func(v *Validator) {
		v.describe = fn
	}
}

// Validator validates decoded YAML documents against a JSON schema, using
// [github.com/santhosh-tekuri/jsonschema/v6].
type Validator struct {
	schema   *jsonschema.Schema
	printer  *message.Printer
	describe DescribeFunc
}

// NewValidator compiles schemaData, registered under url.
func NewValidator(url string, schemaData []byte, opts ...ValidatorOpt) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()

	err = compiler.AddResource(url, doc)
	if err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v := &Validator{
		schema:  schema,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// MustNewValidator is like [NewValidator] but panics on error.
func MustNewValidator(url string, schemaData []byte, opts ...ValidatorOpt) *Validator {
	v, err := NewValidator(url, schemaData, opts...)
	if err != nil {
		panic(err)
	}

	return v
}

// Validate validates data against the schema. Violations are returned as an
// [*Error] wrapping a [*SchemaError], pointing at the most specific location
// that failed.
func (v *Validator) Validate(data any) error {
	err := v.schema.Validate(data)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	leaf := deepestCause(validationErr)
	schemaErr := &SchemaError{
		Kind:     leaf.ErrorKind,
		Location: leaf.InstanceLocation,
	}

	if v.describe != nil {
		schemaErr.Message = v.describe(schemaErr)
	}
	if schemaErr.Message == "" && leaf.ErrorKind != nil {
		schemaErr.Message = leaf.ErrorKind.LocalizedString(v.printer)
	}

	return NewError(schemaErr, WithPath(PathTo(locationKeys(leaf.InstanceLocation)...)))
}

// deepestCause returns the leaf cause with the longest instance location.
// Earlier causes win ties.
func deepestCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	var best *jsonschema.ValidationError

	for _, cause := range err.Causes {
		leaf := deepestCause(cause)
		if best == nil || len(leaf.InstanceLocation) > len(best.InstanceLocation) {
			best = leaf
		}
	}

	if best == nil {
		return err
	}

	return best
}

// locationKeys converts a JSON instance location into [PathTo] keys.
func locationKeys(location []string) []any {
	keys := make([]any, 0, len(location))

	for _, part := range location {
		if i, err := strconv.Atoi(part); err == nil && i >= 0 {
			keys = append(keys, i)

			continue
		}

		keys = append(keys, part)
	}

	return keys
}
