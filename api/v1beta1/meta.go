// Package v1beta1 contains the v1beta1 API metadata shared by fsradar
// configuration kinds.
package v1beta1

import (
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// APIVersion is the current API version for all fsradar configuration kinds.
const APIVersion = "fsradar.jacobcolvin.com/v1beta1"

// ValidAPIVersions contains all valid API versions.
var ValidAPIVersions = []string{APIVersion}

// TypeMeta contains the API version and kind metadata common to all config types.
type TypeMeta struct {
	// APIVersion specifies the API version for this configuration.
	APIVersion string `json:"apiVersion" jsonschema:"title=API Version"`
	// Kind defines the type of configuration.
	Kind string `json:"kind" jsonschema:"title=Kind"`
}

// GetAPIVersion returns the API version.
func (tm TypeMeta) GetAPIVersion() string {
	return tm.APIVersion
}

// GetKind returns the kind.
func (tm TypeMeta) GetKind() string {
	return tm.Kind
}

// Check returns an error unless the API version and kind are among the
// given valid values. Empty fields are accepted and left to defaulting.
func (tm TypeMeta) Check(kinds ...string) error {
	if tm.APIVersion != "" && !slices.Contains(ValidAPIVersions, tm.APIVersion) {
		return fmt.Errorf("unsupported apiVersion %q", tm.APIVersion)
	}

	if tm.Kind != "" && !slices.Contains(kinds, tm.Kind) {
		return fmt.Errorf("unsupported kind %q", tm.Kind)
	}

	return nil
}

// Object is the interface that all config types implement.
type Object interface {
	GetAPIVersion() string
	GetKind() string
	EnsureDefaults()
}

// ExtendSchemaWithEnums restricts the apiVersion and kind properties of a
// JSON schema to the given values. It panics if either property is missing.
func ExtendSchemaWithEnums(jss *jsonschema.Schema, apiVersions, kinds []string) {
	setEnum(jss, "apiVersion", apiVersions)
	setEnum(jss, "kind", kinds)
}

func setEnum(jss *jsonschema.Schema, name string, values []string) {
	prop, ok := jss.Properties.Get(name)
	if !ok {
		panic(name + " property not found in schema")
	}

	prop.Enum = make([]any, 0, len(values))
	for _, v := range values {
		prop.Enum = append(prop.Enum, v)
	}

	_, _ = jss.Properties.Set(name, prop)
}
