package yaml_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/fsradar/pkg/yaml"
)

const groupsSchema = `{
	"type": "object",
	"properties": {
		"baseDirectory": {"type": "string"},
		"groups": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"cmd": {"type": "string", "minLength": 1},
					"rules": {"type": "array", "items": {"type": "string"}},
					"options": {
						"type": "object",
						"properties": {
							"timeoutSeconds": {"type": "integer"}
						},
						"additionalProperties": false
					}
				},
				"required": ["cmd"]
			}
		}
	},
	"required": ["groups"]
}`

func TestNewValidator(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		errMsg     string
		schemaData []byte
		wantErr    bool
	}{
		"valid schema": {
			schemaData: []byte(groupsSchema),
		},
		"invalid json": {
			schemaData: []byte(`{"invalid": json}`),
			wantErr:    true,
			errMsg:     "unmarshal schema",
		},
		"invalid schema": {
			schemaData: []byte(`{"type": "invalid_type"}`),
			wantErr:    true,
			errMsg:     "compile schema",
		},
		"empty schema": {
			schemaData: []byte(`{}`),
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			validator, err := yaml.NewValidator("test", tc.schemaData)

			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
				assert.Nil(t, validator)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, validator)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	validator := yaml.MustNewValidator("test", []byte(groupsSchema))

	tcs := map[string]struct {
		data        any
		wantPath    string
		wantKeyword string
		wantErr     bool
	}{
		"valid": {
			data: map[string]any{
				"groups": []any{
					map[string]any{"cmd": "make", "rules": []any{"*.go"}},
				},
			},
		},
		"missing groups": {
			data:     map[string]any{"baseDirectory": "."},
			wantErr:     true,
			wantPath:    "$",
			wantKeyword: "required",
		},
		"wrong type at root": {
			data:     map[string]any{"baseDirectory": 1, "groups": []any{map[string]any{"cmd": "x"}}},
			wantErr:     true,
			wantPath:    "$.baseDirectory",
			wantKeyword: "type",
		},
		"empty command": {
			data: map[string]any{
				"groups": []any{map[string]any{"cmd": ""}},
			},
			wantErr:     true,
			wantPath:    "$.groups[0].cmd",
			wantKeyword: "minLength",
		},
		"missing command in second group": {
			data: map[string]any{
				"groups": []any{
					map[string]any{"cmd": "make"},
					map[string]any{"name": "docs"},
				},
			},
			wantErr:     true,
			wantPath:    "$.groups[1]",
			wantKeyword: "required",
		},
		"invalid rule": {
			data: map[string]any{
				"groups": []any{
					map[string]any{"cmd": "make", "rules": []any{"*.go", 42}},
				},
			},
			wantErr:     true,
			wantPath:    "$.groups[0].rules[1]",
			wantKeyword: "type",
		},
		"unknown option": {
			data: map[string]any{
				"groups": []any{
					map[string]any{"cmd": "make", "options": map[string]any{"timeout": 3}},
				},
			},
			wantErr:     true,
			wantPath:    "$.groups[0].options",
			wantKeyword: "additionalProperties",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := validator.Validate(tc.data)
			if !tc.wantErr {
				require.NoError(t, err)

				return
			}

			var yamlErr *yaml.Error
			require.ErrorAs(t, err, &yamlErr)
			require.NotNil(t, yamlErr.Path)
			assert.Equal(t, tc.wantPath, yamlErr.Path.String())

			var schemaErr *yaml.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tc.wantKeyword, schemaErr.Keyword())
			assert.NotEmpty(t, schemaErr.Error())
		})
	}
}

func TestValidatorDescriber(t *testing.T) {
	t.Parallel()

	validator := yaml.MustNewValidator("test", []byte(groupsSchema),
		yaml.WithDescriber(func(e *yaml.SchemaError) string {
			if e.Keyword() == "required" {
				return "needs " + strings.Join(e.Location, ".")
			}

			return ""
		}),
	)

	err := validator.Validate(map[string]any{"groups": []any{map[string]any{"name": "docs"}}})

	var schemaErr *yaml.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "needs groups.0", schemaErr.Error())
	assert.Equal(t, []string{"groups", "0"}, schemaErr.Location)

	err = validator.Validate(map[string]any{"groups": []any{}})
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "minItems", schemaErr.Keyword())
	assert.Contains(t, schemaErr.Error(), "minItems")
}

func TestPathTo(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		want string
		keys []any
	}{
		"root":     {want: "$"},
		"key":      {keys: []any{"backend"}, want: "$.backend"},
		"index":    {keys: []any{"groups", 2, "options"}, want: "$.groups[2].options"},
		"negative": {keys: []any{"groups", -1}, want: "$.groups[0]"},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, yaml.PathTo(tc.keys...).String())
		})
	}
}
