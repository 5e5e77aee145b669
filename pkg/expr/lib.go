package expr

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/macropower/fsradar/pkg/event"
	"github.com/macropower/fsradar/pkg/rule"
)

var kindNames = map[event.Kind]string{
	event.FileMatch: "match",
	event.FileGone:  "gone",
}

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Math(),
		ext.Strings(),
		ext.Lists(),

		cel.Constant("fs.MATCH", types.IntType, types.Int(event.FileMatch)),
		cel.Constant("fs.GONE", types.IntType, types.Int(event.FileGone)),

		// Example: pathBase(path) in ["go.mod", "go.sum"].
		pathFunction("pathBase", filepath.Base),
		// Example: pathDir(path).startsWith("internal/").
		pathFunction("pathDir", filepath.Dir),
		// Example: pathExt(path) in [".yaml", ".yml"].
		pathFunction("pathExt", filepath.Ext),

		// `pathSegments` splits a relative path into its elements.
		// Example: "testdata" in pathSegments(path).
		cel.Function("pathSegments",
			cel.Overload("path_segments", []*cel.Type{cel.StringType}, cel.ListType(cel.StringType),
				cel.UnaryBinding(func(p ref.Val) ref.Val {
					s, ok := p.Value().(string)
					if !ok {
						return types.NewErr("pathSegments: invalid string value")
					}

					return types.DefaultTypeAdapter.NativeToValue(strings.FieldsFunc(s, func(r rune) bool {
						return r == '/'
					}))
				}),
			),
		),

		// `pathMatch` applies path rules to a path, with the same meaning as
		// a group's rules.
		// Example: pathMatch(path, ["*.go", "!*_test.go"]).
		cel.Function("pathMatch",
			cel.Overload("path_match_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(p, r ref.Val) ref.Val {
					s, ok := r.Value().(string)
					if !ok {
						return types.NewErr("pathMatch: invalid rule")
					}

					return matchRules(p, []string{s})
				}),
			),
			cel.Overload("path_match_list", []*cel.Type{cel.StringType, cel.ListType(cel.StringType)}, cel.BoolType,
				cel.BinaryBinding(func(p, r ref.Val) ref.Val {
					native, err := r.ConvertToNative(reflect.TypeFor[[]string]())
					if err != nil {
						return types.NewErr("pathMatch: invalid rules: %v", err)
					}

					rules, ok := native.([]string)
					if !ok {
						return types.NewErr("pathMatch: invalid rules")
					}

					return matchRules(p, rules)
				}),
			),
		),

		// `kindName` returns "match" or "gone" for an event kind.
		// Example: kindName(kind) == "gone".
		cel.Function("kindName",
			cel.Overload("kind_name", []*cel.Type{cel.IntType}, cel.StringType,
				cel.UnaryBinding(func(k ref.Val) ref.Val {
					i, ok := k.Value().(int64)
					if !ok {
						return types.NewErr("kindName: invalid kind")
					}

					name, ok := kindNames[event.Kind(i)]
					if !ok {
						return types.NewErr("kindName: unknown kind %d", i)
					}

					return types.String(name)
				}),
			),
		),

		// `yamlPath` returns the value at a YAML path in a file, or null if
		// the file cannot be read or the path does not resolve. Useful with
		// `file`, since the changed file is read as it is now.
		// Example: pathBase(path) == "Chart.yaml" && yamlPath(file, "$.apiVersion") == "v2".
		cel.Function("yamlPath",
			cel.Overload("yaml_path", []*cel.Type{cel.StringType, cel.StringType}, cel.DynType,
				cel.BinaryBinding(func(file, path ref.Val) ref.Val {
					f, fok := file.Value().(string)
					p, pok := path.Value().(string)
					if !fok || !pok {
						return types.NewErr("yamlPath: invalid arguments")
					}

					return readYAMLPath(f, p)
				}),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return nil
}

// pathFunction declares a unary string function backed by fn.
func pathFunction(name string, fn func(string) string) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(strings.ToLower(name), []*cel.Type{cel.StringType}, cel.StringType,
			cel.UnaryBinding(func(p ref.Val) ref.Val {
				s, ok := p.Value().(string)
				if !ok {
					return types.NewErr("%s: invalid string value", name)
				}

				return types.String(fn(s))
			}),
		),
	)
}

// Filters compiled by pathMatch, keyed by their joined rules. Expressions
// are evaluated for every event, so each rule set is compiled once.
var ruleFilters sync.Map

func matchRules(p ref.Val, rules []string) ref.Val {
	path, ok := p.Value().(string)
	if !ok {
		return types.NewErr("pathMatch: invalid path")
	}

	key := strings.Join(rules, "\n")

	f, ok := ruleFilters.Load(key)
	if !ok {
		compiled, err := rule.Compile(rules)
		if err != nil {
			return types.NewErr("pathMatch: %v", err)
		}

		f, _ = ruleFilters.LoadOrStore(key, compiled)
	}

	filter, ok := f.(*rule.Filter)
	if !ok {
		return types.NewErr("pathMatch: invalid filter")
	}

	return types.Bool(filter.Match(path))
}

//nolint:ireturn // Following CEL's function signature.
func readYAMLPath(file, pathExpr string) ref.Val {
	logger := slog.With(
		slog.String("file", file),
		slog.String("yamlPath", pathExpr),
	)

	path, err := yaml.PathString(pathExpr)
	if err != nil {
		logger.Debug("invalid yaml path", slog.Any("err", err))

		return types.NullValue
	}

	f, err := os.Open(file) //nolint:gosec // G304: Reading the changed file is the point.
	if err != nil {
		logger.Debug("open yaml file", slog.Any("err", err))

		return types.NullValue
	}
	defer f.Close() //nolint:errcheck // Read only.

	var value any

	err = path.Read(f, &value)
	if err != nil {
		logger.Debug("read yaml path", slog.Any("err", err))

		return types.NullValue
	}

	return ConvertToCELValue(value)
}

// ConvertToCELValue converts a decoded YAML value to a CEL value. Integers
// become CEL ints, except unsigned values beyond the int64 range, which
// become doubles. Unsupported types become null.
//
//nolint:ireturn // Following CEL's function signature.
func ConvertToCELValue(value any) ref.Val {
	switch v := value.(type) {
	case nil:
		return types.NullValue
	case bool:
		return types.Bool(v)
	case string:
		return types.String(v)
	case float32:
		return types.Double(float64(v))
	case float64:
		return types.Double(v)
	case int, int8, int16, int32, int64:
		return types.Int(reflect.ValueOf(v).Int())
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(v).Uint()
		if u > math.MaxInt64 {
			return types.Double(float64(u))
		}

		return types.Int(int64(u))
	case []any:
		list := make([]ref.Val, 0, len(v))
		for _, item := range v {
			list = append(list, ConvertToCELValue(item))
		}

		return types.NewDynamicList(types.DefaultTypeAdapter, list)
	case map[string]any:
		m := make(map[ref.Val]ref.Val, len(v))
		for key, val := range v {
			m[types.String(key)] = ConvertToCELValue(val)
		}

		return types.NewDynamicMap(types.DefaultTypeAdapter, m)
	case map[any]any:
		m := make(map[ref.Val]ref.Val, len(v))
		for key, val := range v {
			m[ConvertToCELValue(key)] = ConvertToCELValue(val)
		}

		return types.NewDynamicMap(types.DefaultTypeAdapter, m)
	}

	return types.NullValue
}
