package config

import (
	"errors"
	"fmt"
	"strings"

	goccyyaml "github.com/goccy/go-yaml"
	"github.com/invopop/jsonschema"

	"github.com/macropower/fsradar/pkg/execs"
	"github.com/macropower/fsradar/pkg/expr"
	"github.com/macropower/fsradar/pkg/group"
	"github.com/macropower/fsradar/pkg/rule"
)

// Group configures one command and the paths that trigger it.
type Group struct {
	// Options control what happens when changes arrive while the command
	// is running.
	Options *Options `json:"options,omitempty" jsonschema:"title=Options"`
	// Name identifies the group in logs. Defaults to a short hash of the
	// command.
	Name string `json:"name,omitempty" jsonschema:"title=Name"`
	// Cmd is the command to run. Every `{}` is replaced with the path of
	// the changed file, relative to the base directory.
	Cmd string `json:"cmd" jsonschema:"title=Command,required,minLength=1"`
	// When is an optional CEL expression that must also accept the change.
	// It can use `path`, `file` and `kind`.
	When string `json:"when,omitempty" jsonschema:"title=When"`
	// Rules select the paths that trigger the command.
	Rules Rules `json:"rules" jsonschema:"title=Rules,required"`
	// Env sets environment variables for the command.
	Env []execs.EnvVar `json:"env,omitempty" jsonschema:"title=Environment Variables"`
	// EnvFrom selects caller environment variables for the command. When
	// set, only essential variables and the selected ones are inherited.
	EnvFrom []execs.EnvFromSource `json:"envFrom,omitempty" jsonschema:"title=Environment Variables From"`
}

// EnsureDefaults initializes unset fields to their default values.
func (g *Group) EnsureDefaults() {
	if g.Options == nil {
		g.Options = &Options{}
	}

	g.Options.EnsureDefaults()
}

// GetName returns the group name, or the default name derived from the
// command.
func (g *Group) GetName() string {
	if g.Name != "" {
		return g.Name
	}

	return execs.NewTemplate(g.Cmd).Name()
}

// Validate checks that the group can be built.
func (g *Group) Validate() error {
	if g.Cmd == "" {
		return &fieldError{keys: []any{"cmd"}, err: execs.ErrEmptyCommand}
	}

	if len(g.Rules) == 0 {
		return &fieldError{keys: []any{"rules"}, err: errors.New("at least one rule is required")}
	}

	_, err := rule.Compile(g.Rules)
	if err != nil {
		return &fieldError{keys: []any{"rules"}, err: err}
	}

	if g.When != "" {
		_, err := expr.CompileCondition(g.When)
		if err != nil {
			return &fieldError{keys: []any{"when"}, err: err}
		}
	}

	err = g.Options.Validate()
	if err != nil {
		var fieldErr *fieldError
		if errors.As(err, &fieldErr) {
			fieldErr.keys = append([]any{"options"}, fieldErr.keys...)
		}

		return err
	}

	env := g.Environment(nil)

	err = env.CompilePatterns()
	if err != nil {
		return &fieldError{keys: []any{"env"}, err: err}
	}

	return nil
}

// Build compiles the group.
func (g *Group) Build() (*group.Group, error) {
	filter, err := rule.Compile(g.Rules)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", g.GetName(), err)
	}

	out := &group.Group{
		Name:    g.GetName(),
		Filter:  filter,
		Command: g.Cmd,
		Options: g.Options.Scheduler(),
	}

	if g.When != "" {
		out.When, err = expr.CompileCondition(g.When)
		if err != nil {
			return nil, fmt.Errorf("group %q: when: %w", out.Name, err)
		}
	}

	return out, nil
}

// Environment returns the command environment built on baseEnv, which is
// usually [os.Environ].
func (g *Group) Environment(baseEnv []string) execs.Environment {
	env := execs.NewEnvironment(baseEnv)
	env.Inherit = len(g.EnvFrom) == 0

	for _, v := range g.Env {
		env.AddEnvVar(v)
	}

	env.AddEnvFrom(g.EnvFrom)

	return env
}

// Rules is a list of path rules. In YAML it can be written as a list or as
// a single multi-line string (see [rule.ParseText]).
type Rules []string

// UnmarshalYAML implements [goccyyaml.BytesUnmarshaler].
func (r *Rules) UnmarshalYAML(b []byte) error {
	var list []string

	err := goccyyaml.Unmarshal(b, &list)
	if err == nil {
		*r = list

		return nil
	}

	var text string

	err = goccyyaml.Unmarshal(b, &text)
	if err != nil {
		return fmt.Errorf("rules must be a list or a string: %w", err)
	}

	*r = rule.ParseText(text)

	return nil
}

// JSONSchema accepts either form.
func (Rules) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}, Title: "Rule List"},
			{Type: "string", Title: "Rule Text"},
		},
	}
}

// fieldError is an error for the value reached through keys, relative to
// the type that returned it.
type fieldError struct {
	err  error
	keys []any
}

func (e *fieldError) Error() string {
	parts := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		parts = append(parts, fmt.Sprint(k))
	}

	return fmt.Sprintf("%s: %v", strings.Join(parts, "."), e.err)
}

func (e *fieldError) Unwrap() error {
	return e.err
}
