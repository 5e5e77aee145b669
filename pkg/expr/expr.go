package expr

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/macropower/fsradar/pkg/event"
)

// ErrNotBool is returned when a condition does not evaluate to a bool.
var ErrNotBool = errors.New("expression must return bool")

// Protect CEL environment creation and compilation from concurrent access.
var celMutex sync.Mutex

// Environment provides a thread-safe wrapper around a [*cel.Env].
type Environment struct {
	env *cel.Env
}

// NewEnvironment creates a new [Environment].
func NewEnvironment(opts ...cel.EnvOption) (*Environment, error) {
	env, err := createEnvironment(opts...)
	if err != nil {
		return nil, err
	}

	return &Environment{env: env}, nil
}

// MustNewEnvironment creates a new [Environment] and panics on error.
func MustNewEnvironment(opts ...cel.EnvOption) *Environment {
	env, err := NewEnvironment(opts...)
	if err != nil {
		panic(err)
	}

	return env
}

// NewEventEnvironment creates an [Environment] declaring the event
// variables `path`, `file` and `kind`.
func NewEventEnvironment() (*Environment, error) {
	return NewEnvironment(
		cel.Variable("path", cel.StringType),
		cel.Variable("file", cel.StringType),
		cel.Variable("kind", cel.IntType),
	)
}

func createEnvironment(opts ...cel.EnvOption) (*cel.Env, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	opts = append(opts, cel.Lib(&lib{}))

	celEnv, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return celEnv, nil
}

// Compile compiles a CEL expression and returns a program.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	program, _, err := e.compile(expression)

	return program, err
}

//nolint:ireturn // Following CEL's function signature.
func (e *Environment) compile(expression string) (cel.Program, *cel.Type, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, nil, fmt.Errorf("compile expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, nil, fmt.Errorf("create program: %w", err)
	}

	return program, ast.OutputType(), nil
}

// Condition is a compiled boolean expression over an [event.Event].
type Condition struct {
	program    cel.Program
	expression string
}

var (
	eventEnv     *Environment
	eventEnvErr  error
	eventEnvOnce sync.Once
)

// CompileCondition compiles expression in the event environment (see
// [NewEventEnvironment]). The expression must return a bool.
func CompileCondition(expression string) (*Condition, error) {
	eventEnvOnce.Do(func() {
		eventEnv, eventEnvErr = NewEventEnvironment()
	})

	if eventEnvErr != nil {
		return nil, eventEnvErr
	}

	program, out, err := eventEnv.compile(expression)
	if err != nil {
		return nil, err
	}

	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w, got %s", ErrNotBool, out)
	}

	return &Condition{program: program, expression: expression}, nil
}

// Match evaluates the condition for ev. Evaluation errors and non-bool
// results are logged and count as no match.
func (c *Condition) Match(ev event.Event) bool {
	result, _, err := c.program.Eval(map[string]any{
		"path": ev.Rel,
		"file": ev.Path,
		"kind": int64(ev.Kind),
	})
	if err != nil {
		slog.Debug("evaluate condition",
			slog.String("expression", c.expression),
			slog.String("path", ev.Rel),
			slog.Any("err", err),
		)

		return false
	}

	b, ok := result.Value().(bool)
	if !ok {
		slog.Debug("condition did not return bool",
			slog.String("expression", c.expression),
			slog.String("path", ev.Rel),
		)

		return false
	}

	return b
}

func (c *Condition) String() string {
	return c.expression
}
