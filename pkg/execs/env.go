package execs

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrCommandExecution is returned when a command could not be started.
	ErrCommandExecution = errors.New("run")

	// ErrEmptyCommand is returned when a command is empty.
	ErrEmptyCommand = errors.New("empty command")
)

// EnvFromSource represents a source for inheriting environment variables.
type EnvFromSource struct {
	// CallerRef specifies how to inherit environment variables from the caller process.
	CallerRef *CallerRef `json:"callerRef,omitempty" jsonschema:"title=Caller Reference"`
}

// CallerRef represents a reference to environment variables from the caller process.
//
// The pattern is compiled once, on first use, and is safe to share between
// goroutines.
type CallerRef struct {
	err  error
	re   *regexp.Regexp
	once sync.Once

	// Pattern is a regex pattern for matching environment variable names.
	Pattern string `json:"pattern,omitempty" jsonschema:"title=Pattern,format=regex"`
	// Name is the specific environment variable name to inherit.
	Name string `json:"name,omitempty" jsonschema:"title=Name"`
}

// EnvVar represents an environment variable definition.
type EnvVar struct {
	// ValueFrom specifies a source for the environment variable value.
	ValueFrom *EnvVarSource `json:"valueFrom,omitempty" jsonschema:"title=Value From"`
	// Name is the environment variable name.
	Name string `json:"name" jsonschema:"title=Name"`
	// Value is the environment variable value.
	Value string `json:"value,omitempty" jsonschema:"title=Value"`
}

// EnvVarSource represents a source for an environment variable value.
type EnvVarSource struct {
	// CallerRef specifies how to get the value from the caller process environment.
	CallerRef *CallerRef `json:"callerRef,omitempty" jsonschema:"title=Caller Reference"`
}

// Compile compiles the caller reference pattern, if one is set.
func (c *CallerRef) Compile() error {
	_, err := c.regexp()

	return err
}

// Matches reports whether the caller variable key is selected by Name or
// by Pattern. An invalid pattern only selects Name.
func (c *CallerRef) Matches(key string) bool {
	if c.Name != "" && c.Name == key {
		return true
	}

	re, err := c.regexp()

	return err == nil && re != nil && re.MatchString(key)
}

func (c *CallerRef) regexp() (*regexp.Regexp, error) {
	c.once.Do(func() {
		if c.Pattern == "" {
			return
		}

		c.re, c.err = regexp.Compile(c.Pattern)
		if c.err != nil {
			c.err = fmt.Errorf("compile pattern %q: %w", c.Pattern, c.err)
		}
	})

	return c.re, c.err
}

// Environment assembles the environment for commands.
//
// When Inherit is true, commands receive the complete caller environment.
// Otherwise only a small set of essential variables is kept, plus anything
// selected by EnvFrom. Env is applied last in both cases.
type Environment struct {
	baseEnv map[string]string
	// Env contains environment variable definitions.
	Env []EnvVar `json:"env,omitempty" jsonschema:"title=Environment Variables"`
	// EnvFrom contains sources for inheriting environment variables.
	EnvFrom []EnvFromSource `json:"envFrom,omitempty" jsonschema:"title=Environment Variables From"`
	// Inherit passes the whole caller environment to commands.
	Inherit bool `json:"-"`
}

// NewEnvironment creates a new [Environment].
// It accepts a base environment, which usually will be from [os.Environ].
func NewEnvironment(baseEnv []string) Environment {
	e := Environment{
		Env:     []EnvVar{},
		EnvFrom: []EnvFromSource{},
	}
	e.SetBaseEnv(baseEnv)

	return e
}

func (e *Environment) SetBaseEnv(baseEnv []string) {
	e.baseEnv = make(map[string]string)
	for _, envVar := range baseEnv {
		if key, value, ok := strings.Cut(envVar, "="); ok {
			e.baseEnv[key] = value
		}
	}
}

// AddEnvVar adds a single environment variable.
func (e *Environment) AddEnvVar(envVar EnvVar) {
	e.Env = append(e.Env, envVar)
}

// AddEnvFrom adds environment variable sources.
func (e *Environment) AddEnvFrom(envFrom []EnvFromSource) {
	e.EnvFrom = append(e.EnvFrom, envFrom...)
}

// GetEnv constructs environment variables for command execution. The result
// is sorted by variable name.
func (e *Environment) GetEnv() []string {
	envMap := make(map[string]string)

	essentialVars := []string{"PATH", "HOME", "USER", "LOGNAME", "SHELL", "TERM", "COLORTERM", "LANG"}
	for key, value := range e.baseEnv {
		if e.Inherit || slices.Contains(essentialVars, key) {
			envMap[key] = value
		}
	}

	e.applyEnvFrom(envMap)
	e.applyEnv(envMap)

	env := make([]string, 0, len(envMap))
	for key, value := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	slices.Sort(env)

	return env
}

// CompilePatterns compiles all regex patterns.
func (e *Environment) CompilePatterns() error {
	for i, envVar := range e.Env {
		if envVar.ValueFrom != nil && envVar.ValueFrom.CallerRef != nil {
			err := envVar.ValueFrom.CallerRef.Compile()
			if err != nil {
				return fmt.Errorf("env[%d]: %w", i, err)
			}
		}
	}

	for i, envFromSource := range e.EnvFrom {
		if envFromSource.CallerRef != nil {
			err := envFromSource.CallerRef.Compile()
			if err != nil {
				return fmt.Errorf("envFrom[%d]: %w", i, err)
			}
		}
	}

	return nil
}

// applyEnvFrom applies all envFrom sources to the environment map.
func (e *Environment) applyEnvFrom(envMap map[string]string) {
	for _, envFromSource := range e.EnvFrom {
		if envFromSource.CallerRef == nil {
			continue
		}

		for key, value := range e.baseEnv {
			if envFromSource.CallerRef.Matches(key) {
				envMap[key] = value
			}
		}
	}
}

// applyEnv applies environment variables from the env field.
func (e *Environment) applyEnv(envMap map[string]string) {
	for _, envVar := range e.Env {
		if envVar.Name == "" {
			continue
		}

		if envVar.Value != "" {
			envMap[envVar.Name] = envVar.Value

			continue
		}

		if envVar.ValueFrom != nil && envVar.ValueFrom.CallerRef != nil && envVar.ValueFrom.CallerRef.Name != "" {
			if value, exists := e.baseEnv[envVar.ValueFrom.CallerRef.Name]; exists {
				envMap[envVar.Name] = value
			}
		}
	}
}
