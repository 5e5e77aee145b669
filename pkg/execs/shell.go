package execs

import (
	"fmt"
	"slices"

	"github.com/mattn/go-shellwords"
)

// DefaultShell runs commands through an interactive login shell, so that
// the user's shell profile applies.
const DefaultShell = "/usr/bin/env bash -l -i -c"

// Shell is the argument vector used to run a command line. The command line
// is appended as the final argument.
type Shell []string

// ParseShell splits s into a [Shell] using shell quoting rules. An empty
// string yields [DefaultShell].
func ParseShell(s string) (Shell, error) {
	if s == "" {
		s = DefaultShell
	}

	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse shell %q: %w", s, err)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("shell %q: %w", s, ErrEmptyCommand)
	}

	return Shell(args), nil
}

// MustParseShell is like [ParseShell] but panics on error.
func MustParseShell(s string) Shell {
	sh, err := ParseShell(s)
	if err != nil {
		panic(err)
	}

	return sh
}

// Argv returns the full argument vector for cmdline.
func (s Shell) Argv(cmdline string) []string {
	argv := slices.Clone([]string(s))

	return append(argv, cmdline)
}
