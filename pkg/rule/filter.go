package rule

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Filter is a compiled, immutable set of rules.
//
// It is safe for concurrent use.
type Filter struct {
	include      *regexp.Regexp
	exclude      *regexp.Regexp
	forceInclude *regexp.Regexp
	rules        []string
}

// Compile compiles rules into a [Filter].
//
// Patterns for each [Sign] are de-duplicated, sorted and joined into a single
// alternation, so the resulting filter does not depend on rule order.
func Compile(rules []string) (*Filter, error) {
	sets := map[Sign][]string{}

	for _, text := range rules {
		r := Parse(text)
		sets[r.Sign] = append(sets[r.Sign], r.Pattern())
	}

	f := &Filter{rules: slices.Clone(rules)}

	var err error

	f.include, err = compileSet(sets[Include])
	if err != nil {
		return nil, fmt.Errorf("compile %s rules: %w", Include, err)
	}

	f.exclude, err = compileSet(sets[Exclude])
	if err != nil {
		return nil, fmt.Errorf("compile %s rules: %w", Exclude, err)
	}

	f.forceInclude, err = compileSet(sets[ForceInclude])
	if err != nil {
		return nil, fmt.Errorf("compile %s rules: %w", ForceInclude, err)
	}

	return f, nil
}

// MustCompile is like [Compile] but panics on error.
func MustCompile(rules []string) *Filter {
	f, err := Compile(rules)
	if err != nil {
		panic(err)
	}

	return f
}

// CompileDirFilter compiles the directory filter for a set of file rules.
// See [DeriveDirectoryRules].
func CompileDirFilter(rules []string) (*Filter, error) {
	return Compile(DeriveDirectoryRules(rules))
}

func compileSet(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil //nolint:nilnil // A nil pattern means "no rules of this sign".
	}

	slices.Sort(patterns)
	patterns = slices.Compact(patterns)

	// Patterns only anchor the end, matching always starts at the beginning.
	return regexp.Compile(`^(?:` + strings.Join(patterns, "|") + `)`)
}

// Match reports whether path is accepted by the filter.
//
// The empty path is never accepted. A filter without include rules
// accepts nothing.
func (f *Filter) Match(path string) bool {
	if path == "" || f.include == nil || !f.include.MatchString(path) {
		return false
	}

	return !f.excluded(path)
}

// Excluded reports whether path is rejected by an exclude rule that is not
// overridden by a force-include rule. Include rules are not consulted.
func (f *Filter) Excluded(path string) bool {
	if path == "" {
		return false
	}

	return f.excluded(path)
}

func (f *Filter) excluded(path string) bool {
	if f.exclude == nil || !f.exclude.MatchString(path) {
		return false
	}

	return f.forceInclude == nil || !f.forceInclude.MatchString(path)
}

// Rules returns the rules the filter was compiled from.
func (f *Filter) Rules() []string {
	return slices.Clone(f.rules)
}

// Patterns returns the combined regular expressions for each sign. Signs
// without any rules are omitted.
func (f *Filter) Patterns() map[Sign]string {
	out := map[Sign]string{}

	for sign, re := range map[Sign]*regexp.Regexp{
		Include:      f.include,
		Exclude:      f.exclude,
		ForceInclude: f.forceInclude,
	} {
		if re != nil {
			out[sign] = re.String()
		}
	}

	return out
}

func (f *Filter) String() string {
	return strings.Join(f.rules, ", ")
}
