package rule

import (
	"bufio"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Sign determines how a [Rule] contributes to a [Filter].
type Sign int

const (
	// Include rules select paths.
	Include Sign = iota
	// Exclude rules (prefixed with `!`) reject paths selected by includes.
	Exclude
	// ForceInclude rules (prefixed with `+`) override excludes.
	ForceInclude
)

func (s Sign) String() string {
	switch s {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	case ForceInclude:
		return "force-include"
	}

	return fmt.Sprintf("Sign(%d)", int(s))
}

// Prefix returns the textual prefix for the sign.
func (s Sign) Prefix() string {
	switch s {
	case Exclude:
		return "!"
	case ForceInclude:
		return "+"
	default:
		return ""
	}
}

var (
	// Matches leading `./` segments that are not part of a `../`.
	dotSlashRe = regexp.MustCompile(`([^.]|^)(\./)+`)
	// Runs of two or more stars.
	multiStarRe = regexp.MustCompile(`[*]{2,}`)
)

// Rule is a single parsed path rule.
type Rule struct {
	// Text is the rule as written, including its sign.
	Text string
	// Glob is the rule body with the sign and any trailing `/` removed.
	Glob string
	Sign Sign
	// Dir is true for rules written with a trailing `/`. They match the
	// directory itself and everything below it.
	Dir bool
	// AnyDepth is true when the rule does not start with `./` and may
	// match at any depth below the root.
	AnyDepth bool
}

// Parse parses a single rule. Parsing never fails: every string is a valid
// rule, although some (such as the empty rule) match nothing useful.
func Parse(text string) Rule {
	r := Rule{Text: text, Sign: Include}

	body := text
	switch {
	case strings.HasPrefix(body, "!"):
		r.Sign = Exclude
		body = body[1:]
	case strings.HasPrefix(body, "+"):
		r.Sign = ForceInclude
		body = body[1:]
	}

	if strings.HasSuffix(body, "/") {
		r.Dir = true
		body = body[:len(body)-1]
	}

	r.AnyDepth = !strings.HasPrefix(body, "./")
	r.Glob = dotSlashRe.ReplaceAllString(body, "${1}")

	return r
}

// Pattern returns the regular expression source for the rule. The pattern is
// meant to be matched from the start of a path.
func (r Rule) Pattern() string {
	if r.Glob == "." {
		return ".*"
	}

	var sb strings.Builder

	if r.AnyDepth {
		sb.WriteString(`(.*/)?`)
	} else {
		sb.WriteString(`^(\./)?`)
	}

	body := multiStarRe.ReplaceAllString(r.Glob, "**")
	body = regexp.QuoteMeta(body)
	body = strings.ReplaceAll(body, `\*\*`, `.*`)
	body = strings.ReplaceAll(body, `\*`, `[^/]*`)
	sb.WriteString(body)

	if r.Dir {
		sb.WriteString(`(/|$)`)
	} else {
		sb.WriteString(`$`)
	}

	return sb.String()
}

func (r Rule) String() string {
	return r.Text
}

// ParseText splits a multi-line block of rules into individual rules.
// Blank lines and lines starting with `#` are skipped, and surrounding
// whitespace is trimmed from each line.
func ParseText(s string) []string {
	var rules []string

	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rules = append(rules, line)
	}

	return rules
}

// DeriveDirectoryRules rewrites file rules into rules for the directories
// that need to be watched for those files to be seen.
//
// Directory rules and exclude rules are kept as they are. Any other rule is
// replaced by its parent directory, or by `*` if it has no parent. Empty
// rules are dropped. The result is sorted and free of duplicates.
func DeriveDirectoryRules(rules []string) []string {
	out := make([]string, 0, len(rules))

	for _, r := range rules {
		switch {
		case strings.HasSuffix(r, "/"), strings.HasPrefix(r, "!"):
			out = append(out, r)

		case r == "":
			continue

		default:
			unsigned := strings.TrimPrefix(r, "+")
			if r == "." || !strings.Contains(unsigned, "/") {
				out = append(out, "*")

				continue
			}

			out = append(out, r[:strings.LastIndex(r, "/")]+"/")
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}
