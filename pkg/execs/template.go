package execs

import (
	"crypto/sha1" //nolint:gosec // G505: Only used to derive short display names.
	"encoding/hex"
	"regexp"
	"strings"
)

// Placeholder is replaced by the triggering path when a [Template] is
// expanded.
const Placeholder = "{}"

// Quoted placeholders are treated as plain placeholders.
var quotedPlaceholderRe = regexp.MustCompile(`'\{\}'|"\{\}"`)

// Template is a command line containing zero or more placeholders.
type Template struct {
	raw  string
	norm string
}

// NewTemplate creates a new [Template]. The placeholder may be written as
// `{}`, `'{}'` or `"{}"`.
func NewTemplate(s string) Template {
	return Template{
		raw:  s,
		norm: quotedPlaceholderRe.ReplaceAllLiteralString(s, Placeholder),
	}
}

// Expand replaces every placeholder with param.
func (t Template) Expand(param string) string {
	return strings.ReplaceAll(t.norm, Placeholder, param)
}

// Name returns a short, stable name derived from the template text: the
// first six hex characters of its SHA-1 sum.
func (t Template) Name() string {
	sum := sha1.Sum([]byte(t.raw)) //nolint:gosec // G401: Not used for security.

	return hex.EncodeToString(sum[:])[:6]
}

// IsZero reports whether the template is empty.
func (t Template) IsZero() bool {
	return strings.TrimSpace(t.raw) == ""
}

func (t Template) String() string {
	return t.norm
}
