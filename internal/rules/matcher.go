package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher answers "does this rule's pattern occur in this text,
// case-insensitively". Three pattern forms are supported:
//
//	re:\b(kill|harm)\b   compiled as a case-insensitive regexp
//	glob:*rm -rf /*      compiled with gobwas/glob against the lowered text
//	sudo                 plain case-insensitive substring
//
// All patterns compile at load time, so matching never fails at check time.
type Matcher struct {
	raw    string
	re     *regexp.Regexp
	glob   glob.Glob
	substr string
}

// Compile builds a matcher from a pattern string.
func Compile(pattern string) (*Matcher, error) {
	m := &Matcher{raw: pattern}

	switch {
	case strings.HasPrefix(pattern, "re:"):
		expr := strings.TrimPrefix(pattern, "re:")
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", pattern, err)
		}
		m.re = re
	case strings.HasPrefix(pattern, "glob:"):
		g, err := glob.Compile(strings.ToLower(strings.TrimPrefix(pattern, "glob:")))
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		m.glob = g
	default:
		if pattern == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		m.substr = strings.ToLower(pattern)
	}

	return m, nil
}

// MustCompile is Compile for patterns known valid at build time.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether the pattern occurs in text. Matching is
// case-insensitive for every pattern form.
func (m *Matcher) Match(text string) bool {
	switch {
	case m.re != nil:
		return m.re.MatchString(text)
	case m.glob != nil:
		return m.glob.Match(strings.ToLower(text))
	default:
		return strings.Contains(strings.ToLower(text), m.substr)
	}
}

// Pattern returns the original pattern string.
func (m *Matcher) Pattern() string {
	return m.raw
}
