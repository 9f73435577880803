package rules

import (
	"fmt"
	"regexp"
)

// CompiledRule pairs a Rule with its compiled matcher.
type CompiledRule struct {
	Rule    Rule
	Matcher *Matcher
}

// CompiledRedaction pairs a RedactionRule with its compiled expression.
// Redaction patterns are always regular expressions.
type CompiledRedaction struct {
	RedactionRule RedactionRule
	Re            *regexp.Regexp
}

// Set is an immutable collection of compiled safety and redaction rules.
// It is built once at construction and safe for concurrent use.
type Set struct {
	rules      []CompiledRule
	redactions []CompiledRedaction
}

// NewSet validates and compiles rules into a Set. Rule names must be unique
// and penalties positive; every pattern must compile.
func NewSet(rules []Rule, redactions []RedactionRule) (*Set, error) {
	s := &Set{
		rules:      make([]CompiledRule, 0, len(rules)),
		redactions: make([]CompiledRedaction, 0, len(redactions)),
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule with pattern %q has no name", r.Pattern)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if r.Penalty <= 0 {
			return nil, fmt.Errorf("rule %q: penalty must be positive, got %d", r.Name, r.Penalty)
		}
		if r.Severity < SeverityLow || r.Severity > SeverityCritical {
			return nil, fmt.Errorf("rule %q: invalid severity", r.Name)
		}
		m, err := Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		s.rules = append(s.rules, CompiledRule{Rule: r, Matcher: m})
	}

	for _, rd := range redactions {
		re, err := regexp.Compile(rd.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", rd.Pattern, err)
		}
		s.redactions = append(s.redactions, CompiledRedaction{RedactionRule: rd, Re: re})
	}

	return s, nil
}

// Match returns every rule whose pattern occurs in text.
func (s *Set) Match(text string) []Rule {
	var matched []Rule
	for _, cr := range s.rules {
		if cr.Matcher.Match(text) {
			matched = append(matched, cr.Rule)
		}
	}
	return matched
}

// Redact applies every redaction rule in order and reports whether any
// replacement happened.
func (s *Set) Redact(text string) (string, bool) {
	out := text
	for _, rd := range s.redactions {
		out = rd.Re.ReplaceAllString(out, rd.RedactionRule.Replacement)
	}
	return out, out != text
}

// Rules returns a copy of the rule table.
func (s *Set) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.Rule
	}
	return out
}

// Redactions returns a copy of the redaction table.
func (s *Set) Redactions() []RedactionRule {
	out := make([]RedactionRule, len(s.redactions))
	for i, rd := range s.redactions {
		out[i] = rd.RedactionRule
	}
	return out
}

// Len returns the number of safety rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}
