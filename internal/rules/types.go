package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Severity classifies how serious a rule match is. Values are ordered:
// a higher value is strictly more severe, so threshold logic can compare
// severities directly.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the lower-case severity name.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity converts a severity name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q (valid: low, medium, high, critical)", s)
}

// UnmarshalYAML decodes a severity from its lower-case name.
func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// MarshalYAML encodes a severity as its lower-case name.
func (s Severity) MarshalYAML() (any, error) {
	return s.String(), nil
}

// MarshalJSON encodes a severity as its lower-case name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Rule is one safety rule: a pattern that, when matched, carries a penalty
// at a given severity. Rules are immutable after the set is loaded.
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Penalty     int      `yaml:"penalty" json:"penalty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// RedactionRule replaces every occurrence of a pattern with a fixed
// placeholder. Redaction rules are applied in declaration order.
type RedactionRule struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// ruleFile is the YAML shape of a rule file.
type ruleFile struct {
	Version    int             `yaml:"version"`
	Rules      []Rule          `yaml:"rules"`
	Redactions []RedactionRule `yaml:"redactions"`
}
