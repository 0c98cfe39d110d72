package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity is the ordinal classification attached to a rule
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// rank orders severities from least to most severe.
var rank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity parses a severity name case-insensitively
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return rank[s] >= rank[other]
}

// Definition is the configuration form of a rule
type Definition struct {
	Name         string `yaml:"name" toml:"name" json:"name"`
	Pattern      string `yaml:"pattern" toml:"pattern" json:"pattern"`
	FindingType  string `yaml:"finding_type" toml:"finding_type" json:"finding_type"`
	Severity     string `yaml:"severity" toml:"severity" json:"severity"`
	SpansContent bool   `yaml:"spans_content,omitempty" toml:"spans_content" json:"spans_content,omitempty"`
}

// Rule is a compiled detection rule
type Rule struct {
	Name         string
	Pattern      *regexp.Regexp
	FindingType  string
	Severity     Severity
	SpansContent bool
}

// RuleSet is an ordered, immutable collection of compiled rules. It is safe
// for concurrent use.
type RuleSet struct {
	rules    []Rule
	spanning []Rule
	line     []Rule
}

// New compiles defs into a RuleSet. Any invalid definition fails the whole
// set with a *ConfigError naming the rule.
func New(defs []Definition) (*RuleSet, error) {
	rs := &RuleSet{}
	seen := make(map[string]bool, len(defs))

	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, &ConfigError{Rule: fmt.Sprintf("#%d", i+1), Err: ErrMissingName}
		}
		if seen[name] {
			return nil, &ConfigError{Rule: name, Err: ErrDuplicateName}
		}
		seen[name] = true

		if def.Pattern == "" {
			return nil, &ConfigError{Rule: name, Err: ErrMissingPattern}
		}
		if strings.TrimSpace(def.FindingType) == "" {
			return nil, &ConfigError{Rule: name, Err: ErrMissingFindingType}
		}
		sev, err := ParseSeverity(def.Severity)
		if err != nil {
			return nil, &ConfigError{Rule: name, Err: err}
		}
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, &ConfigError{Rule: name, Err: fmt.Errorf("failed to compile pattern: %w", err)}
		}

		rule := Rule{
			Name:         name,
			Pattern:      re,
			FindingType:  def.FindingType,
			Severity:     sev,
			SpansContent: def.SpansContent,
		}
		rs.rules = append(rs.rules, rule)
		if rule.SpansContent {
			rs.spanning = append(rs.spanning, rule)
		} else {
			rs.line = append(rs.line, rule)
		}
	}

	return rs, nil
}

// Rules returns the rules in configured order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules in the set
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Spanning returns the content-spanning rules in configured order.
func (rs *RuleSet) Spanning() []Rule {
	return rs.spanning
}

// LineRules returns the single-line rules in configured order.
func (rs *RuleSet) LineRules() []Rule {
	return rs.line
}

// Definitions converts the set back into its configuration form
func (rs *RuleSet) Definitions() []Definition {
	defs := make([]Definition, 0, len(rs.rules))
	for _, r := range rs.rules {
		defs = append(defs, Definition{
			Name:         r.Name,
			Pattern:      r.Pattern.String(),
			FindingType:  r.FindingType,
			Severity:     string(r.Severity),
			SpansContent: r.SpansContent,
		})
	}
	return defs
}
