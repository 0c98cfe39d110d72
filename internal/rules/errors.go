package rules

import (
	"errors"
	"fmt"
)

var (
	ErrMissingName        = errors.New("rule name is empty")
	ErrDuplicateName      = errors.New("duplicate rule name")
	ErrMissingPattern     = errors.New("rule pattern is empty")
	ErrMissingFindingType = errors.New("rule finding_type is empty")
)

// ConfigError reports a rule source that is missing, malformed, or contains a
// rule that cannot be compiled. Rule is empty when the failure is not tied
// to a single rule.
type ConfigError struct {
	Source string
	Rule   string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Rule != "" && e.Source != "":
		return fmt.Sprintf("config %s: rule %s: %v", e.Source, e.Rule, e.Err)
	case e.Rule != "":
		return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
	case e.Source != "":
		return fmt.Sprintf("config %s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
