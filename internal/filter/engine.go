// Package filter evaluates user-defined rules against ingested messages.
// Evaluation is a pure function of (message, rule set): the same inputs
// always yield the same ordered action list.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mailstore/internal/model"
)

// RuleErrorKind classifies rule compilation failures.
type RuleErrorKind string

const (
	// KindInvalidRegex means a regex pattern failed to compile.
	KindInvalidRegex RuleErrorKind = "invalid_regex"

	// KindUnknownField means the rule names a field the engine cannot
	// evaluate.
	KindUnknownField RuleErrorKind = "unknown_field"
)

// RuleError reports a rule that cannot be compiled. It is returned
// synchronously when rules are loaded or inserted, never from evaluation.
type RuleError struct {
	Kind     RuleErrorKind
	RuleName string
	Err      error
}

func (e *RuleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("filter rule %q: %s", e.RuleName, e.Kind)
	}
	return fmt.Sprintf("filter rule %q: %s: %v", e.RuleName, e.Kind, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// IsRuleError reports whether err is a rule compilation failure.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// compiledRule pairs a stored rule with its precompiled regex, if any.
type compiledRule struct {
	rule model.FilterRule
	re   *regexp.Regexp
}

// Engine holds a compiled rule set for one account. Engines are immutable;
// any rule CRUD rebuilds the engine from the store.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles rules in their given order. Regex patterns are
// compiled here so evaluation can never fail; an uncompilable pattern or
// unknown field aborts with a RuleError naming the offending rule.
func NewEngine(rules []model.FilterRule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if err := Validate(r); err != nil {
			return nil, err
		}

		cr := compiledRule{rule: r}
		if r.Match == model.MatchRegex {
			pattern := r.Pattern
			if !r.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, &RuleError{Kind: KindInvalidRegex, RuleName: r.Name, Err: err}
			}
			cr.re = re
		}
		compiled = append(compiled, cr)
	}
	return &Engine{rules: compiled}, nil
}

// Validate checks a single rule without building an engine. Callers use it
// to reject bad rules at insert time.
func Validate(r model.FilterRule) error {
	switch r.Field {
	case model.FieldSubject, model.FieldFrom, model.FieldTo, model.FieldBody:
	default:
		return &RuleError{
			Kind: KindUnknownField, RuleName: r.Name,
			Err: fmt.Errorf("field %q", r.Field),
		}
	}

	if r.Match == model.MatchRegex {
		pattern := r.Pattern
		if !r.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return &RuleError{Kind: KindInvalidRegex, RuleName: r.Name, Err: err}
		}
	}
	return nil
}

// Evaluate runs every enabled rule against the message in order and
// returns the actions of all matching rules. There is no short-circuit; a
// rule contributes at most one action.
func (e *Engine) Evaluate(m *model.Message) []model.FilterAction {
	var actions []model.FilterAction
	for _, cr := range e.rules {
		if !cr.rule.Enabled {
			continue
		}
		if e.matches(cr, m) {
			actions = append(actions, cr.rule.Action)
		}
	}
	return actions
}

// matches applies the rule predicate to the selected field. The "to"
// field matches when any recipient address matches; a missing body is the
// empty string and matches accordingly.
func (e *Engine) matches(cr compiledRule, m *model.Message) bool {
	switch cr.rule.Field {
	case model.FieldTo:
		for _, to := range m.To {
			if e.matchValue(cr, to.Address) {
				return true
			}
		}
		return false
	case model.FieldFrom:
		return e.matchValue(cr, m.From.Address)
	case model.FieldSubject:
		return e.matchValue(cr, m.Subject)
	case model.FieldBody:
		return e.matchValue(cr, m.BodyText)
	}
	return false
}

// matchValue applies the comparison to a single field value.
func (e *Engine) matchValue(cr compiledRule, value string) bool {
	if cr.rule.Match == model.MatchRegex {
		return cr.re.MatchString(value)
	}

	pattern := cr.rule.Pattern
	if !cr.rule.CaseSensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}

	switch cr.rule.Match {
	case model.MatchContains:
		return strings.Contains(value, pattern)
	case model.MatchEquals:
		return value == pattern
	case model.MatchStartsWith:
		return strings.HasPrefix(value, pattern)
	case model.MatchEndsWith:
		return strings.HasSuffix(value, pattern)
	}
	return false
}
