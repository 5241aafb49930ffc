package sheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Condition is the predicate of a conditional-format rule.
type Condition string

const (
	CondGT       Condition = "gt"
	CondLT       Condition = "lt"
	CondGTE      Condition = "gte"
	CondLTE      Condition = "lte"
	CondEQ       Condition = "eq"
	CondContains Condition = "contains"
)

// Style is the visual treatment applied when a conditional rule matches.
type Style struct {
	Background string `json:"background,omitempty"`
	Color      string `json:"color,omitempty"`
	Bold       bool   `json:"bold,omitempty"`
}

// RuleValue is a rule scalar. Stored and posted rules carry both JSON
// numbers and strings here, so it decodes either into its string form.
type RuleValue string

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = RuleValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = RuleValue(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (v RuleValue) float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	return f, err == nil
}

// ConditionalRule maps a column-scoped predicate to a style. Rules on a
// column are evaluated in insertion order and the first match wins.
type ConditionalRule struct {
	ID          string    `json:"id"`
	ColumnIndex int       `json:"columnIndex"`
	Condition   Condition `json:"condition"`
	Value       RuleValue `json:"value"`
	Style       Style     `json:"style"`
}

// ValidationType selects what a validation rule checks.
type ValidationType string

const (
	ValidateNumber ValidationType = "number"
	ValidateText   ValidationType = "text"
	ValidateDate   ValidationType = "date"
	ValidateList   ValidationType = "list"
	ValidateEmail  ValidationType = "email"
)

// Bound is a validation min/max, with the same flexible decoding.
type Bound = RuleValue

// ValidationRule constrains the values accepted into one column. A column
// holds at most one rule; installing a second replaces the first.
type ValidationRule struct {
	ID           string         `json:"id"`
	ColumnIndex  int            `json:"columnIndex"`
	Type         ValidationType `json:"type"`
	Min          *Bound         `json:"min,omitempty"`
	Max          *Bound         `json:"max,omitempty"`
	Options      []string       `json:"options,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

func (r ValidationRule) clone() ValidationRule {
	c := r
	if r.Options != nil {
		c.Options = append([]string(nil), r.Options...)
	}
	if r.Min != nil {
		m := *r.Min
		c.Min = &m
	}
	if r.Max != nil {
		m := *r.Max
		c.Max = &m
	}
	return c
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// dateLayouts covers the formats stored grids actually contain.
var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// Validate checks a cell value against a rule. A nil return means the
// write may proceed. Empty values always pass regardless of rule type.
// The returned error carries the rule's errorMessage when one is set,
// otherwise a generated message.
func Validate(v Value, rule ValidationRule) error {
	if v.IsEmpty() {
		return nil
	}
	switch rule.Type {
	case ValidateNumber:
		n, ok := v.Numeric()
		if !ok {
			return ruleError(rule, "o valor deve ser um número")
		}
		if rule.Min != nil {
			if min, ok := rule.Min.float(); ok && n < min {
				return ruleError(rule, fmt.Sprintf("o valor deve ser no mínimo %s", *rule.Min))
			}
		}
		if rule.Max != nil {
			if max, ok := rule.Max.float(); ok && n > max {
				return ruleError(rule, fmt.Sprintf("o valor deve ser no máximo %s", *rule.Max))
			}
		}
	case ValidateDate:
		s := strings.TrimSpace(v.String())
		if !parsesAsDate(s) {
			return ruleError(rule, "o valor deve ser uma data válida")
		}
		// Bounds compare as raw strings, not calendar dates. Stored data
		// uses zero-padded ISO-like formats where the lexical order is
		// the date order; keeping the comparison stringwise keeps old
		// and new inputs agreeing on what passes.
		if rule.Min != nil && s < string(*rule.Min) {
			return ruleError(rule, fmt.Sprintf("a data deve ser a partir de %s", *rule.Min))
		}
		if rule.Max != nil && s > string(*rule.Max) {
			return ruleError(rule, fmt.Sprintf("a data deve ser até %s", *rule.Max))
		}
	case ValidateList:
		got := strings.TrimSpace(v.String())
		for _, opt := range rule.Options {
			if got == strings.TrimSpace(opt) {
				return nil
			}
		}
		return ruleError(rule, fmt.Sprintf("o valor deve ser um de: %s", strings.Join(rule.Options, ", ")))
	case ValidateEmail:
		if !emailPattern.MatchString(strings.TrimSpace(v.String())) {
			return ruleError(rule, "o valor deve ser um e-mail válido")
		}
	case ValidateText:
		// Any non-empty value is text.
	}
	return nil
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func ruleError(rule ValidationRule, generated string) error {
	if rule.ErrorMessage != "" {
		return errors.New(rule.ErrorMessage)
	}
	return errors.New(generated)
}

// ResolveStyle returns the style of the first rule on columnIndex that
// matches the value, in insertion order. Numeric cells evaluate the
// numeric conditions against the rule value parsed as a number; anything
// else falls back to case-insensitive string equality or containment.
func ResolveStyle(rules []ConditionalRule, columnIndex int, v Value) (Style, bool) {
	n, numeric := v.Numeric()
	str := strings.ToLower(strings.TrimSpace(v.String()))
	for _, rule := range rules {
		if rule.ColumnIndex != columnIndex {
			continue
		}
		if ruleMatches(rule, n, numeric, str) {
			return rule.Style, true
		}
	}
	return Style{}, false
}

func ruleMatches(rule ConditionalRule, n float64, numeric bool, str string) bool {
	if numeric {
		switch rule.Condition {
		case CondGT, CondLT, CondGTE, CondLTE, CondEQ:
			target, ok := rule.Value.float()
			if !ok {
				return false
			}
			switch rule.Condition {
			case CondGT:
				return n > target
			case CondLT:
				return n < target
			case CondGTE:
				return n >= target
			case CondLTE:
				return n <= target
			default:
				return n == target
			}
		}
	}
	target := strings.ToLower(strings.TrimSpace(string(rule.Value)))
	switch rule.Condition {
	case CondContains:
		return strings.Contains(str, target)
	case CondEQ:
		return str == target
	}
	return false
}

// StyleFor resolves the style for one grid position. The header row is
// never styled.
func (s *Sheet) StyleFor(row, col int) (Style, bool) {
	if row == 0 {
		return Style{}, false
	}
	return ResolveStyle(s.ConditionalFormats, col, s.Cell(row, col))
}
