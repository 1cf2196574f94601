package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

// RuleKind selects how a Rule checks a value.
type RuleKind string

const (
	RuleDigits    RuleKind = "digits"
	RuleDate      RuleKind = "date"
	RuleEnum      RuleKind = "enum"
	RulePattern   RuleKind = "pattern"
	RuleMaxLength RuleKind = "max_length"
)

// Issue messages. Tests and operators match on these exactly.
const (
	MsgMissingColumn    = "missing required column"
	MsgUnexpectedColumn = "unexpected column"
	MsgExtraFields      = "fields beyond the header ignored"
	MsgEmptyDataset     = "dataset has no data rows"
	MsgRequired         = "required value missing"
	MsgInvalidFormat    = "invalid format"
	MsgInvalidDate      = "invalid date"
	MsgNotAllowed       = "value not allowed"
	MsgExpiresSoon      = "expires soon"
	MsgExpired          = "expired"
	MsgDuplicateKey     = "duplicate natural key"
	MsgKeyExists        = "natural key already committed"
	MsgBadRule          = "invalid schema rule"
)

// Rule is one format constraint on a column.
type Rule struct {
	Kind RuleKind `mapstructure:"kind" json:"kind"`

	// digits / max_length
	Length    int `mapstructure:"length" json:"length,omitempty"`
	MinLength int `mapstructure:"min_length" json:"min_length,omitempty"`
	MaxLength int `mapstructure:"max_length" json:"max_length,omitempty"`

	// date
	Layout     string        `mapstructure:"layout" json:"layout,omitempty"`
	WarnWithin time.Duration `mapstructure:"warn_within" json:"warn_within,omitempty"`

	// enum
	Values []string `mapstructure:"values" json:"values,omitempty"`

	// pattern
	Pattern string `mapstructure:"pattern" json:"pattern,omitempty"`
}

// Column describes one expected dataset column.
type Column struct {
	Name     string `mapstructure:"name" json:"name"`
	Required bool   `mapstructure:"required" json:"required"`
	Rules    []Rule `mapstructure:"rules" json:"rules,omitempty"`
}

// Schema is the shape a dataset must have.
type Schema struct {
	Name         string   `mapstructure:"name" json:"name"`
	Columns      []Column `mapstructure:"columns" json:"columns"`
	Key          []string `mapstructure:"key" json:"key"`
	StrictUnique bool     `mapstructure:"strict_unique" json:"strict_unique"`
}

// RequiredColumns lists required column names in schema order.
func (s Schema) RequiredColumns() []string {
	return lo.FilterMap(s.Columns, func(c Column, _ int) (string, bool) {
		return c.Name, c.Required
	})
}

// Check reports configuration mistakes that would make validation meaningless.
func (s Schema) Check() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %s has no columns", s.Name)
	}
	names := lo.Map(s.Columns, func(c Column, _ int) string { return c.Name })
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return fmt.Errorf("schema %s declares column %q twice", s.Name, dup[0])
	}
	if len(s.Key) == 0 {
		return fmt.Errorf("schema %s has no natural key", s.Name)
	}
	for _, k := range s.Key {
		if !lo.Contains(names, k) {
			return fmt.Errorf("schema %s key column %q is not declared", s.Name, k)
		}
	}
	for _, c := range s.Columns {
		for _, r := range c.Rules {
			if _, err := compileRule(r); err != nil {
				return fmt.Errorf("schema %s column %s: %w", s.Name, c.Name, err)
			}
		}
	}
	return nil
}

// KeyLabel is the issue column used for natural key problems.
func (s Schema) KeyLabel() string {
	return strings.Join(s.Key, "+")
}

// NaturalKey joins the key column values of row. It returns "" when any part is blank.
func NaturalKey(row Row, key []string) string {
	parts := make([]string, 0, len(key))
	for _, k := range key {
		v := strings.TrimSpace(row[k])
		if v == "" {
			return ""
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "|")
}

// checker inspects one non-empty value. It returns a message and whether the
// message is only a warning; an empty message means the value passed.
type checker func(value string, now time.Time) (msg string, warning bool)

func compileRule(r Rule) (checker, error) {
	switch r.Kind {
	case RuleDigits:
		minLen, maxLen := bounds(r)
		if maxLen == 0 {
			return nil, fmt.Errorf("digits rule needs a length")
		}
		return func(v string, _ time.Time) (string, bool) {
			if len(v) < minLen || len(v) > maxLen || !allDigits(v) {
				return MsgInvalidFormat, false
			}
			return "", false
		}, nil
	case RuleDate:
		layout := r.Layout
		if layout == "" {
			layout = "2006-01-02"
		}
		within := r.WarnWithin
		return func(v string, now time.Time) (string, bool) {
			t, err := time.Parse(layout, v)
			if err != nil {
				return MsgInvalidDate, false
			}
			if within > 0 {
				if t.Before(now) {
					return MsgExpired, true
				}
				if t.Before(now.Add(within)) {
					return MsgExpiresSoon, true
				}
			}
			return "", false
		}, nil
	case RuleEnum:
		if len(r.Values) == 0 {
			return nil, fmt.Errorf("enum rule needs values")
		}
		allowed := lo.SliceToMap(r.Values, func(v string) (string, struct{}) { return v, struct{}{} })
		return func(v string, _ time.Time) (string, bool) {
			if _, ok := allowed[v]; !ok {
				return MsgNotAllowed, false
			}
			return "", false
		}, nil
	case RulePattern:
		re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("pattern rule: %w", err)
		}
		return func(v string, _ time.Time) (string, bool) {
			if !re.MatchString(v) {
				return MsgInvalidFormat, false
			}
			return "", false
		}, nil
	case RuleMaxLength:
		limit := r.MaxLength
		if limit == 0 {
			limit = r.Length
		}
		if limit <= 0 {
			return nil, fmt.Errorf("max_length rule needs a positive limit")
		}
		return func(v string, _ time.Time) (string, bool) {
			if utf8.RuneCountInString(v) > limit {
				return MsgInvalidFormat, false
			}
			return "", false
		}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func bounds(r Rule) (int, int) {
	if r.Length > 0 {
		return r.Length, r.Length
	}
	return r.MinLength, r.MaxLength
}

func allDigits(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
