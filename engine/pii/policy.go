package pii

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// RedactionMethod selects how a matched fragment is rewritten. The method
// comes from the matched pattern's configuration, never from code.
type RedactionMethod string

const (
	MethodMaskAll     RedactionMethod = "mask_all"
	MethodMaskPartial RedactionMethod = "mask_partial"
	MethodMaskMiddle  RedactionMethod = "mask_middle"
)

// Rule is one ordered entry of the PII policy catalog. The scanner is blind
// to pattern semantics; it only applies them in declaration order.
type Rule struct {
	Kind        string          `yaml:"kind"        json:"kind"`
	Pattern     string          `yaml:"pattern"     json:"pattern"`
	Sensitivity string          `yaml:"sensitivity" json:"sensitivity"`
	Method      RedactionMethod `yaml:"method"      json:"method"`
	// KeepPrefix/KeepSuffix apply to mask_partial: the number of leading and
	// trailing runes left visible.
	KeepPrefix int `yaml:"keep_prefix" json:"keep_prefix"`
	KeepSuffix int `yaml:"keep_suffix" json:"keep_suffix"`
	// MaskSpan applies to mask_middle: the number of center runes masked.
	// Zero masks half the fragment.
	MaskSpan int `yaml:"mask_span" json:"mask_span"`

	re *regexp.Regexp
}

// Policy is an immutable, ordered pattern list compiled once at load time.
type Policy struct {
	rules []Rule
}

// NewPolicy compiles the given rules, preserving declaration order. Invalid
// patterns are a configuration error, surfaced at construction rather than at
// scan time.
func NewPolicy(rules []Rule) (*Policy, error) {
	compiled := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		if strings.TrimSpace(rule.Kind) == "" {
			return nil, fmt.Errorf("pii: rule at index %d is missing a kind", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pii: rule %q has an invalid pattern: %w", rule.Kind, err)
		}
		if rule.Method == "" {
			rule.Method = MethodMaskAll
		}
		switch rule.Method {
		case MethodMaskAll, MethodMaskPartial, MethodMaskMiddle:
		default:
			return nil, fmt.Errorf("pii: rule %q has unknown redaction method %q", rule.Kind, rule.Method)
		}
		rule.re = re
		compiled = append(compiled, rule)
	}
	return &Policy{rules: compiled}, nil
}

// Rules returns the ordered rule list.
func (p *Policy) Rules() []Rule {
	return p.rules
}

type policyFile struct {
	PIITypes []Rule `yaml:"pii_types"`
}

// LoadPolicy reads an ordered PII policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pii: read policy: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("pii: parse policy: %w", err)
	}
	return NewPolicy(file.PIITypes)
}
