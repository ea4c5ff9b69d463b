package pii

import (
	"sort"
	"strings"
)

// Finding records one redacted span. Fragment holds the original text for the
// immediate response metadata only; it must never be persisted or logged.
type Finding struct {
	Kind        string `json:"kind"`
	Sensitivity string `json:"sensitivity,omitempty"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Fragment    string `json:"-"`
}

// Scanner applies an ordered PII policy to text. It is pure and
// deterministic: the same text and policy always produce the same redaction,
// and scanning already-redacted text is a no-op as long as the configured
// placeholders do not themselves match any pattern.
type Scanner struct {
	policy *Policy
}

func NewScanner(policy *Policy) *Scanner {
	if policy == nil {
		policy = &Policy{}
	}
	return &Scanner{policy: policy}
}

type claim struct {
	start, end int
	rule       *Rule
}

// Scan returns a redacted copy of text plus the findings that produced it.
// Malformed or empty input never errors: no matches means findings is empty
// and the text comes back unchanged. When two patterns match overlapping
// spans, the earlier-declared pattern wins; later matches inside an already
// claimed span are suppressed.
func (s *Scanner) Scan(text string) (string, []Finding) {
	if text == "" || len(s.policy.rules) == 0 {
		return text, nil
	}
	var claims []claim
	for i := range s.policy.rules {
		rule := &s.policy.rules[i]
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			if overlapsAny(claims, loc[0], loc[1]) {
				continue
			}
			claims = append(claims, claim{start: loc[0], end: loc[1], rule: rule})
		}
	}
	if len(claims) == 0 {
		return text, nil
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].start < claims[j].start })
	var out strings.Builder
	findings := make([]Finding, 0, len(claims))
	cursor := 0
	for _, c := range claims {
		out.WriteString(text[cursor:c.start])
		fragment := text[c.start:c.end]
		out.WriteString(redactFragment(fragment, c.rule))
		findings = append(findings, Finding{
			Kind:        c.rule.Kind,
			Sensitivity: c.rule.Sensitivity,
			Start:       c.start,
			End:         c.end,
			Fragment:    fragment,
		})
		cursor = c.end
	}
	out.WriteString(text[cursor:])
	return out.String(), findings
}

func overlapsAny(claims []claim, start, end int) bool {
	for _, c := range claims {
		if start < c.end && end > c.start {
			return true
		}
	}
	return false
}

const maskRune = '*'

func redactFragment(fragment string, rule *Rule) string {
	switch rule.Method {
	case MethodMaskPartial:
		return maskPartial(fragment, rule.KeepPrefix, rule.KeepSuffix)
	case MethodMaskMiddle:
		return maskMiddle(fragment, rule.MaskSpan)
	default:
		return "[" + strings.ToUpper(rule.Kind) + "_REDACTED]"
	}
}

// maskPartial keeps a fixed prefix and suffix visible and masks the middle.
func maskPartial(fragment string, keepPrefix, keepSuffix int) string {
	runes := []rune(fragment)
	n := len(runes)
	if keepPrefix < 0 {
		keepPrefix = 0
	}
	if keepSuffix < 0 {
		keepSuffix = 0
	}
	if keepPrefix+keepSuffix >= n {
		return strings.Repeat(string(maskRune), n)
	}
	var out strings.Builder
	out.WriteString(string(runes[:keepPrefix]))
	out.WriteString(strings.Repeat(string(maskRune), n-keepPrefix-keepSuffix))
	out.WriteString(string(runes[n-keepSuffix:]))
	return out.String()
}

// maskMiddle masks a fixed centered span and keeps the edges visible.
func maskMiddle(fragment string, span int) string {
	runes := []rune(fragment)
	n := len(runes)
	if span <= 0 {
		span = n / 2
	}
	if span >= n {
		return strings.Repeat(string(maskRune), n)
	}
	start := (n - span) / 2
	var out strings.Builder
	out.WriteString(string(runes[:start]))
	out.WriteString(strings.Repeat(string(maskRune), span))
	out.WriteString(string(runes[start+span:]))
	return out.String()
}
