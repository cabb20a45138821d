// Package redact filters model responses before they reach the caller:
// personal data is masked and verbatim system-prompt leakage is detected
// and scrubbed.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// piiRule pairs a detection pattern with its replacement token. Rules are
// applied in a fixed order so earlier redactions can shadow later matches,
// keeping the output deterministic.
type piiRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

var piiRules = []piiRule{
	{"email", regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w{2,}\b`), "[EMAIL_REDACTED]"},
	{"phone", regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE_REDACTED]"},
	{"ssn", regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`), "[SSN_REDACTED]"},
	{"credit_card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[CREDIT_CARD_REDACTED]"},
}

// leakIndicators are phrases a model emits when reciting its own
// instructions. Matching is case-insensitive.
var leakIndicators = []string{
	"my instructions are",
	"my system prompt",
	"i was configured to",
	"my rules include",
	"critical security",
}

// leakWarning is the single warning emitted for any prompt leakage,
// regardless of how many indicators or fragments matched.
const leakWarning = "Potential prompt leak detected"

// minFragmentRunes is the shortest system-prompt fragment worth matching
// against a response. Shorter fragments collide with ordinary prose.
const minFragmentRunes = 24

// Redactor screens one system prompt's worth of responses. Safe for
// concurrent use; all state is immutable after construction.
type Redactor struct {
	fragments []*regexp.Regexp
}

// New creates a Redactor bound to the given system prompt. The prompt is
// split into sentence-sized fragments; any fragment long enough to be
// unambiguous is compiled into a case-insensitive matcher.
func New(systemPrompt string) *Redactor {
	r := &Redactor{}
	for _, frag := range splitFragments(systemPrompt) {
		if len([]rune(frag)) < minFragmentRunes {
			continue
		}
		r.fragments = append(r.fragments, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(frag)))
	}
	return r
}

// Filter redacts PII and system-prompt fragments from response and returns
// the cleaned text with a warning per finding. An empty warning slice means
// the response passed untouched.
func (r *Redactor) Filter(response string) (string, []string) {
	var warnings []string
	filtered := response

	for _, rule := range piiRules {
		if rule.pattern.MatchString(filtered) {
			filtered = rule.pattern.ReplaceAllString(filtered, rule.replacement)
			warnings = append(warnings, fmt.Sprintf("Redacted %s", rule.name))
		}
	}

	leaked := false
	for _, frag := range r.fragments {
		if frag.MatchString(filtered) {
			filtered = frag.ReplaceAllString(filtered, "[REDACTED]")
			leaked = true
		}
	}
	if !leaked {
		lower := strings.ToLower(response)
		for _, indicator := range leakIndicators {
			if strings.Contains(lower, indicator) {
				leaked = true
				break
			}
		}
	}
	if leaked {
		warnings = append(warnings, leakWarning)
	}

	return filtered, warnings
}

// splitFragments breaks text on sentence and line boundaries.
func splitFragments(text string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
