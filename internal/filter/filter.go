// Package filter scans sanitized input against categorized injection
// pattern sets.
package filter

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyonsec/aegis/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// RuleDef defines one category's pattern set from the YAML file.
type RuleDef struct {
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Patterns    []string `yaml:"patterns"`
}

// rulesFile represents the structure of rules.yaml.
type rulesFile struct {
	Rules []RuleDef `yaml:"rules"`
}

// compiledRule is a category with its pre-compiled matchers.
type compiledRule struct {
	category    types.AttackCategory
	description string
	patterns    []*regexp.Regexp
}

// Result is the outcome of filtering a single text. confidence is a coarse
// linear heuristic over matched category count, not a calibrated
// probability.
type Result struct {
	Passed            bool
	BlockedReason     string
	MatchedCategories []types.AttackCategory
	Confidence        float64
}

// Filter matches text against every category's pattern set. Matching is
// case-insensitive and stateless; a Filter is safe for concurrent use.
type Filter struct {
	rules []compiledRule
}

// New compiles the embedded rule sets. A malformed category or pattern is a
// configuration error: the caller must refuse to start rather than run with
// partial defenses.
func New() (*Filter, error) {
	var rf rulesFile
	if err := yaml.Unmarshal(rulesYAML, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rules file contains no rule sets")
	}

	f := &Filter{rules: make([]compiledRule, 0, len(rf.Rules))}
	for _, def := range rf.Rules {
		category, err := types.ParseAttackCategory(def.Category)
		if err != nil {
			return nil, err
		}
		if len(def.Patterns) == 0 {
			return nil, fmt.Errorf("category %s has no patterns", category)
		}

		cr := compiledRule{
			category:    category,
			description: def.Description,
			patterns:    make([]*regexp.Regexp, 0, len(def.Patterns)),
		}
		for _, p := range def.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q for %s: %w", p, category, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		f.rules = append(f.rules, cr)
	}

	return f, nil
}

// Filter scans text and reports matched categories in rule-set order. One
// match per category is sufficient evidence; matches within a category are
// not counted further.
func (f *Filter) Filter(text string) Result {
	var matched []types.AttackCategory

	for _, rule := range f.rules {
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				matched = append(matched, rule.category)
				break
			}
		}
	}

	if len(matched) == 0 {
		return Result{Passed: true}
	}

	names := make([]string, len(matched))
	for i, c := range matched {
		names[i] = c.String()
	}

	confidence := 0.3 * float64(len(matched))
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Result{
		Passed:            false,
		BlockedReason:     "Suspicious patterns detected: " + strings.Join(names, ", "),
		MatchedCategories: matched,
		Confidence:        confidence,
	}
}

// Categories returns the configured category order, mainly for reporting.
func (f *Filter) Categories() []types.AttackCategory {
	out := make([]types.AttackCategory, len(f.rules))
	for i, r := range f.rules {
		out[i] = r.category
	}
	return out
}
