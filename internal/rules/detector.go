// Package rules matches documents against the versioned steering rule table
// that nudges the subfamily decision.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/textnorm"
)

// RuleSource loads the active steering rules.
type RuleSource interface {
	GetActiveSteeringRules(ctx context.Context) ([]model.SteeringRule, error)
}

// compiledRule holds a compiled regex with its rule.
type compiledRule struct {
	re *regexp.Regexp
	model.SteeringRule
}

// Detector evaluates one version of the rule table. It is immutable and safe
// for concurrent use.
type Detector struct {
	version string
	rules   []compiledRule
}

// NewDetector compiles rules. All rules must belong to the same version.
func NewDetector(rules []model.SteeringRule) (*Detector, error) {
	d := &Detector{rules: make([]compiledRule, 0, len(rules))}

	for _, rule := range rules {
		if d.version == "" {
			d.version = rule.Version
		} else if rule.Version != d.version {
			return nil, fmt.Errorf("mixed steering rule versions %s and %s", d.version, rule.Version)
		}

		re, err := common.CompileInsensitive(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile steering rule %q: %w", rule.Pattern, err)
		}
		d.rules = append(d.rules, compiledRule{SteeringRule: rule, re: re})
	}

	sort.SliceStable(d.rules, func(i, j int) bool {
		return d.rules[i].Weight > d.rules[j].Weight
	})

	return d, nil
}

// Load builds a detector from the active rules in source.
func Load(ctx context.Context, source RuleSource) (*Detector, error) {
	active, err := source.GetActiveSteeringRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load steering rules: %w", err)
	}
	return NewDetector(active)
}

// Version returns the rule table version, empty when there are no rules.
func (d *Detector) Version() string {
	return d.version
}

// Len returns the number of rules.
func (d *Detector) Len() int {
	return len(d.rules)
}

// Match returns one hint per subfamily whose rules match the document,
// keeping the heaviest matching rule. Hints are ordered by weight, then
// subfamily code.
func (d *Detector) Match(doc *model.DocumentSnapshot) []model.RuleHint {
	text := SearchText(doc)
	if text == "" {
		return nil
	}

	best := make(map[string]model.RuleHint)
	for _, rule := range d.rules {
		if !rule.re.MatchString(text) {
			continue
		}
		if current, ok := best[rule.SubfamilyCode]; ok && current.Weight >= rule.Weight {
			continue
		}
		best[rule.SubfamilyCode] = model.RuleHint{
			SubfamilyCode: rule.SubfamilyCode,
			Description:   rule.Description,
			Pattern:       rule.Pattern,
			Weight:        rule.Weight,
		}
	}

	hints := make([]model.RuleHint, 0, len(best))
	for _, hint := range best {
		hints = append(hints, hint)
	}
	sort.Slice(hints, func(i, j int) bool {
		if hints[i].Weight != hints[j].Weight {
			return hints[i].Weight > hints[j].Weight
		}
		return hints[i].SubfamilyCode < hints[j].SubfamilyCode
	})
	return hints
}

// SearchText is the normalized text rules are matched against.
func SearchText(doc *model.DocumentSnapshot) string {
	parts := []string{doc.Description, doc.CounterpartyName}
	return textnorm.Normalize(strings.Join(parts, " "))
}
