package rules

import "github.com/Veraticus/ledgerline/internal/model"

// DefaultVersion is the version stamped on the built-in rule table.
const DefaultVersion = "2024.1"

// DefaultRules returns the built-in steering rules. Patterns are matched
// against normalized text, so accents and case do not matter.
func DefaultRules() []model.SteeringRule {
	return []model.SteeringRule{
		// Selling and marketplace costs
		{
			Pattern:       `\bcomisi[oó]n(es)?\b`,
			SubfamilyCode: "602",
			Weight:        0.6,
			Description:   "Sales commissions are selling expenses",
		},
		{
			Pattern:       `\b(amazon|mercado\s*libre|fulfillment|fba|log[ií]stica)\b`,
			SubfamilyCode: "602",
			Weight:        0.7,
			Description:   "Marketplace fees and third-party logistics are selling expenses",
		},
		{
			Pattern:       `\b(flete|fletes|env[ií]os?|paqueter[ií]a)\b`,
			SubfamilyCode: "602",
			Weight:        0.5,
			Description:   "Outbound freight is a selling expense",
		},

		// Administrative costs
		{
			Pattern:       `\b(erp|software|licencias?|suscripci[oó]n(es)?)\b`,
			SubfamilyCode: "603",
			Weight:        0.5,
			Description:   "Subscriptions and licences are administrative expenses",
		},
		{
			Pattern:       `\b(honorarios|contab\w*|auditor\w*)\b`,
			SubfamilyCode: "603",
			Weight:        0.5,
			Description:   "Professional services are administrative expenses",
		},
		{
			Pattern:       `\b(renta|arrendamiento)\b`,
			SubfamilyCode: "603",
			Weight:        0.4,
			Description:   "Office rent is an administrative expense",
		},

		// Capitalizable assets
		{
			Pattern:       `\b(equipo de c[oó]mputo|laptop|servidor(es)?)\b`,
			SubfamilyCode: "156",
			Weight:        0.6,
			Description:   "Computer equipment is a fixed asset",
		},
		{
			Pattern:       `\b(mobiliario|escritorios?|sillas?)\b`,
			SubfamilyCode: "155",
			Weight:        0.5,
			Description:   "Furniture is a fixed asset",
		},
	}
}

// DefaultRuleSet returns the built-in rules stamped with DefaultVersion and
// marked active.
func DefaultRuleSet() []model.SteeringRule {
	rules := DefaultRules()
	for i := range rules {
		rules[i].Version = DefaultVersion
		rules[i].IsActive = true
	}
	return rules
}
