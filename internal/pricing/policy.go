// Package pricing derives sell prices from buy prices, aggregates option
// totals, and debounces recompute work for rapid edits.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Policy derives a sell rate from a buy rate and a margin percentage. Margin
// conventions vary (markup vs. margin-on-cost vs. margin-on-sell), so the
// formula is a pluggable policy, not a fixed rule.
type Policy func(buyRate, marginPct decimal.Decimal) decimal.Decimal

// Registry holds a named collection of sell policies for lookup and
// enumeration.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry creates a Registry pre-populated with the built-in policies
// "margin_on_sell" and "markup".
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	r.Register("margin_on_sell", MarginOnSell)
	r.Register("markup", Markup)
	return r
}

// Register adds a policy under the given name, replacing any existing one.
func (r *Registry) Register(name string, p Policy) {
	r.policies[name] = p
}

// Get retrieves a policy by name. The second return value indicates whether
// the policy was found.
func (r *Registry) Get(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// List returns a sorted slice of all registered policy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var hundred = decimal.NewFromInt(100)

// MarginOnSell computes sell = buy / (1 - margin/100), so that the margin is
// the stated percentage of the sell price. Margins at or above 100% would
// divide by zero or flip sign; the buy rate is returned unchanged for those.
func MarginOnSell(buyRate, marginPct decimal.Decimal) decimal.Decimal {
	denom := decimal.NewFromInt(1).Sub(marginPct.Div(hundred))
	if !denom.IsPositive() {
		return buyRate
	}
	return buyRate.Div(denom)
}

// Markup computes sell = buy × (1 + margin/100), the margin-on-cost
// convention.
func Markup(buyRate, marginPct decimal.Decimal) decimal.Decimal {
	return buyRate.Mul(decimal.NewFromInt(1).Add(marginPct.Div(hundred)))
}
