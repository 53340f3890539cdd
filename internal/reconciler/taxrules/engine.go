package taxrules

import (
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
)

// Engine evaluates a decision table. It holds no mutable state.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over DefaultRules
func NewEngine() *Engine {
	return NewEngineWithRules(DefaultRules)
}

func NewEngineWithRules(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Decide returns the decision of the first matching rule. Refunds take the decision
// their shipment would have had, with a negative amount sign. Inputs no rule covers
// yield tax.ErrUnresolvable.
func (e *Engine) Decide(in tax.Input) (tax.Decision, error) {
	if !in.Type.IsValid() {
		return tax.Decision{}, tax.ErrUnresolvable{Input: in, Reason: "unknown transaction type"}
	}
	if !isCountryCode(in.ShipFrom) || !isCountryCode(in.ShipTo) {
		return tax.Decision{}, tax.ErrUnresolvable{Input: in, Reason: "missing ship-from or ship-to country"}
	}

	for _, rule := range e.rules {
		if !rule.Applies(in) {
			continue
		}
		d := rule.Decide(in)
		d.Regime = rule.Regime
		d.AmountSign = 1
		if in.Type == shared.TransactionTypeRefund {
			d.AmountSign = -1
		}
		return d, nil
	}

	return tax.Decision{}, tax.ErrUnresolvable{Input: in, Reason: "no decision table entry"}
}

// DecideAggregate decides the treatment of an order aggregate
func (e *Engine) DecideAggregate(agg *report.OrderAggregate) (tax.Decision, error) {
	return e.Decide(tax.InputFromAggregate(agg))
}

// Rules returns the table in evaluation order
func (e *Engine) Rules() []Rule {
	return e.rules
}
