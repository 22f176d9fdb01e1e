package rates

import (
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// Resolve picks the rule that prices req out of rules. It performs no I/O, so
// the same rules and request always yield the same result.
//
// Candidate levels are tried in the order given, with the default level
// appended; the first level holding any eligible rule wins and the rule with
// the lowest priority inside it is applied.
func Resolve(rules []Rule, req Request) Result {
	eligible := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if eligibleFor(rule, req) {
			eligible = append(eligible, rule)
		}
	}

	for _, candidate := range withDefault(req.Candidates) {
		var best *Rule
		for i := range eligible {
			if !matchesCandidate(eligible[i], candidate) {
				continue
			}
			if best == nil || outranks(eligible[i], *best) {
				best = &eligible[i]
			}
		}
		if best != nil {
			return Result{
				Price:         price(*best, req.DefaultPrice),
				AppliedRuleID: best.ID.String(),
				Mode:          best.Mode,
				Value:         best.Value,
			}
		}
	}

	return Result{Price: req.DefaultPrice, Mode: ModeNone, Value: decimal.Zero}
}

func eligibleFor(rule Rule, req Request) bool {
	if !rule.Active || rule.CompanyID != req.CompanyID || rule.Scope != req.Scope {
		return false
	}
	if !rule.EffectiveAt(req.AsOf) {
		return false
	}
	if req.Scope == ScopeOPD {
		switch rule.VisitType {
		case "", VisitAny, req.VisitType:
		default:
			return false
		}
	}
	return true
}

func matchesCandidate(rule Rule, c Candidate) bool {
	if rule.RuleType != c.RuleType {
		return false
	}
	if c.RuleType == RuleTypeDefault {
		return true
	}
	return c.ReferenceID != "" && rule.ReferenceID == c.ReferenceID
}

func withDefault(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates)+1)
	for _, c := range candidates {
		if c.RuleType == RuleTypeDefault {
			continue
		}
		out = append(out, c)
	}
	return append(out, Candidate{RuleType: RuleTypeDefault})
}

// outranks orders rules by priority, then earlier effective start (unbounded
// first), then creation time, then id.
func outranks(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	switch {
	case a.EffectiveFrom == nil && b.EffectiveFrom != nil:
		return true
	case a.EffectiveFrom != nil && b.EffectiveFrom == nil:
		return false
	case a.EffectiveFrom != nil && b.EffectiveFrom != nil && !a.EffectiveFrom.Equal(*b.EffectiveFrom):
		return a.EffectiveFrom.Before(*b.EffectiveFrom)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

var hundred = decimal.NewFromInt(100)

func price(rule Rule, defaultPrice decimal.Decimal) decimal.Decimal {
	var p decimal.Decimal
	switch rule.Mode {
	case ModeFixedPrice:
		p = rule.Value
	case ModePercentDiscount:
		p = defaultPrice.Mul(hundred.Sub(rule.Value)).Div(hundred)
	case ModeFixedDiscount:
		p = defaultPrice.Sub(rule.Value)
	default:
		p = defaultPrice
	}
	return shared.RoundMoney(shared.NonNegative(p))
}
