package estimate

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/benefitworks/costimator/internal/upstream"
)

// Network categories used by the benefits service.
const (
	networkIn  = "InNetwork"
	networkOut = "OutOfNetwork"
)

// pcpTier is the benefit tier reserved for primary-care providers.
const pcpTier = "1"

// NetworkMatcher is the default BenefitMatcher: it keeps the benefits whose
// network category matches the provider, narrows to the PCP tier when the
// provider's specialty is on the primary-care list, and pairs every surviving
// coverage with the member's accumulator balances.
type NetworkMatcher struct{}

func (NetworkMatcher) Match(p Provider, pcpSpecialties []string, benefits *upstream.BenefitResponse, accums *upstream.AccumulatorResponse) []SelectedBenefit {
	if benefits == nil || len(benefits.ServiceInfo) == 0 {
		return nil
	}

	category := networkOut
	if p.NetworkID != "" {
		category = networkIn
	}
	isPCP := lo.Contains(pcpSpecialties, p.SpecialtyCode)

	candidates := lo.Filter(benefits.ServiceInfo[0].Benefit, func(b upstream.Benefit, _ int) bool {
		if b.NetworkCategory != "" && b.NetworkCategory != category {
			return false
		}
		if isPCP && b.Tier != "" && b.Tier != pcpTier {
			return false
		}
		return true
	})

	var selected []SelectedBenefit
	for _, b := range candidates {
		for _, cov := range b.Coverages {
			selected = append(selected, SelectedBenefit{
				Benefit:  b,
				Coverage: cov,

				DeductibleIndividual: balance(accums, upstream.AccumDeductible, upstream.LevelIndividual),
				DeductibleFamily:     balance(accums, upstream.AccumDeductible, upstream.LevelFamily),
				OOPIndividual:        balance(accums, upstream.AccumOOP, upstream.LevelIndividual),
				OOPFamily:            balance(accums, upstream.AccumOOP, upstream.LevelFamily),
			})
		}
	}
	return selected
}

// balance extracts one remaining balance, invalid when the member has no such
// accumulator.
func balance(accums *upstream.AccumulatorResponse, code, level string) decimal.NullDecimal {
	if accums == nil {
		return decimal.NullDecimal{}
	}
	a := accums.Find(code, level)
	if a == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: a.Remaining, Valid: true}
}
