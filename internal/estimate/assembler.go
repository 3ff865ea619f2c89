package estimate

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// assemble composes the final response from the per-provider outcomes. It is
// a pure function: request order is preserved and nil outcomes (providers
// with no applicable benefit) are dropped.
func assemble(req Request, outcomes []*outcome) *Response {
	kept := lo.Filter(outcomes, func(o *outcome, _ int) bool { return o != nil })

	return &Response{
		Service: req.Service,
		Providers: lo.Map(kept, func(o *outcome, _ int) ProviderRecord {
			if o.err != nil {
				return ProviderRecord{
					Provider: o.provider,
					Error: &ProviderError{
						Code:    string(o.err.Kind),
						Message: o.err.Message,
						Query:   o.err.Query,
					},
				}
			}
			return successRecord(o)
		}),
	}
}

func successRecord(o *outcome) ProviderRecord {
	cost := o.result.InitialServiceAmount()
	memberPays := o.result.MemberPays

	percent := decimal.Zero
	if cost.Sign() > 0 {
		percent = memberPays.Div(cost).Mul(hundred).RoundBank(2)
	}

	return ProviderRecord{
		Provider: o.provider,
		Coverage: &CoverageSummary{
			IsCovered:      o.selected.Coverage.IsServiceCovered,
			Copay:          o.selected.Coverage.CostShareCopay,
			CoinsurancePct: o.selected.Coverage.CostShareCoinsurance,
			BenefitCode:    o.selected.Benefit.Code,
			BenefitTier:    o.selected.Benefit.Tier,
		},
		Cost: &CostSummary{
			Amount: o.rate.Amount,
			Kind:   string(o.rate.Kind),
		},
		ClaimLine: &ClaimLine{
			AmountCopay:           o.result.AmountCopay,
			AmountCoinsurance:     o.result.AmountCoinsurance,
			AmountResponsibility:  memberPays,
			PercentResponsibility: percent,
			AmountPayable:         cost.Sub(memberPays),
		},
		Accumulators: o.snapshots,
	}
}
