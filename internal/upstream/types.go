package upstream

import "github.com/shopspring/decimal"

// BenefitRequest is the wire shape POSTed to the benefits service.
type BenefitRequest struct {
	BenefitProductType string        `json:"benefitProductType"`
	MembershipID       string        `json:"membershipID"`
	PlanIdentifier     string        `json:"planIdentifier"`
	ServiceInfo        []ServiceInfo `json:"serviceInfo"`
}

type ServiceInfo struct {
	ServiceCodeInfo ServiceCodeInfo `json:"serviceCodeInfo"`
}

type ServiceCodeInfo struct {
	Code              string   `json:"code"`
	Type              string   `json:"type"`
	ProviderType      []string `json:"providerType"`
	PlaceOfService    []string `json:"placeOfService"`
	ProviderSpecialty []string `json:"providerSpecialty"`
}

// Summary returns a short description of the request for error records.
func (r BenefitRequest) Summary() string {
	code := ""
	if len(r.ServiceInfo) > 0 {
		code = r.ServiceInfo[0].ServiceCodeInfo.Code
	}
	return "benefits member=" + r.MembershipID + " service=" + code
}

// BenefitResponse is the tree returned by the benefits service:
// service -> benefits -> coverages. Unknown fields are ignored.
type BenefitResponse struct {
	ServiceInfo []ServiceBenefits `json:"serviceInfo"`
}

type ServiceBenefits struct {
	Benefit []Benefit `json:"benefit"`
}

// Benefit is one plan benefit for a service at a network/tier.
type Benefit struct {
	NetworkCategory string     `json:"networkCategoryType"`
	Tier            string     `json:"benefitTier"`
	Code            string     `json:"benefitCode"`
	Coverages       []Coverage `json:"coverages"`
}

// Coverage carries the cost-share numbers and the closed set of rule flags
// that drive handler routing in the calculation engine.
type Coverage struct {
	IsServiceCovered bool `json:"isServiceCovered"`

	CostShareCopay       decimal.Decimal `json:"costShareCopay"`
	CostShareCoinsurance decimal.Decimal `json:"costShareCoinsurance"`

	CopayAppliesOutOfPocket        bool `json:"copayAppliesOutOfPocket"`
	CoinsAppliesOutOfPocket        bool `json:"coinsAppliesOutOfPocket"`
	DeductibleAppliesOutOfPocket   bool `json:"deductibleAppliesOutOfPocket"`
	CopayCountToDeductible         bool `json:"copayCountToDeductibleIndicator"`
	CopayContinueWhenDeductibleMet bool `json:"copayContinueWhenDeductibleMetIndicator"`
	CopayContinueWhenOOPMet        bool `json:"copayContinueWhenOutOfPocketMaxMetIndicator"`
	IsDeductibleBeforeCopay        bool `json:"isDeductibleBeforeCopay"`
	BenefitLimitation              bool `json:"benefitLimitation"`

	BenefitLimitRemaining decimal.Decimal `json:"benefitLimitRemaining"`
}

// Accumulator codes and levels used by the accumulators service.
const (
	AccumDeductible = "Deductible"
	AccumOOP        = "OOP"

	LevelIndividual = "Individual"
	LevelFamily     = "Family"
)

// AccumulatorQuery identifies the member whose balances are fetched.
type AccumulatorQuery struct {
	MembershipID   string
	PlanIdentifier string
}

// Summary returns a short description of the query for error records.
func (q AccumulatorQuery) Summary() string {
	return "accumulators member=" + q.MembershipID
}

// AccumulatorResponse maps accumulator code+level to balances.
type AccumulatorResponse struct {
	Accumulators []Accumulator `json:"accumulators"`
}

// Accumulator is one running counter toward a limit. Remaining is normalized
// to max(0, limit-consumed) at decode time.
type Accumulator struct {
	Code      string          `json:"code"`
	Level     string          `json:"level"`
	Limit     decimal.Decimal `json:"limit"`
	Consumed  decimal.Decimal `json:"consumed"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Find returns the accumulator with the given code and level, or nil.
func (r *AccumulatorResponse) Find(code, level string) *Accumulator {
	for i := range r.Accumulators {
		a := &r.Accumulators[i]
		if a.Code == code && a.Level == level {
			return a
		}
	}
	return nil
}
