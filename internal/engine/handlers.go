package engine

import "github.com/shopspring/decimal"

// ID identifies a handler in the chain. The set is closed; wiring between
// handlers is declared by name and validated once at start-up.
type ID string

const (
	ServiceCoverage          ID = "service_coverage"
	BenefitLimitation        ID = "benefit_limitation"
	OOPMax                   ID = "oop_max"
	OOPMaxCopay              ID = "oop_max_copay"
	Deductible               ID = "deductible"
	CostShareCopay           ID = "cost_share_copay"
	DeductibleCostShareCopay ID = "deductible_cost_share_copay"
	DeductibleOOPMax         ID = "deductible_oop_max"
	DeductibleCopay          ID = "deductible_copay"
	DeductibleCoinsurance    ID = "deductible_coinsurance"
)

// Edge names. Each handler either completes the context or follows exactly
// one of its declared outbound edges.
const (
	edgeCovered            = "covered"
	edgeWithinLimit        = "within_limit"
	edgeCopayContinues     = "copay_continues"
	edgeApplyDeductible    = "apply_deductible"
	edgeDeductibleFirst    = "deductible_first"
	edgeCopayAndCoins      = "copay_and_coinsurance"
	edgeCostShare          = "cost_share"
	edgeOOPExhausting      = "oop_exhausting"
	edgeCoinsurance        = "coinsurance"
)

// Handler is one node of the chain. Process either completes the context and
// returns "", or returns the name of the outbound edge to follow.
type Handler interface {
	ID() ID
	Edges() []string
	Process(c *Context) string
}

// serviceCoverage terminates uncovered services: the member owes the whole
// negotiated amount.
type serviceCoverage struct{}

func (serviceCoverage) ID() ID          { return ServiceCoverage }
func (serviceCoverage) Edges() []string { return []string{edgeCovered} }

func (serviceCoverage) Process(c *Context) string {
	if !c.IsServiceCovered {
		c.payUncovered()
		c.complete()
		return ""
	}
	return edgeCovered
}

// benefitLimitation terminates benefits whose annual limitation is exhausted:
// past the limit the plan pays nothing.
type benefitLimitation struct{}

func (benefitLimitation) ID() ID          { return BenefitLimitation }
func (benefitLimitation) Edges() []string { return []string{edgeWithinLimit} }

func (benefitLimitation) Process(c *Context) string {
	if c.HasBenefitLimit && c.LimitRemaining.Sign() <= 0 {
		c.payUncovered()
		c.complete()
		return ""
	}
	if c.ServiceAmount.Sign() == 0 {
		// Nothing left to allocate.
		c.complete()
		return ""
	}
	return edgeWithinLimit
}

// oopMax checks the out-of-pocket maximum up front. When it is already met
// the member owes nothing further, unless the plan says copay continues.
type oopMax struct{}

func (oopMax) ID() ID          { return OOPMax }
func (oopMax) Edges() []string { return []string{edgeCopayContinues, edgeApplyDeductible} }

func (oopMax) Process(c *Context) string {
	if metOrExceeded(c.minOOPRemaining()) {
		if c.CopayContinuesWhenOOPMet {
			return edgeCopayContinues
		}
		c.complete()
		return ""
	}
	return edgeApplyDeductible
}

// oopMaxCopay pays the copay that survives a met out-of-pocket maximum.
type oopMaxCopay struct{}

func (oopMaxCopay) ID() ID          { return OOPMaxCopay }
func (oopMaxCopay) Edges() []string { return nil }

func (oopMaxCopay) Process(c *Context) string {
	c.payCopay(decimal.Min(c.Copay, c.ServiceAmount))
	c.complete()
	return ""
}

// deductibleHandler routes by deductible state and cost-share shape. When the
// deductible applies directly (coinsurance-only benefits) it is paid here;
// copay-only benefits bypass the deductible unless the plan orders the
// deductible first.
type deductibleHandler struct{}

func (deductibleHandler) ID() ID { return Deductible }
func (deductibleHandler) Edges() []string {
	return []string{edgeDeductibleFirst, edgeCopayAndCoins, edgeCostShare, edgeOOPExhausting}
}

func (deductibleHandler) Process(c *Context) string {
	d := c.minDeductibleRemaining()
	if !validPositive(d) {
		return edgeCostShare
	}
	if c.IsDeductibleBeforeCopay {
		return edgeDeductibleFirst
	}

	hasCopay := c.Copay.Sign() > 0
	hasCoins := c.CoinsurancePct.Sign() > 0
	if hasCopay && hasCoins {
		return edgeCopayAndCoins
	}
	if hasCopay {
		// Copay-only benefit with no deductible ordering: the flat copay is
		// the member's entire cost share.
		return edgeCostShare
	}

	pay := decimal.Min(c.ServiceAmount, d.Decimal)
	if minOOP := c.minOOPRemaining(); minOOP.Valid && pay.GreaterThanOrEqual(minOOP.Decimal) {
		return edgeOOPExhausting
	}
	c.payDeductible(pay)
	if c.CopayContinuesWhenDeductibleMet || hasCoins {
		return edgeCostShare
	}
	c.complete()
	return ""
}

// costShareCopay applies the flat copay once the deductible is met or absent,
// capped so the member never pays more than the service amount and never
// crosses the out-of-pocket maximum.
type costShareCopay struct{}

func (costShareCopay) ID() ID          { return CostShareCopay }
func (costShareCopay) Edges() []string { return []string{edgeCopayContinues, edgeCoinsurance} }

func (costShareCopay) Process(c *Context) string {
	minOOP := c.minOOPRemaining()

	if c.Copay.GreaterThan(c.ServiceAmount) {
		if !minOOP.Valid || c.ServiceAmount.LessThan(minOOP.Decimal) {
			c.payCopay(c.ServiceAmount)
			c.complete()
			return ""
		}
		// Paying the service amount would cross the out-of-pocket maximum.
		c.payCopay(minOOP.Decimal)
		if c.CopayContinuesWhenOOPMet {
			return edgeCopayContinues
		}
		c.complete()
		return ""
	}

	if !minOOP.Valid || c.Copay.LessThan(minOOP.Decimal) {
		c.payCopay(c.Copay)
		return edgeCoinsurance
	}
	c.payCopay(minOOP.Decimal)
	if c.CopayContinuesWhenOOPMet {
		return edgeCopayContinues
	}
	c.complete()
	return ""
}

// deductibleCostShareCopay handles benefits carrying deductible, copay, and
// coinsurance: deductible first, copay on the remainder, coinsurance on what
// is left after that.
type deductibleCostShareCopay struct{}

func (deductibleCostShareCopay) ID() ID          { return DeductibleCostShareCopay }
func (deductibleCostShareCopay) Edges() []string { return []string{edgeCoinsurance} }

func (deductibleCostShareCopay) Process(c *Context) string {
	applyDeductiblePortion(c)
	if c.ServiceAmount.Sign() == 0 {
		c.complete()
		return ""
	}
	applyCopayPortion(c)
	if c.ServiceAmount.Sign() > 0 {
		return edgeCoinsurance
	}
	c.complete()
	return ""
}

// deductibleOOPMax handles the case where applying the deductible would
// itself exhaust the out-of-pocket maximum: the member pays up to the nearer
// boundary and both counters floor at zero.
type deductibleOOPMax struct{}

func (deductibleOOPMax) ID() ID          { return DeductibleOOPMax }
func (deductibleOOPMax) Edges() []string { return nil }

func (deductibleOOPMax) Process(c *Context) string {
	pay := c.ServiceAmount
	if d := c.minDeductibleRemaining(); d.Valid {
		pay = decimal.Min(pay, d.Decimal)
	}
	if minOOP := c.minOOPRemaining(); minOOP.Valid {
		pay = decimal.Min(pay, minOOP.Decimal)
	}
	c.payDeductible(pay)
	c.complete()
	return ""
}

// deductibleCopay applies deductible then copay, in that order, for plans
// that put the deductible ahead of the copay.
type deductibleCopay struct{}

func (deductibleCopay) ID() ID          { return DeductibleCopay }
func (deductibleCopay) Edges() []string { return []string{edgeCoinsurance} }

func (deductibleCopay) Process(c *Context) string {
	applyDeductiblePortion(c)
	if c.ServiceAmount.Sign() > 0 {
		applyCopayPortion(c)
	}
	if c.CoinsurancePct.Sign() > 0 && c.ServiceAmount.Sign() > 0 {
		return edgeCoinsurance
	}
	c.complete()
	return ""
}

// deductibleCoinsurance computes the coinsurance on the remaining service
// amount, rounded half-to-even at two decimals, capped by the out-of-pocket
// maximum and the service amount.
type deductibleCoinsurance struct{}

func (deductibleCoinsurance) ID() ID          { return DeductibleCoinsurance }
func (deductibleCoinsurance) Edges() []string { return nil }

func (deductibleCoinsurance) Process(c *Context) string {
	coins := c.ServiceAmount.Mul(c.CoinsurancePct).Div(decimal.NewFromInt(100)).RoundBank(2)
	if minOOP := c.minOOPRemaining(); minOOP.Valid {
		coins = decimal.Min(coins, minOOP.Decimal)
	}
	coins = decimal.Min(coins, c.ServiceAmount)
	c.payCoinsurance(coins)
	c.complete()
	return ""
}

// applyDeductiblePortion pays down the outstanding deductible, capped by the
// service amount and the out-of-pocket maximum.
func applyDeductiblePortion(c *Context) {
	d := c.minDeductibleRemaining()
	if !validPositive(d) {
		return
	}
	pay := decimal.Min(c.ServiceAmount, d.Decimal)
	if minOOP := c.minOOPRemaining(); minOOP.Valid {
		pay = decimal.Min(pay, minOOP.Decimal)
	}
	c.payDeductible(pay)
}

// applyCopayPortion pays the copay on whatever service amount remains,
// honoring the out-of-pocket maximum and the copay-continues override.
func applyCopayPortion(c *Context) {
	if c.Copay.Sign() <= 0 || c.ServiceAmount.Sign() <= 0 {
		return
	}
	minOOP := c.minOOPRemaining()
	if metOrExceeded(minOOP) {
		if c.CopayContinuesWhenOOPMet {
			c.payCopay(decimal.Min(c.Copay, c.ServiceAmount))
		}
		return
	}
	pay := decimal.Min(c.Copay, c.ServiceAmount)
	if minOOP.Valid {
		pay = decimal.Min(pay, minOOP.Decimal)
	}
	c.payCopay(pay)
}
