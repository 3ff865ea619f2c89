// Package engine implements the deterministic cost-calculation engine: a
// chain of handlers that consumes one negotiated rate plus one benefit
// (already matched to accumulator balances) and computes what the member
// pays.
//
// All currency math is decimal with two fractional digits. Coinsurance is
// rounded half-to-even; every other operation is exact. Remaining balances
// are clamped at zero after every decrement, and no payment ever exceeds the
// service amount still outstanding.
package engine

import "github.com/shopspring/decimal"

// Terms is the per-benefit input to a calculation: cost-share numbers, rule
// flags, and the matched accumulator balances. Absent accumulators are
// expressed as invalid NullDecimals.
type Terms struct {
	IsServiceCovered bool

	HasBenefitLimit bool
	LimitRemaining  decimal.Decimal

	Copay          decimal.Decimal
	CoinsurancePct decimal.Decimal

	IsDeductibleBeforeCopay         bool
	CopayCountsToDeductible         bool
	CopayContinuesWhenDeductibleMet bool
	CopayContinuesWhenOOPMet        bool

	DeductibleIndividualRemaining decimal.NullDecimal
	DeductibleFamilyRemaining     decimal.NullDecimal
	OOPIndividualRemaining        decimal.NullDecimal
	OOPFamilyRemaining            decimal.NullDecimal
}

// Context is the mutable scratchpad that flows through the handler chain.
// One Context is created per selected benefit per provider, consumed by
// exactly one chain run, then read-only.
type Context struct {
	ServiceAmount        decimal.Decimal
	serviceAmountInitial decimal.Decimal

	IsServiceCovered bool

	HasBenefitLimit bool
	LimitRemaining  decimal.Decimal

	Copay          decimal.Decimal
	CoinsurancePct decimal.Decimal

	DeductibleIndividualRemaining decimal.NullDecimal
	DeductibleFamilyRemaining     decimal.NullDecimal
	OOPIndividualRemaining        decimal.NullDecimal
	OOPFamilyRemaining            decimal.NullDecimal

	IsDeductibleBeforeCopay         bool
	CopayCountsToDeductible         bool
	CopayContinuesWhenDeductibleMet bool
	CopayContinuesWhenOOPMet        bool

	MemberPays        decimal.Decimal
	AmountCopay       decimal.Decimal
	AmountCoinsurance decimal.Decimal
	DeductiblePaid    decimal.Decimal

	CalculationComplete bool
	Trace               []string
}

// NewContext builds a fresh Context from benefit terms and the negotiated
// service amount.
func NewContext(t Terms, serviceAmount decimal.Decimal) *Context {
	return &Context{
		ServiceAmount:        serviceAmount,
		serviceAmountInitial: serviceAmount,

		IsServiceCovered: t.IsServiceCovered,
		HasBenefitLimit:  t.HasBenefitLimit,
		LimitRemaining:   t.LimitRemaining,
		Copay:            t.Copay,
		CoinsurancePct:   t.CoinsurancePct,

		DeductibleIndividualRemaining: t.DeductibleIndividualRemaining,
		DeductibleFamilyRemaining:     t.DeductibleFamilyRemaining,
		OOPIndividualRemaining:        t.OOPIndividualRemaining,
		OOPFamilyRemaining:            t.OOPFamilyRemaining,

		IsDeductibleBeforeCopay:         t.IsDeductibleBeforeCopay,
		CopayCountsToDeductible:         t.CopayCountsToDeductible,
		CopayContinuesWhenDeductibleMet: t.CopayContinuesWhenDeductibleMet,
		CopayContinuesWhenOOPMet:        t.CopayContinuesWhenOOPMet,
	}
}

// InitialServiceAmount returns the negotiated amount the context started with.
func (c *Context) InitialServiceAmount() decimal.Decimal {
	return c.serviceAmountInitial
}

// minOOPRemaining returns the smaller defined out-of-pocket balance, or an
// invalid NullDecimal when both are absent.
func (c *Context) minOOPRemaining() decimal.NullDecimal {
	return nullMin(c.OOPIndividualRemaining, c.OOPFamilyRemaining)
}

// minDeductibleRemaining returns the smaller defined deductible balance, or
// an invalid NullDecimal when both are absent.
func (c *Context) minDeductibleRemaining() decimal.NullDecimal {
	return nullMin(c.DeductibleIndividualRemaining, c.DeductibleFamilyRemaining)
}

// nullMin is min over possibly-absent values: the defined one wins, and the
// result is invalid only when both are absent.
func nullMin(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case !a.Valid:
		return b
	case !b.Valid:
		return a
	case a.Decimal.LessThanOrEqual(b.Decimal):
		return a
	default:
		return b
	}
}

// payCopay applies p as a copay payment: member pays it, the copay owed and
// the service amount shrink, and the out-of-pocket balances are consumed.
func (c *Context) payCopay(p decimal.Decimal) {
	p = c.capPayment(p)
	c.MemberPays = c.MemberPays.Add(p)
	c.AmountCopay = c.AmountCopay.Add(p)
	c.Copay = clampZero(c.Copay.Sub(p))
	c.ServiceAmount = c.ServiceAmount.Sub(p)
	c.consumeOOP(p)
}

// payDeductible applies p toward the deductible: member pays it, both
// deductible balances and the out-of-pocket balances are consumed, and the
// service amount shrinks.
func (c *Context) payDeductible(p decimal.Decimal) {
	p = c.capPayment(p)
	c.MemberPays = c.MemberPays.Add(p)
	c.DeductiblePaid = c.DeductiblePaid.Add(p)
	if c.DeductibleIndividualRemaining.Valid {
		c.DeductibleIndividualRemaining.Decimal = clampZero(c.DeductibleIndividualRemaining.Decimal.Sub(p))
	}
	if c.DeductibleFamilyRemaining.Valid {
		c.DeductibleFamilyRemaining.Decimal = clampZero(c.DeductibleFamilyRemaining.Decimal.Sub(p))
	}
	c.ServiceAmount = c.ServiceAmount.Sub(p)
	c.consumeOOP(p)
}

// payCoinsurance applies p as a coinsurance payment.
func (c *Context) payCoinsurance(p decimal.Decimal) {
	p = c.capPayment(p)
	c.MemberPays = c.MemberPays.Add(p)
	c.AmountCoinsurance = c.AmountCoinsurance.Add(p)
	c.ServiceAmount = c.ServiceAmount.Sub(p)
	c.consumeOOP(p)
}

// payUncovered charges the whole remaining service amount to the member
// without touching cost-share buckets or accumulators.
func (c *Context) payUncovered() {
	c.MemberPays = c.MemberPays.Add(c.ServiceAmount)
	c.ServiceAmount = decimal.Zero
}

// capPayment bounds an intended payment to [0, service_amount].
func (c *Context) capPayment(p decimal.Decimal) decimal.Decimal {
	p = clampZero(p)
	if p.GreaterThan(c.ServiceAmount) {
		return c.ServiceAmount
	}
	return p
}

// consumeOOP decrements both defined out-of-pocket balances, clamped at zero.
func (c *Context) consumeOOP(p decimal.Decimal) {
	if c.OOPIndividualRemaining.Valid {
		c.OOPIndividualRemaining.Decimal = clampZero(c.OOPIndividualRemaining.Decimal.Sub(p))
	}
	if c.OOPFamilyRemaining.Valid {
		c.OOPFamilyRemaining.Decimal = clampZero(c.OOPFamilyRemaining.Decimal.Sub(p))
	}
}

func (c *Context) complete() {
	c.CalculationComplete = true
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func validPositive(nd decimal.NullDecimal) bool {
	return nd.Valid && nd.Decimal.Sign() > 0
}

func metOrExceeded(nd decimal.NullDecimal) bool {
	return nd.Valid && nd.Decimal.Sign() <= 0
}
