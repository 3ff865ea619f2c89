// Package estimate orchestrates one cost-estimate request: fan-out fetches to
// the benefits, accumulators, and rate sources, per-provider benefit matching
// and chain runs, and assembly of the final response.
package estimate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/benefitworks/costimator/internal/engine"
	"github.com/benefitworks/costimator/internal/upstream"
)

// Request is the public estimate request: one member, one service, and one or
// more candidate providers.
type Request struct {
	MembershipID       string     `json:"membershipId"`
	BenefitProductType string     `json:"benefitProductType"`
	PlanIdentifier     string     `json:"planIdentifier,omitempty"`
	Service            Service    `json:"service"`
	Providers          []Provider `json:"providers"`
}

// Validate rejects requests the orchestrator cannot act on.
func (r Request) Validate() error {
	if r.MembershipID == "" {
		return fmt.Errorf("membershipId is required")
	}
	if r.Service.Code == "" {
		return fmt.Errorf("service.code is required")
	}
	if len(r.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for i, p := range r.Providers {
		if p.ProviderID == "" {
			return fmt.Errorf("providers[%d].providerId is required", i)
		}
	}
	return nil
}

// Service identifies the medical service being priced.
type Service struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	PlaceOfService string `json:"placeOfService"`
	Description    string `json:"description,omitempty"`
}

// Provider is one candidate provider for the service.
type Provider struct {
	ProviderID      string `json:"providerId"`
	NetworkID       string `json:"networkId"`
	SpecialtyCode   string `json:"specialtyCode"`
	ProviderType    string `json:"providerType"`
	ServiceLocation string `json:"serviceLocation"`
}

// Fingerprint is the deterministic key used to correlate fan-out results for
// this provider within a request.
func (p Provider) Fingerprint() string {
	return strings.Join([]string{p.ServiceLocation, p.SpecialtyCode, p.NetworkID, p.ProviderID}, "|")
}

// SelectedBenefit is one coverage the matcher picked for a provider, already
// paired with the accumulator balances it references. Absent balances are
// invalid NullDecimals.
type SelectedBenefit struct {
	Benefit  upstream.Benefit
	Coverage upstream.Coverage

	DeductibleIndividual decimal.NullDecimal
	DeductibleFamily     decimal.NullDecimal
	OOPIndividual        decimal.NullDecimal
	OOPFamily            decimal.NullDecimal
}

// Terms translates the selected coverage and its matched balances into
// engine input.
func (s SelectedBenefit) Terms() engine.Terms {
	return engine.Terms{
		IsServiceCovered: s.Coverage.IsServiceCovered,

		HasBenefitLimit: s.Coverage.BenefitLimitation,
		LimitRemaining:  s.Coverage.BenefitLimitRemaining,

		Copay:          s.Coverage.CostShareCopay,
		CoinsurancePct: s.Coverage.CostShareCoinsurance,

		IsDeductibleBeforeCopay:         s.Coverage.IsDeductibleBeforeCopay,
		CopayCountsToDeductible:         s.Coverage.CopayCountToDeductible,
		CopayContinuesWhenDeductibleMet: s.Coverage.CopayContinueWhenDeductibleMet,
		CopayContinuesWhenOOPMet:        s.Coverage.CopayContinueWhenOOPMet,

		DeductibleIndividualRemaining: s.DeductibleIndividual,
		DeductibleFamilyRemaining:     s.DeductibleFamily,
		OOPIndividualRemaining:        s.OOPIndividual,
		OOPFamilyRemaining:            s.OOPFamily,
	}
}

// BenefitMatcher selects the benefits applicable to one provider out of the
// member's benefit response, pairing each with its accumulator balances.
// Implementations must be safe for concurrent use.
type BenefitMatcher interface {
	Match(p Provider, pcpSpecialties []string, benefits *upstream.BenefitResponse, accums *upstream.AccumulatorResponse) []SelectedBenefit
}

// Response is the assembled estimate: the echoed service plus one record per
// provider, in the request's provider order.
type Response struct {
	Service   Service          `json:"service"`
	Providers []ProviderRecord `json:"providers"`
}

// ProviderRecord is either a success record (coverage, cost, claim line,
// accumulator snapshots) or an error record; never both.
type ProviderRecord struct {
	Provider     Provider              `json:"provider"`
	Error        *ProviderError        `json:"error,omitempty"`
	Coverage     *CoverageSummary      `json:"coverage,omitempty"`
	Cost         *CostSummary          `json:"cost,omitempty"`
	ClaimLine    *ClaimLine            `json:"claimLine,omitempty"`
	Accumulators []AccumulatorSnapshot `json:"accumulators,omitempty"`
}

// ProviderError is a typed per-provider failure.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Query   string `json:"querySummary,omitempty"`
}

// CoverageSummary echoes the cost-share terms of the benefit the estimate
// was computed from.
type CoverageSummary struct {
	IsCovered      bool            `json:"isCovered"`
	Copay          decimal.Decimal `json:"copay"`
	CoinsurancePct decimal.Decimal `json:"coinsurancePct"`
	BenefitCode    string          `json:"benefitCode,omitempty"`
	BenefitTier    string          `json:"benefitTier,omitempty"`
}

// CostSummary is the negotiated rate the estimate was computed from.
type CostSummary struct {
	Amount decimal.Decimal `json:"amount"`
	Kind   string          `json:"kind"`
}

// ClaimLine is the member's share of the cost.
type ClaimLine struct {
	AmountCopay           decimal.Decimal `json:"amountCopay"`
	AmountCoinsurance     decimal.Decimal `json:"amountCoinsurance"`
	AmountResponsibility  decimal.Decimal `json:"amountResponsibility"`
	PercentResponsibility decimal.Decimal `json:"percentResponsibility"`
	AmountPayable         decimal.Decimal `json:"amountPayable"`
}

// AccumulatorSnapshot is the state of one accumulator as fetched for this
// request, before the estimated payment.
type AccumulatorSnapshot struct {
	Code      string          `json:"code"`
	Level     string          `json:"level"`
	Limit     decimal.Decimal `json:"limit"`
	Consumed  decimal.Decimal `json:"consumed"`
	Remaining decimal.Decimal `json:"remaining"`
}
