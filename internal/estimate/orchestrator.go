package estimate

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/benefitworks/costimator/internal/engine"
	"github.com/benefitworks/costimator/internal/rates"
	"github.com/benefitworks/costimator/internal/upstream"
)

// BenefitsSource fetches a member's benefits for one provider.
type BenefitsSource interface {
	Fetch(ctx context.Context, req upstream.BenefitRequest) (*upstream.BenefitResponse, error)
}

// AccumulatorsSource fetches a member's accumulator balances.
type AccumulatorsSource interface {
	Fetch(ctx context.Context, q upstream.AccumulatorQuery) (*upstream.AccumulatorResponse, error)
}

// RateSource looks up the negotiated rate for one provider and service.
type RateSource interface {
	Lookup(ctx context.Context, q rates.Query) (rates.NegotiatedRate, error)
}

// PCPSource exposes the cached primary-care specialty-code list.
type PCPSource interface {
	Codes() []string
}

// Orchestrator drives one estimate request end to end: 2N+1 concurrent
// fetches, per-provider matching and chain runs, and response assembly.
type Orchestrator struct {
	benefits BenefitsSource
	accums   AccumulatorsSource
	rates    RateSource
	pcp      PCPSource
	matcher  BenefitMatcher
	chain    *engine.Chain
	logger   *slog.Logger
}

// Deps collects the orchestrator's collaborators. Matcher defaults to the
// network matcher and Logger to slog.Default when unset.
type Deps struct {
	Benefits BenefitsSource
	Accums   AccumulatorsSource
	Rates    RateSource
	PCP      PCPSource
	Matcher  BenefitMatcher
	Chain    *engine.Chain
	Logger   *slog.Logger
}

// New builds an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Matcher == nil {
		d.Matcher = NetworkMatcher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		benefits: d.Benefits,
		accums:   d.Accums,
		rates:    d.Rates,
		pcp:      d.PCP,
		matcher:  d.Matcher,
		chain:    d.Chain,
		logger:   d.Logger,
	}
}

// outcome is one provider's intermediate result: a computed estimate, a typed
// error, or nil (no applicable benefit, dropped at assembly).
type outcome struct {
	provider Provider
	err      *upstream.Error

	rate      rates.NegotiatedRate
	selected  SelectedBenefit
	result    *engine.Context
	snapshots []AccumulatorSnapshot
}

// Estimate runs the request in multi-provider mode: per-provider failures are
// folded into the response, never returned as the request's error.
func (o *Orchestrator) Estimate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return assemble(req, o.run(ctx, req)), nil
}

// EstimateSingle runs the request in single-provider mode: the first
// provider's typed error, if any, becomes the request's error.
func (o *Orchestrator) EstimateSingle(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	outcomes := o.run(ctx, req)
	for _, out := range outcomes {
		if out != nil && out.err != nil {
			return nil, out.err
		}
	}
	return assemble(req, outcomes), nil
}

// run executes both fan-out stages and returns one outcome slot per provider,
// in request order.
func (o *Orchestrator) run(ctx context.Context, req Request) []*outcome {
	n := len(req.Providers)

	// Stage one: 2N+1 fetches. Every call settles on its own; a failure is
	// captured in its slot, never cancels the siblings.
	benefitResps := make([]*upstream.BenefitResponse, n)
	benefitErrs := make([]error, n)
	rateResps := make([]rates.NegotiatedRate, n)
	rateErrs := make([]error, n)
	var accumResp *upstream.AccumulatorResponse
	var accumErr error

	var fetches errgroup.Group
	for i, p := range req.Providers {
		fetches.Go(func() error {
			benefitResps[i], benefitErrs[i] = o.benefits.Fetch(ctx, benefitRequest(req, p))
			return nil
		})
		fetches.Go(func() error {
			rateResps[i], rateErrs[i] = o.rates.Lookup(ctx, rateQuery(req, p))
			return nil
		})
	}
	fetches.Go(func() error {
		accumResp, accumErr = o.accums.Fetch(ctx, upstream.AccumulatorQuery{
			MembershipID:   req.MembershipID,
			PlanIdentifier: req.PlanIdentifier,
		})
		return nil
	})
	_ = fetches.Wait()

	// Fan-out results are correlated back to providers by fingerprint.
	benefitsByFP := make(map[string]*upstream.BenefitResponse, n)
	benefitErrByFP := make(map[string]error, n)
	ratesByFP := make(map[string]rates.NegotiatedRate, n)
	rateErrByFP := make(map[string]error, n)
	for i, p := range req.Providers {
		fp := p.Fingerprint()
		benefitsByFP[fp] = benefitResps[i]
		benefitErrByFP[fp] = benefitErrs[i]
		ratesByFP[fp] = rateResps[i]
		rateErrByFP[fp] = rateErrs[i]
	}

	pcpCodes := []string(nil)
	if o.pcp != nil {
		pcpCodes = o.pcp.Codes()
	}

	// Stage two: per-provider calculators. Pure CPU; each provider owns its
	// outcome slot.
	outcomes := make([]*outcome, n)
	var calcs errgroup.Group
	for i, p := range req.Providers {
		calcs.Go(func() error {
			fp := p.Fingerprint()
			outcomes[i] = o.estimateProvider(p, providerInputs{
				benefits:   benefitsByFP[fp],
				benefitErr: benefitErrByFP[fp],
				rate:       ratesByFP[fp],
				rateErr:    rateErrByFP[fp],
				accums:     accumResp,
				accumErr:   accumErr,
				pcpCodes:   pcpCodes,
			})
			return nil
		})
	}
	_ = calcs.Wait()
	return outcomes
}

type providerInputs struct {
	benefits   *upstream.BenefitResponse
	benefitErr error
	rate       rates.NegotiatedRate
	rateErr    error
	accums     *upstream.AccumulatorResponse
	accumErr   error
	pcpCodes   []string
}

// estimateProvider turns one provider's fetched inputs into an outcome:
// match, run every selected benefit through the chain, keep the worst case
// for the member.
func (o *Orchestrator) estimateProvider(p Provider, in providerInputs) *outcome {
	if in.benefitErr != nil {
		return &outcome{provider: p, err: typedError(in.benefitErr, "benefits fetch failed")}
	}
	if in.accumErr != nil {
		return &outcome{provider: p, err: typedError(in.accumErr, "accumulators fetch failed")}
	}
	if in.rateErr != nil {
		o.logger.Error("rate lookup failed", "provider", p.ProviderID, "error", in.rateErr)
		return &outcome{provider: p, err: upstream.NewError(upstream.KindUpstreamUnavailable, "rate lookup failed", "rates provider="+p.ProviderID, in.rateErr)}
	}
	if !in.rate.Found || in.rate.Kind != rates.KindAmount {
		return &outcome{provider: p, err: upstream.NewError(upstream.KindRateNotFound, "no negotiated amount for provider", "rates provider="+p.ProviderID, nil)}
	}

	selected := o.matcher.Match(p, in.pcpCodes, in.benefits, in.accums)
	if len(selected) == 0 {
		// No applicable benefit: the record is dropped at assembly.
		return nil
	}

	results := make([]*engine.Context, len(selected))
	var runs errgroup.Group
	for i, sel := range selected {
		runs.Go(func() error {
			results[i] = o.chain.Run(engine.NewContext(sel.Terms(), in.rate.Amount))
			return nil
		})
	}
	_ = runs.Wait()

	// Worst case for the member wins; on a tie the earliest selected benefit.
	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].MemberPays.GreaterThan(results[best].MemberPays) {
			best = i
		}
	}

	return &outcome{
		provider:  p,
		rate:      in.rate,
		selected:  selected[best],
		result:    results[best],
		snapshots: snapshots(in.accums),
	}
}

// typedError coerces an upstream failure into the typed taxonomy, wrapping
// anything untyped as UpstreamUnavailable.
func typedError(err error, message string) *upstream.Error {
	var te *upstream.Error
	if errors.As(err, &te) {
		return te
	}
	return upstream.NewError(upstream.KindUpstreamUnavailable, message, "", err)
}

// benefitRequest builds the wire request for one provider.
func benefitRequest(req Request, p Provider) upstream.BenefitRequest {
	return upstream.BenefitRequest{
		BenefitProductType: req.BenefitProductType,
		MembershipID:       req.MembershipID,
		PlanIdentifier:     req.PlanIdentifier,
		ServiceInfo: []upstream.ServiceInfo{{
			ServiceCodeInfo: upstream.ServiceCodeInfo{
				Code:              req.Service.Code,
				Type:              req.Service.Type,
				ProviderType:      []string{p.ProviderType},
				PlaceOfService:    []string{req.Service.PlaceOfService},
				ProviderSpecialty: []string{p.SpecialtyCode},
			},
		}},
	}
}

// rateQuery builds the rate-store key for one provider.
func rateQuery(req Request, p Provider) rates.Query {
	return rates.Query{
		ServiceCode:    req.Service.Code,
		PlaceOfService: req.Service.PlaceOfService,
		ProviderID:     p.ProviderID,
		NetworkID:      p.NetworkID,
		SpecialtyCode:  p.SpecialtyCode,
	}
}

// snapshots captures the fetched accumulator state for the response.
func snapshots(accums *upstream.AccumulatorResponse) []AccumulatorSnapshot {
	if accums == nil {
		return nil
	}
	out := make([]AccumulatorSnapshot, 0, len(accums.Accumulators))
	for _, a := range accums.Accumulators {
		out = append(out, AccumulatorSnapshot{
			Code:      a.Code,
			Level:     a.Level,
			Limit:     a.Limit,
			Consumed:  a.Consumed,
			Remaining: a.Remaining,
		})
	}
	return out
}
