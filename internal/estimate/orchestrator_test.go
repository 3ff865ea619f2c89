package estimate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitworks/costimator/internal/engine"
	"github.com/benefitworks/costimator/internal/rates"
	"github.com/benefitworks/costimator/internal/token"
	"github.com/benefitworks/costimator/internal/upstream"
)

// stubBenefits keys canned responses by the provider specialty carried in the
// benefit request, so each test provider can get its own answer.
type stubBenefits struct {
	responses map[string]*upstream.BenefitResponse
	errs      map[string]error
}

func (s *stubBenefits) Fetch(_ context.Context, req upstream.BenefitRequest) (*upstream.BenefitResponse, error) {
	key := req.ServiceInfo[0].ServiceCodeInfo.ProviderSpecialty[0]
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	return s.responses[key], nil
}

type stubAccums struct {
	resp *upstream.AccumulatorResponse
	err  error
}

func (s *stubAccums) Fetch(context.Context, upstream.AccumulatorQuery) (*upstream.AccumulatorResponse, error) {
	return s.resp, s.err
}

type stubRates struct {
	byProvider map[string]rates.NegotiatedRate
}

func (s *stubRates) Lookup(_ context.Context, q rates.Query) (rates.NegotiatedRate, error) {
	return s.byProvider[q.ProviderID], nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amountRate(s string) rates.NegotiatedRate {
	return rates.NegotiatedRate{Amount: dec(s), Kind: rates.KindAmount, Found: true}
}

func benefitTree(code string, covs ...upstream.Coverage) *upstream.BenefitResponse {
	return &upstream.BenefitResponse{
		ServiceInfo: []upstream.ServiceBenefits{{
			Benefit: []upstream.Benefit{{
				NetworkCategory: "InNetwork",
				Tier:            "1",
				Code:            code,
				Coverages:       covs,
			}},
		}},
	}
}

func standardAccums() *upstream.AccumulatorResponse {
	return &upstream.AccumulatorResponse{Accumulators: []upstream.Accumulator{
		{Code: upstream.AccumDeductible, Level: upstream.LevelIndividual, Limit: dec("1500"), Consumed: dec("900"), Remaining: dec("600")},
		{Code: upstream.AccumOOP, Level: upstream.LevelIndividual, Limit: dec("5000"), Consumed: dec("2000"), Remaining: dec("3000")},
	}}
}

func provider(id, specialty string) Provider {
	return Provider{ProviderID: id, NetworkID: "N1", SpecialtyCode: specialty, ProviderType: "HO", ServiceLocation: "L1"}
}

func request(providers ...Provider) Request {
	return Request{
		MembershipID:       "M100",
		BenefitProductType: "Medical",
		Service:            Service{Code: "99213", Type: "CPT4", PlaceOfService: "11"},
		Providers:          providers,
	}
}

func newOrchestrator(b BenefitsSource, a AccumulatorsSource, r RateSource) *Orchestrator {
	return New(Deps{
		Benefits: b,
		Accums:   a,
		Rates:    r,
		Chain:    engine.MustNew(),
	})
}

func TestEstimate_CopayOnlyProvider(t *testing.T) {
	cov := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25")}
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{"207Q": benefitTree("B1", cov)}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 1)

	rec := resp.Providers[0]
	require.Nil(t, rec.Error)
	require.NotNil(t, rec.ClaimLine)
	assert.True(t, rec.ClaimLine.AmountResponsibility.Equal(dec("25")))
	assert.True(t, rec.ClaimLine.AmountCopay.Equal(dec("25")))
	assert.True(t, rec.ClaimLine.AmountPayable.Equal(dec("975")))
	assert.True(t, rec.ClaimLine.PercentResponsibility.Equal(dec("2.5")))
	assert.Equal(t, "AMOUNT", rec.Cost.Kind)
	assert.Len(t, rec.Accumulators, 2)
}

func TestEstimate_MiddleProviderErrorPreservesOrder(t *testing.T) {
	cov := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25")}
	o := newOrchestrator(
		&stubBenefits{
			responses: map[string]*upstream.BenefitResponse{
				"A": benefitTree("B1", cov),
				"C": benefitTree("B1", cov),
			},
			errs: map[string]error{
				"B": upstream.NewError(upstream.KindMemberNotFound, "member has no active coverage", "benefits member=M100", nil),
			},
		},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{
			"P1": amountRate("1000"), "P2": amountRate("1000"), "P3": amountRate("1000"),
		}},
	)

	resp, err := o.Estimate(context.Background(),
		request(provider("P1", "A"), provider("P2", "B"), provider("P3", "C")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 3)

	assert.Equal(t, "P1", resp.Providers[0].Provider.ProviderID)
	assert.Nil(t, resp.Providers[0].Error)

	assert.Equal(t, "P2", resp.Providers[1].Provider.ProviderID)
	require.NotNil(t, resp.Providers[1].Error)
	assert.Equal(t, "MemberNotFound", resp.Providers[1].Error.Code)
	assert.Nil(t, resp.Providers[1].ClaimLine)

	assert.Equal(t, "P3", resp.Providers[2].Provider.ProviderID)
	assert.Nil(t, resp.Providers[2].Error)
}

func TestEstimateSingle_PropagatesTypedError(t *testing.T) {
	o := newOrchestrator(
		&stubBenefits{errs: map[string]error{
			"207Q": upstream.NewError(upstream.KindMemberNotFound, "member has no active coverage", "benefits member=M100", nil),
		}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	_, err := o.EstimateSingle(context.Background(), request(provider("P1", "207Q")))
	require.Error(t, err)
	var te *upstream.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, upstream.KindMemberNotFound, te.Kind)
}

func TestEstimate_RateNotFound(t *testing.T) {
	cov := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25")}
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{"207Q": benefitTree("B1", cov)}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{
			"P1": {Amount: dec("80"), Kind: rates.KindPercentage, Found: true},
		}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 1)
	require.NotNil(t, resp.Providers[0].Error)
	assert.Equal(t, "RateNotFound", resp.Providers[0].Error.Code)
}

func TestEstimate_AccumulatorFailureSurfacesPerProvider(t *testing.T) {
	cov := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25")}
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{"207Q": benefitTree("B1", cov)}},
		&stubAccums{err: upstream.NewError(upstream.KindAccumulatorUnavailable, "accumulators lookup failed", "accumulators member=M100", nil)},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 1)
	require.NotNil(t, resp.Providers[0].Error)
	assert.Equal(t, "AccumulatorUnavailable", resp.Providers[0].Error.Code)
}

func TestEstimate_NoApplicableBenefitDropsRecord(t *testing.T) {
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{
			"207Q": {ServiceInfo: []upstream.ServiceBenefits{{}}},
		}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	assert.Empty(t, resp.Providers)
}

func TestEstimate_WorstCaseBenefitWins(t *testing.T) {
	cheap := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("10")}
	costly := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("40")}
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{
			"207Q": benefitTree("B1", cheap, costly),
		}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 1)
	assert.True(t, resp.Providers[0].ClaimLine.AmountResponsibility.Equal(dec("40")))
	assert.True(t, resp.Providers[0].Coverage.Copay.Equal(dec("40")))
}

func TestEstimate_TieBreaksToEarliestBenefit(t *testing.T) {
	first := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25")}
	second := upstream.Coverage{IsServiceCovered: true, CostShareCopay: dec("25"), CostShareCoinsurance: dec("0")}
	o := newOrchestrator(
		&stubBenefits{responses: map[string]*upstream.BenefitResponse{
			"207Q": benefitTree("B1", first, second),
		}},
		&stubAccums{resp: standardAccums()},
		&stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
	)

	resp, err := o.Estimate(context.Background(), request(provider("P1", "207Q")))
	require.NoError(t, err)
	require.Len(t, resp.Providers, 1)
	// Both coverages yield the same member share; the first one is reported.
	assert.Nil(t, resp.Providers[0].Error)
	assert.True(t, resp.Providers[0].Coverage.Copay.Equal(dec("25")))
}

// staticTokens is a token.Source that always answers immediately.
type staticTokens struct{}

func (staticTokens) Bearer(context.Context) (*token.Token, error) {
	return &token.Token{AccessToken: "t"}, nil
}

func (staticTokens) Refresh(context.Context) (*token.Token, error) {
	return &token.Token{AccessToken: "t"}, nil
}

func TestEstimate_DeadlineYieldsPerProviderTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte(`{"serviceInfo":[]}`))
	}))
	defer slow.Close()

	client := upstream.NewClient(slow.Client(), staticTokens{}, nil,
		upstream.RetryConfig{MaxAttempts: 1, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}, nil)
	o := New(Deps{
		Benefits: upstream.NewBenefitsFetcher(client, slow.URL),
		Accums:   &stubAccums{resp: standardAccums()},
		Rates:    &stubRates{byProvider: map[string]rates.NegotiatedRate{"P1": amountRate("1000")}},
		Chain:    engine.MustNew(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := o.Estimate(ctx, request(provider("P1", "207Q")))
	require.NoError(t, err)

	// The deadline must cut the benefits call short, not wait out the
	// 2s upstream.
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, resp.Providers, 1)
	rec := resp.Providers[0]
	require.NotNil(t, rec.Error)
	assert.Equal(t, "UpstreamTimeout", rec.Error.Code)
	assert.Nil(t, rec.ClaimLine)
}

func TestEstimate_RejectsInvalidRequest(t *testing.T) {
	o := newOrchestrator(&stubBenefits{}, &stubAccums{}, &stubRates{})

	_, err := o.Estimate(context.Background(), Request{MembershipID: "M100"})
	require.Error(t, err)
}
