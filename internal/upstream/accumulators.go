package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// AccumulatorsFetcher is the typed wrapper over Client for the accumulators
// service. The member identifier travels in the URL; the call is a GET.
type AccumulatorsFetcher struct {
	client *Client
	url    string
}

// NewAccumulatorsFetcher builds a fetcher for the given accumulators endpoint.
func NewAccumulatorsFetcher(client *Client, url string) *AccumulatorsFetcher {
	return &AccumulatorsFetcher{client: client, url: url}
}

// Fetch GETs the member's accumulator balances. Remaining values are
// normalized to max(0, limit-consumed) so downstream math never sees a
// negative balance.
func (f *AccumulatorsFetcher) Fetch(ctx context.Context, q AccumulatorQuery) (*AccumulatorResponse, error) {
	endpoint := f.url + "/" + url.PathEscape(q.MembershipID)
	if q.PlanIdentifier != "" {
		endpoint += "?plan=" + url.QueryEscape(q.PlanIdentifier)
	}

	raw, err := f.client.Call(ctx, endpoint, http.MethodGet, nil)
	if err != nil {
		return nil, decodeAccumulatorsError(err, q.Summary())
	}

	var resp AccumulatorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(KindAccumulatorUnavailable, "undecodable accumulators response", q.Summary(), err)
	}

	for i := range resp.Accumulators {
		a := &resp.Accumulators[i]
		remaining := a.Limit.Sub(a.Consumed)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		a.Remaining = remaining
	}
	return &resp, nil
}

func decodeAccumulatorsError(err error, query string) error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToUpper(se.Body), memberNotFoundMarker) {
			return NewError(KindMemberNotFound, "member has no active coverage", query, se)
		}
		return NewError(KindAccumulatorUnavailable, "accumulators lookup failed", query, se)
	}
	if IsTimeout(err) {
		return NewError(KindUpstreamTimeout, "accumulators call timed out", query, err)
	}
	return NewError(KindAccumulatorUnavailable, "accumulators service unreachable", query, err)
}
