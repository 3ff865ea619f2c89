package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// memberNotFoundMarker is the body substring (case-insensitive) the benefits
// service returns with a 400 when the member has no active coverage.
const memberNotFoundMarker = "ACTIVE MEMBER COVERAGE NOT FOUND"

// BenefitsFetcher is the typed wrapper over Client for the benefits service.
type BenefitsFetcher struct {
	client *Client
	url    string
}

// NewBenefitsFetcher builds a fetcher for the given benefits endpoint.
func NewBenefitsFetcher(client *Client, url string) *BenefitsFetcher {
	return &BenefitsFetcher{client: client, url: url}
}

// Fetch POSTs the benefit request and decodes the response. All failures come
// back as typed *Error values so multi-provider callers can fold them into
// per-provider records instead of failing the whole request.
func (f *BenefitsFetcher) Fetch(ctx context.Context, req BenefitRequest) (*BenefitResponse, error) {
	raw, err := f.client.Call(ctx, f.url, http.MethodPost, req)
	if err != nil {
		return nil, decodeBenefitsError(err, req.Summary())
	}

	var resp BenefitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// A response we cannot decode is treated the same as a missing one.
		return nil, NewError(KindBenefitsNotFound, "undecodable benefits response", req.Summary(), err)
	}
	return &resp, nil
}

// decodeBenefitsError folds a transport or status failure into the typed
// taxonomy:
//
//	400 + "ACTIVE MEMBER COVERAGE NOT FOUND" -> MemberNotFound
//	other 400, 500                           -> BenefitsNotFound
//	deadline/transport timeout               -> UpstreamTimeout
func decodeBenefitsError(err error, query string) error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToUpper(se.Body), memberNotFoundMarker):
			return NewError(KindMemberNotFound, "member has no active coverage", query, se)
		case se.StatusCode == http.StatusBadRequest, se.StatusCode >= 500:
			return NewError(KindBenefitsNotFound, "benefits lookup failed", query, se)
		case se.StatusCode == http.StatusUnauthorized:
			return NewError(KindUnauthorized, "benefits call unauthorized after refresh", query, se)
		default:
			return NewError(KindBenefitsNotFound, "unexpected benefits status", query, se)
		}
	}
	if IsTimeout(err) {
		return NewError(KindUpstreamTimeout, "benefits call timed out", query, err)
	}
	return NewError(KindUpstreamUnavailable, "benefits service unreachable", query, err)
}
