package upstream

import (
	"fmt"
	"net/http"
)

// StatusError captures a non-2xx HTTP status from an upstream response.
// The fetchers inspect it to decode typed errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// Kind classifies upstream failures. The orchestrator keys per-provider error
// records on it and the HTTP layer maps it to a status code.
type Kind string

const (
	KindMemberNotFound         Kind = "MemberNotFound"
	KindBenefitsNotFound       Kind = "BenefitsNotFound"
	KindAccumulatorUnavailable Kind = "AccumulatorUnavailable"
	KindRateNotFound           Kind = "RateNotFound"
	KindUnauthorized           Kind = "Unauthorized"
	KindUpstreamTimeout        Kind = "UpstreamTimeout"
	KindUpstreamUnavailable    Kind = "UpstreamUnavailable"
	KindConfigError            Kind = "ConfigError"
)

// Error is a typed upstream failure. Query carries a short summary of the
// request that failed so per-provider error records can echo it.
type Error struct {
	Kind    Kind
	Message string
	Query   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%s: %s (query %s)", e.Kind, e.Message, e.Query)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed Error.
func NewError(kind Kind, message, query string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Query: query, Cause: cause}
}

// HTTPStatus maps an error kind to the status returned for request-level
// failures in single-provider mode.
func HTTPStatus(k Kind) int {
	switch k {
	case KindMemberNotFound:
		return http.StatusNotFound
	case KindBenefitsNotFound, KindAccumulatorUnavailable, KindRateNotFound, KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
