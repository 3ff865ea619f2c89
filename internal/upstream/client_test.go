package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitworks/costimator/internal/circuitbreaker"
	"github.com/benefitworks/costimator/internal/token"
)

// stubSource is a token.Source with counted refreshes.
type stubSource struct {
	bearers   atomic.Int64
	refreshes atomic.Int64
	refreshed atomic.Bool
}

func (s *stubSource) Bearer(context.Context) (*token.Token, error) {
	s.bearers.Add(1)
	if s.refreshed.Load() {
		return &token.Token{AccessToken: "fresh", IDToken: "fresh-id"}, nil
	}
	return &token.Token{AccessToken: "stale", IDToken: "stale-id"}, nil
}

func (s *stubSource) Refresh(context.Context) (*token.Token, error) {
	s.refreshes.Add(1)
	s.refreshed.Store(true)
	return &token.Token{AccessToken: "fresh", IDToken: "fresh-id"}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond}
}

func TestCall_AttachesAuthHeaders(t *testing.T) {
	var gotAuth, gotIDToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIDToken = r.Header.Get("id_token")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &stubSource{}, nil, fastRetry(), nil)
	_, err := c.Call(context.Background(), srv.URL, http.MethodPost, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer stale", gotAuth)
	assert.Equal(t, "stale-id", gotIDToken)
}

func TestCall_RefreshesOnceOn401(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	src := &stubSource{}
	c := NewClient(srv.Client(), src, nil, fastRetry(), nil)
	body, err := c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	// One 401, one refresh, one replay. No outer retries consumed.
	assert.EqualValues(t, 1, src.refreshes.Load())
	assert.EqualValues(t, 2, hits.Load())
}

func TestCall_RetriesOn5xx(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &stubSource{}, nil, fastRetry(), nil)
	_, err := c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestCall_DoesNotRetry4xx(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &stubSource{}, nil, fastRetry(), nil)
	_, err := c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCall_ObservesLatencyPerExchange(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	type exchange struct {
		endpoint string
		status   string
	}
	var seen []exchange
	c := NewClient(srv.Client(), &stubSource{}, nil, fastRetry(), nil)
	c.ObserveLatency = func(endpoint, status string, elapsed time.Duration) {
		seen = append(seen, exchange{endpoint, status})
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	}

	_, err := c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	require.NoError(t, err)

	// One observation per HTTP exchange: the failed first attempt and the
	// successful retry.
	require.Len(t, seen, 2)
	assert.Equal(t, exchange{srv.URL, "500"}, seen[0])
	assert.Equal(t, exchange{srv.URL, "200"}, seen[1])
}

func TestCall_BreakerOpensAndFailsFast(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.WithThreshold(1), circuitbreaker.WithCooldown(time.Hour))
	c := NewClient(srv.Client(), &stubSource{}, breakers, fastRetry(), nil)

	_, err := c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	require.Error(t, err)
	before := hits.Load()

	// Breaker is now open: the next call must not reach the server.
	_, err = c.Call(context.Background(), srv.URL, http.MethodPost, nil)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindUpstreamUnavailable, te.Kind)
	assert.Equal(t, before, hits.Load())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&StatusError{StatusCode: 500}))
	assert.True(t, isRetryable(&StatusError{StatusCode: 429}))
	assert.True(t, isRetryable(errors.New("connection reset")))
	assert.False(t, isRetryable(&StatusError{StatusCode: 400}))
	assert.False(t, isRetryable(&StatusError{StatusCode: 404}))
	assert.False(t, isRetryable(NewError(KindMemberNotFound, "gone", "", nil)))
	assert.False(t, isRetryable(context.Canceled))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindMemberNotFound))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindBenefitsNotFound))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(KindUpstreamTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindConfigError))
}
