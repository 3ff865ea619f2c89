// Package upstream contains the resilient HTTP client shared by the benefits
// and accumulators fetchers, plus the typed fetchers themselves.
//
// The recovery layers are strictly nested: circuit breaker wraps retry wraps
// 401-refresh wraps a single HTTP call. The 401 refresh is bounded at one per
// attempt and is not counted against the retry budget.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/benefitworks/costimator/internal/circuitbreaker"
	"github.com/benefitworks/costimator/internal/token"
)

// RetryConfig bounds the retry loop inside the client.
type RetryConfig struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// DefaultRetryConfig matches the documented policy: up to 3 attempts with
// exponential backoff bounded to [4s, 10s].
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffMin: 4 * time.Second, BackoffMax: 10 * time.Second}
}

// Client issues authenticated POST/GET calls to upstream services with
// retry, per-endpoint circuit breaking, and 401-driven token refresh.
type Client struct {
	http     *http.Client
	tokens   token.Source
	breakers *circuitbreaker.Registry
	retry    RetryConfig
	logger   *slog.Logger

	// ObserveLatency, when set, receives the duration of every HTTP exchange
	// together with the endpoint and the response status code. An exchange
	// that produced no response reports status "error".
	ObserveLatency func(endpoint, status string, elapsed time.Duration)
}

// NewClient builds a Client. breakers and logger may be nil, in which case a
// default registry and the default slog logger are used.
func NewClient(httpClient *http.Client, tokens token.Source, breakers *circuitbreaker.Registry, rc RetryConfig, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rc.MaxAttempts <= 0 {
		rc = DefaultRetryConfig()
	}
	return &Client{
		http:     httpClient,
		tokens:   tokens,
		breakers: breakers,
		retry:    rc,
		logger:   logger,
	}
}

// Call sends one request to the endpoint and returns the response body bytes.
// payload is JSON-encoded for POST and ignored for GET.
func (c *Client) Call(ctx context.Context, endpoint, method string, payload any) ([]byte, error) {
	br := c.breakers.For(endpoint)
	if !br.Allow() {
		return nil, NewError(KindUpstreamUnavailable, "circuit open", endpoint, nil)
	}

	var body []byte
	err := retry.Do(
		func() error {
			var callErr error
			body, callErr = c.callOnce(ctx, endpoint, method, payload)
			return callErr
		},
		retry.Attempts(uint(c.retry.MaxAttempts)),
		retry.Delay(c.retry.BackoffMin),
		retry.MaxDelay(c.retry.BackoffMax),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	if endpointHealthy(err) {
		br.RecordSuccess()
	} else {
		br.RecordFailure()
	}
	return body, err
}

// callOnce performs a single authenticated call. A 401 response clears the
// token cache and retries exactly once from a freshly obtained token; that
// retry does not consume the outer retry budget.
func (c *Client) callOnce(ctx context.Context, endpoint, method string, payload any) ([]byte, error) {
	tok, err := c.tokens.Bearer(ctx)
	if err != nil {
		return nil, NewError(KindUnauthorized, "token fetch failed", endpoint, err)
	}

	body, err := c.do(ctx, endpoint, method, payload, tok)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("upstream returned 401, refreshing token", slog.String("endpoint", endpoint))
		tok, rerr := c.tokens.Refresh(ctx)
		if rerr != nil {
			return nil, NewError(KindUnauthorized, "token refresh failed", endpoint, rerr)
		}
		return c.do(ctx, endpoint, method, payload, tok)
	}
	return body, err
}

// do performs the single HTTP exchange, attaching the bearer and id_token
// headers and recording an OTel client span.
func (c *Client) do(ctx context.Context, endpoint, method string, payload any, tok *token.Token) ([]byte, error) {
	ctx, span := otel.Tracer("costimator.upstream").Start(ctx, "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.url", endpoint),
			attribute.String("http.method", method),
		),
	)
	defer span.End()

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "marshal failed")
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if tok.IDToken != "" {
		req.Header.Set("id_token", tok.IDToken)
	}
	// Propagate W3C trace context (traceparent/tracestate) to the upstream.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observeLatency(endpoint, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.observeLatency(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return body, nil
}

func (c *Client) observeLatency(endpoint, status string, elapsed time.Duration) {
	if c.ObserveLatency != nil {
		c.ObserveLatency(endpoint, status, elapsed)
	}
}

// isRetryable reports whether the retry loop should try the call again.
// Retryable: transport errors, 5xx, 429. Not retryable: decoded typed errors
// and other 4xx.
func isRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything else is a transport-level failure.
	return true
}

// endpointHealthy decides how a completed call counts against the breaker.
// A 4xx other than 429 still proves the endpoint is up.
func endpointHealthy(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
